package domain

import "time"

// Transcript is the archived record of an ended debate.
type Transcript struct {
	ID           string       `json:"id"`
	Topic        string       `json:"topic"`
	Participants Participants `json:"participants"`
	Rounds       int          `json:"rounds"`
	MaxRounds    int          `json:"max_rounds"`
	Messages     []Message    `json:"messages"`
	CreatedAt    time.Time    `json:"created_at"`
}

// TranscriptSummary is a transcript without its messages.
type TranscriptSummary struct {
	ID           string       `json:"id"`
	Topic        string       `json:"topic"`
	Participants Participants `json:"participants"`
	Rounds       int          `json:"rounds"`
	MessageCount int          `json:"message_count"`
	CreatedAt    time.Time    `json:"created_at"`
}

// NewTranscript records sess under id. Message content is taken from the
// reveal target so that text still being typed is archived in full.
func NewTranscript(id string, sess Session, at time.Time) *Transcript {
	messages := make([]Message, len(sess.Messages))
	for i, msg := range sess.Messages {
		if msg.RevealTarget != "" {
			msg.Content = msg.RevealTarget
		}
		messages[i] = msg
	}
	return &Transcript{
		ID:           id,
		Topic:        sess.Topic,
		Participants: sess.Participants,
		Rounds:       sess.Round,
		MaxRounds:    sess.MaxRounds,
		Messages:     messages,
		CreatedAt:    at,
	}
}

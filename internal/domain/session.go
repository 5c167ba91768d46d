// Package domain contains core domain types for the Emperor Arena debate client.
package domain

import (
	"time"
)

// Status is the lifecycle state of a debate session. Exactly one status
// holds at a time.
type Status string

const (
	// StatusIdle is the initial state and the state after a reset.
	StatusIdle Status = "idle"
	// StatusLoading means a stream is being opened or a continuation is in flight.
	StatusLoading Status = "loading"
	// StatusActive means the stream is open and events are flowing.
	StatusActive Status = "active"
	// StatusPaused means the backend asked for confirmation before the next round.
	StatusPaused Status = "paused"
	// StatusEnded means the debate reached its end.
	StatusEnded Status = "ended"
	// StatusFailed means a connection or backend error terminated the session.
	StatusFailed Status = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusLoading, StatusActive, StatusPaused, StatusEnded, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status only leaves through a reset
// (or, for ended, a fresh start).
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusFailed
}

// DefaultMaxRounds is the round budget of a new session.
const DefaultMaxRounds = 5

// Participants holds the character selected for each seat.
type Participants struct {
	Proposer   string `json:"proposer"`
	Challenger string `json:"challenger"`
	Arbitrator string `json:"arbitrator"`
}

// Complete reports whether every seat has a character.
func (p Participants) Complete() bool {
	return p.Proposer != "" && p.Challenger != "" && p.Arbitrator != ""
}

// ErrorInfo is the presentable record of the last error.
type ErrorInfo struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Session is the full state of one debate interaction.
type Session struct {
	Topic          string       `json:"topic"`
	Participants   Participants `json:"participants"`
	Round          int          `json:"round"`
	MaxRounds      int          `json:"max_rounds"`
	Status         Status       `json:"status"`
	LastError      *ErrorInfo   `json:"last_error,omitempty"`
	Notice         string       `json:"notice,omitempty"`
	RoundFallbacks int          `json:"round_fallbacks,omitempty"`
	Messages       []Message    `json:"messages"`
}

// NewSession returns an idle session with the default round budget.
func NewSession() Session {
	return Session{
		MaxRounds: DefaultMaxRounds,
		Status:    StatusIdle,
		Messages:  []Message{},
	}
}

// RoundLimitReached reports whether no further round may be started.
func (s Session) RoundLimitReached() bool {
	return s.Round >= s.MaxRounds
}

// CanStart reports whether a start request would be accepted by the
// lifecycle. It does not check the topic or participants.
func (s Session) CanStart() bool {
	switch s.Status {
	case StatusPaused, StatusFailed:
		return false
	default:
		return !s.RoundLimitReached()
	}
}

// CanContinue reports whether the session is waiting for a continuation.
func (s Session) CanContinue() bool {
	return s.Status == StatusPaused
}

// CanReset reports whether offering a reset makes sense to the user.
func (s Session) CanReset() bool {
	switch s.Status {
	case StatusPaused, StatusEnded, StatusFailed:
		return true
	default:
		return s.Round > 0
	}
}

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	out := s
	if s.LastError != nil {
		info := *s.LastError
		out.LastError = &info
	}
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return out
}

// FindMessage returns the index of the message with the given key, or -1.
func (s Session) FindMessage(key MessageKey) int {
	for i := range s.Messages {
		if s.Messages[i].Key() == key {
			return i
		}
	}
	return -1
}

package debate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ashureev/emperor-arena/internal/domain"
)

// EventType is the "type" field of a stream event.
type EventType string

const (
	EventError     EventType = "error"
	EventConnected EventType = "connected"
	EventPause     EventType = "pause"
	EventRoundEnd  EventType = "round_end"
	EventDebateEnd EventType = "debate_end"
	EventProposal  EventType = "proposal"
	EventChallenge EventType = "challenge"
	EventJudgement EventType = "judgement"
)

// DoneSentinel is the literal payload that terminates the transport stream.
const DoneSentinel = "[DONE]"

// IsContent reports whether the event carries a participant statement.
func (t EventType) IsContent() bool {
	return domain.Kind(t).Valid()
}

// Event is one decoded stream payload.
type Event struct {
	Type    EventType       `json:"type"`
	Role    string          `json:"role,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// ParseEvent decodes a JSON event payload.
func ParseEvent(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

// Text returns the content as plain text. String content is unquoted;
// any other JSON value is returned verbatim.
func (e Event) Text() string {
	raw := bytes.TrimSpace(e.Content)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

// RoundProgress is the payload of a round_end event.
type RoundProgress struct {
	Current int    `json:"current_round"`
	Total   int    `json:"total_rounds"`
	Message string `json:"message,omitempty"`
}

var errNoRoundPayload = errors.New("round_end without round payload")

// RoundProgress decodes the round_end payload. The content may be an
// object or a string holding the JSON-encoded object.
func (e Event) RoundProgress() (*RoundProgress, error) {
	raw := bytes.TrimSpace(e.Content)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, errNoRoundPayload
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("decode round payload: %w", err)
		}
		raw = []byte(inner)
	}

	var wire struct {
		Current *int   `json:"current_round"`
		Total   *int   `json:"total_rounds"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode round payload: %w", err)
	}
	if wire.Current == nil || *wire.Current < 0 {
		return nil, fmt.Errorf("round payload without valid current_round: %s", raw)
	}
	progress := &RoundProgress{Current: *wire.Current, Message: wire.Message}
	if wire.Total != nil {
		if *wire.Total <= 0 {
			return nil, fmt.Errorf("round payload with non-positive total_rounds: %d", *wire.Total)
		}
		progress.Total = *wire.Total
	}
	return progress, nil
}

// resolveRole maps the event's role to a seat. The backend may send the
// character name instead of the seat; the event type then decides.
func (e Event) resolveRole() domain.Role {
	if role := domain.Role(e.Role); role.Valid() {
		return role
	}
	return domain.Kind(e.Type).Role()
}

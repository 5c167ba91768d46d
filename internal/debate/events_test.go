package debate

import (
	"testing"

	"github.com/ashureev/emperor-arena/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type":"proposal","role":"proposer","content":"Centralization enables..."}`))
	require.NoError(t, err)
	require.Equal(t, EventProposal, ev.Type)
	require.Equal(t, "Centralization enables...", ev.Text())
	require.True(t, ev.Type.IsContent())

	_, err = ParseEvent([]byte("not-json"))
	require.Error(t, err)
}

func TestEventText(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"string", `{"type":"pause","content":"awaiting resumption"}`, "awaiting resumption"},
		{"missing", `{"type":"pause"}`, ""},
		{"null", `{"type":"pause","content":null}`, ""},
		{"object", `{"type":"connected","content":{"a":1}}`, `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseEvent([]byte(tt.payload))
			require.NoError(t, err)
			require.Equal(t, tt.want, ev.Text())
		})
	}
}

func TestRoundProgress(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    *RoundProgress
		wantErr bool
	}{
		{
			name:    "object",
			payload: `{"type":"round_end","content":{"current_round":1,"total_rounds":5}}`,
			want:    &RoundProgress{Current: 1, Total: 5},
		},
		{
			name:    "double encoded",
			payload: `{"type":"round_end","content":"{\"message\":\"第1轮结束\",\"current_round\":2,\"total_rounds\":3}"}`,
			want:    &RoundProgress{Current: 2, Total: 3, Message: "第1轮结束"},
		},
		{
			name:    "without total",
			payload: `{"type":"round_end","content":{"current_round":2}}`,
			want:    &RoundProgress{Current: 2},
		},
		{name: "missing content", payload: `{"type":"round_end"}`, wantErr: true},
		{name: "plain text", payload: `{"type":"round_end","content":"round over"}`, wantErr: true},
		{name: "missing current", payload: `{"type":"round_end","content":{"total_rounds":5}}`, wantErr: true},
		{name: "negative current", payload: `{"type":"round_end","content":{"current_round":-1}}`, wantErr: true},
		{name: "zero total", payload: `{"type":"round_end","content":{"current_round":1,"total_rounds":0}}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseEvent([]byte(tt.payload))
			require.NoError(t, err)
			got, err := ev.RoundProgress()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestResolveRole(t *testing.T) {
	require.Equal(t, domain.RoleChallenger, Event{Type: EventChallenge, Role: "challenger"}.resolveRole())
	// The backend may put the character name in the role field.
	require.Equal(t, domain.RoleArbitrator, Event{Type: EventJudgement, Role: "唐太宗"}.resolveRole())
	require.Equal(t, domain.RoleProposer, Event{Type: EventProposal}.resolveRole())
}

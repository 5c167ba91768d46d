package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSessionFlags(t *testing.T) {
	tests := []struct {
		name        string
		session     Session
		canStart    bool
		canContinue bool
		canReset    bool
	}{
		{"fresh", NewSession(), true, false, false},
		{"paused", Session{Status: StatusPaused, Round: 1, MaxRounds: 5}, false, true, true},
		{"ended with rounds left", Session{Status: StatusEnded, Round: 2, MaxRounds: 5}, true, false, true},
		{"ended at limit", Session{Status: StatusEnded, Round: 5, MaxRounds: 5}, false, false, true},
		{"failed", Session{Status: StatusFailed, MaxRounds: 5}, false, false, true},
		{"active mid debate", Session{Status: StatusActive, Round: 1, MaxRounds: 5}, true, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.canStart, tt.session.CanStart())
			require.Equal(t, tt.canContinue, tt.session.CanContinue())
			require.Equal(t, tt.canReset, tt.session.CanReset())
		})
	}
}

func TestSessionCloneIsDeep(t *testing.T) {
	s := NewSession()
	s.LastError = &ErrorInfo{Kind: "validation", Message: "missing topic"}
	s.Messages = append(s.Messages, Message{Round: 1, Role: RoleProposer, Content: "a"})

	c := s.Clone()
	c.Messages[0].Content = "changed"
	c.LastError.Message = "changed"

	require.Equal(t, "a", s.Messages[0].Content)
	require.Equal(t, "missing topic", s.LastError.Message)
}

func TestKindRole(t *testing.T) {
	require.Equal(t, RoleProposer, KindProposal.Role())
	require.Equal(t, RoleChallenger, KindChallenge.Role())
	require.Equal(t, RoleArbitrator, KindJudgement.Role())
	require.False(t, Kind("verdict").Valid())
	require.False(t, Role("秦始皇").Valid())
}

func TestFindMessage(t *testing.T) {
	s := NewSession()
	s.Messages = []Message{
		{Round: 1, Role: RoleProposer},
		{Round: 1, Role: RoleChallenger},
	}
	require.Equal(t, 1, s.FindMessage(MessageKey{Round: 1, Role: RoleChallenger}))
	require.Equal(t, -1, s.FindMessage(MessageKey{Round: 2, Role: RoleChallenger}))
}

func TestSessionFlagsOnReturnedValue(t *testing.T) {
	snapshot := func() Session { return NewSession() }

	require.True(t, snapshot().CanStart())
	require.False(t, snapshot().CanContinue())
	require.False(t, snapshot().RoundLimitReached())
	require.Equal(t, -1, snapshot().FindMessage(MessageKey{Round: 1, Role: RoleProposer}))
}

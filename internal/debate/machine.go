package debate

import (
	"log/slog"
	"slices"

	"github.com/ashureev/emperor-arena/internal/clock"
	"github.com/ashureev/emperor-arena/internal/domain"
)

// transitions lists, for each status, the statuses it may move to.
// Reset (any -> idle) is handled separately.
var transitions = map[domain.Status][]domain.Status{
	domain.StatusIdle:    {domain.StatusLoading},
	domain.StatusLoading: {domain.StatusLoading, domain.StatusActive, domain.StatusPaused, domain.StatusEnded, domain.StatusFailed},
	domain.StatusActive:  {domain.StatusLoading, domain.StatusPaused, domain.StatusEnded, domain.StatusFailed},
	domain.StatusPaused:  {domain.StatusLoading, domain.StatusEnded, domain.StatusFailed},
	domain.StatusEnded:   {domain.StatusLoading},
	domain.StatusFailed:  {},
}

// CanTransition reports whether the lifecycle allows from -> to.
func CanTransition(from, to domain.Status) bool {
	if to == domain.StatusIdle {
		return true
	}
	return slices.Contains(transitions[from], to)
}

// Machine validates and executes lifecycle transitions on the store. It
// has no network knowledge.
type Machine struct {
	store  *Store
	clock  clock.Clock
	logger *slog.Logger
}

// NewMachine creates a state machine over store.
func NewMachine(store *Store, clk clock.Clock, logger *slog.Logger) *Machine {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{store: store, clock: clk, logger: logger}
}

// Status returns the current status.
func (m *Machine) Status() domain.Status {
	return m.store.Snapshot().Status
}

func (m *Machine) transition(op string, to domain.Status, allowed ...domain.Status) error {
	from := m.Status()
	if len(allowed) > 0 && !slices.Contains(allowed, from) {
		return stateError(from, op)
	}
	if !CanTransition(from, to) {
		return stateError(from, op)
	}
	if from != to {
		m.logger.Debug("Session transition", "op", op, "from", from, "to", to)
	}
	m.store.SetStatus(to)
	return nil
}

var beginFrom = []domain.Status{domain.StatusIdle, domain.StatusEnded, domain.StatusLoading, domain.StatusActive}

// CheckBegin reports whether Begin would be accepted, without mutating.
func (m *Machine) CheckBegin() error {
	if from := m.Status(); !slices.Contains(beginFrom, from) {
		return stateError(from, "start")
	}
	return nil
}

// Begin moves the session into loading for a new stream. It is rejected
// while paused (use continuation) or failed (reset first).
func (m *Machine) Begin() error {
	return m.transition("start", domain.StatusLoading, beginFrom...)
}

// OnOpen records that the stream acknowledged the connection.
func (m *Machine) OnOpen() error {
	return m.transition("open", domain.StatusActive, domain.StatusLoading)
}

// OnPause moves the session to paused; the user may continue.
func (m *Machine) OnPause(notice string) error {
	if err := m.transition("pause", domain.StatusPaused, domain.StatusLoading, domain.StatusActive); err != nil {
		return err
	}
	m.store.SetNotice(notice)
	return nil
}

// OnRoundEnd updates the round counters. A missing or malformed payload
// falls back to incrementing the round by one; that diverges from the
// backend's own count and is logged as degraded.
func (m *Machine) OnRoundEnd(ev Event) error {
	switch status := m.Status(); status {
	case domain.StatusLoading:
		if err := m.transition("round_end", domain.StatusActive, domain.StatusLoading); err != nil {
			return err
		}
	case domain.StatusActive:
	default:
		return stateError(status, "round_end")
	}

	progress, err := ev.RoundProgress()
	if err != nil {
		m.logger.Warn("Degraded round_end payload, incrementing round", "error", err)
		m.store.AdvanceRound(nil)
		return nil
	}
	m.store.AdvanceRound(progress)
	if progress.Message != "" {
		m.store.SetNotice(progress.Message)
	}
	return nil
}

// OnDebateEnd ends the debate and marks the final round as consumed.
func (m *Machine) OnDebateEnd(notice string) error {
	if err := m.transition("debate_end", domain.StatusEnded,
		domain.StatusLoading, domain.StatusActive, domain.StatusPaused); err != nil {
		return err
	}
	m.store.bumpFinalRound()
	m.store.SetNotice(notice)
	return nil
}

// Fail moves a live session to failed and records err.
func (m *Machine) Fail(err *Error) error {
	if terr := m.transition("fail", domain.StatusFailed,
		domain.StatusLoading, domain.StatusActive, domain.StatusPaused); terr != nil {
		return terr
	}
	m.store.SetError(err.Info(m.clock.Now()))
	return nil
}

// BeginContinue moves a paused session into loading while the
// continuation request is in flight.
func (m *Machine) BeginContinue() error {
	return m.transition("continue", domain.StatusLoading, domain.StatusPaused)
}

// RevertContinue returns to paused after a failed continuation.
func (m *Machine) RevertContinue() error {
	return m.transition("continue", domain.StatusPaused, domain.StatusLoading)
}

// EndAtLimit ends a paused session whose round budget is exhausted.
func (m *Machine) EndAtLimit() error {
	return m.transition("continue", domain.StatusEnded, domain.StatusPaused)
}

// Reset returns the session to idle from any state.
func (m *Machine) Reset() {
	m.store.Reset()
}

package debate

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/emperor-arena/internal/clock"
	"github.com/ashureev/emperor-arena/internal/domain"
)

// Config holds the controller settings.
type Config struct {
	BackendURL      string
	ConnectTimeout  time.Duration
	ContinueTimeout time.Duration
	TypingInterval  time.Duration
	MaxRounds       int
	// Rounds is forwarded to the backend when positive.
	Rounds     int
	HTTPClient *http.Client
	Clock      clock.Clock
	Logger     *slog.Logger
}

// Controller drives one debate session. Commands, stream events and
// timeouts all run under its lock, one at a time.
type Controller struct {
	mu sync.Mutex

	store   *Store
	machine *Machine
	typist  *Typist
	stream  *StreamConsumer
	clock   clock.Clock
	logger  *slog.Logger

	// continueSeq identifies the in-flight continuation; Start and Reset
	// bump it so a late continuation result is dropped.
	continueSeq    uint64
	cancelContinue context.CancelFunc

	onEnded func(domain.Session)
}

// NewController creates a controller with an idle session.
func NewController(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	store := NewStore(cfg.MaxRounds)
	return &Controller{
		store:   store,
		machine: NewMachine(store, cfg.Clock, cfg.Logger),
		typist:  NewTypist(store, cfg.Clock, cfg.TypingInterval, cfg.Logger),
		stream: NewStreamConsumer(StreamConfig{
			BaseURL:         cfg.BackendURL,
			ConnectTimeout:  cfg.ConnectTimeout,
			ContinueTimeout: cfg.ContinueTimeout,
			Rounds:          cfg.Rounds,
			HTTPClient:      cfg.HTTPClient,
			Clock:           cfg.Clock,
			Logger:          cfg.Logger,
		}),
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}
}

// Snapshot returns a copy of the session.
func (c *Controller) Snapshot() domain.Session { return c.store.Snapshot() }

// OnChange registers fn to receive every session snapshot.
func (c *Controller) OnChange(fn func(domain.Session)) { c.store.OnChange(fn) }

// OnEnded registers fn to receive the session, with full message text,
// each time it reaches ended. fn runs outside the controller lock.
func (c *Controller) OnEnded(fn func(domain.Session)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEnded = fn
}

// SetTopic records the debate topic.
func (c *Controller) SetTopic(topic string) {
	c.store.SetTopic(topic)
}

// SetParticipants records the character for each seat.
func (c *Controller) SetParticipants(p domain.Participants) {
	c.store.SetParticipants(p)
}

// SetMaxRounds sets the round budget. A running session keeps a budget
// that would fall below its current round until the next reset.
func (c *Controller) SetMaxRounds(n int) {
	c.store.SetMaxRounds(n)
}

func (c *Controller) params(sess domain.Session) StreamParams {
	return StreamParams{Topic: sess.Topic, Participants: sess.Participants}
}

// recordLocked stores err as the session's last error and returns it.
func (c *Controller) recordLocked(err *Error) *Error {
	c.store.SetError(err.Info(c.clock.Now()))
	return err
}

// Start opens a new debate stream. A live stream is replaced.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess := c.store.Snapshot()
	if sess.RoundLimitReached() {
		c.logger.Info("Start rejected: round limit reached", "round", sess.Round, "max_rounds", sess.MaxRounds)
		return c.recordLocked(validationError(fmt.Errorf("%w (%d of %d)", ErrRoundLimit, sess.Round, sess.MaxRounds)))
	}
	if err := c.machine.CheckBegin(); err != nil {
		c.logger.Debug("Start ignored", "status", sess.Status)
		return err
	}
	if sess.Topic == "" {
		return c.recordLocked(validationError(ErrMissingTopic))
	}
	if !sess.Participants.Complete() {
		return c.recordLocked(validationError(ErrMissingParticipants))
	}

	c.abandonContinueLocked()
	if err := c.machine.Begin(); err != nil {
		return err
	}
	c.store.SetError(nil)
	c.openLocked(sess)
	return nil
}

func (c *Controller) openLocked(sess domain.Session) {
	conn := c.stream.Open(c.params(sess), controllerSink{c})
	c.logger.Info("Debate stream requested",
		"conn_id", conn.ID,
		"topic", sess.Topic,
		"round", sess.Round,
		"max_rounds", sess.MaxRounds,
	)
}

// Continue resumes a paused debate. The lock is released while the
// continuation request is in flight; a Reset or Start during that time
// wins and the result is discarded.
func (c *Controller) Continue(ctx context.Context) error {
	c.mu.Lock()
	sess := c.store.Snapshot()
	if sess.Status != domain.StatusPaused {
		c.mu.Unlock()
		c.logger.Debug("Continue ignored", "status", sess.Status)
		return stateError(sess.Status, "continue")
	}
	if sess.RoundLimitReached() {
		err := validationError(fmt.Errorf("%w (%d of %d)", ErrRoundLimit, sess.Round, sess.MaxRounds))
		if terr := c.machine.EndAtLimit(); terr != nil {
			c.mu.Unlock()
			return terr
		}
		c.recordLocked(err)
		ended := c.endedLocked()
		c.mu.Unlock()
		c.logger.Info("Debate ended at round limit", "round", sess.Round)
		notifyEnded(ended)
		return err
	}
	if err := c.machine.BeginContinue(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.abandonContinueLocked()
	seq := c.continueSeq
	ctx, cancel := context.WithCancel(ctx)
	c.cancelContinue = cancel
	c.mu.Unlock()

	c.logger.Info("Continuing debate", "topic", sess.Topic, "round", sess.Round)
	reqErr := c.stream.Continue(ctx, c.params(sess))
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.continueSeq != seq {
		c.logger.Debug("Continuation superseded", "error", reqErr)
		return stateError(c.machine.Status(), "continue")
	}
	c.cancelContinue = nil

	if reqErr != nil {
		c.logger.Warn("Continuation request failed", "error", reqErr)
		if terr := c.machine.RevertContinue(); terr != nil {
			return terr
		}
		return c.recordLocked(connectionError(fmt.Errorf("continue debate: %w", reqErr)))
	}
	c.store.SetError(nil)
	c.openLocked(c.store.Snapshot())
	return nil
}

// abandonContinueLocked drops any in-flight continuation.
func (c *Controller) abandonContinueLocked() {
	if c.cancelContinue != nil {
		c.cancelContinue()
		c.cancelContinue = nil
	}
	c.continueSeq++
}

// Reset closes the connection, cancels every reveal and returns the
// session to idle. Topic and participants are kept.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.abandonContinueLocked()
	c.stream.Close()
	c.typist.CancelAll()
	c.machine.Reset()
	c.logger.Info("Session reset")
}

// Close releases the connection and timers. The controller stays usable.
func (c *Controller) Close() {
	c.Reset()
}

func (c *Controller) isCurrent(conn *Connection) bool {
	return c.stream.Current() == conn && !conn.Closed()
}

// endedLocked captures the ended session, with full message text, for
// the OnEnded hook. The returned func must be called without the lock.
func (c *Controller) endedLocked() func() {
	fn := c.onEnded
	if fn == nil {
		return nil
	}
	sess := c.store.Snapshot()
	sess.Messages = c.store.Transcript()
	return func() { fn(sess) }
}

func notifyEnded(notify func()) {
	if notify != nil {
		notify()
	}
}

// failLocked closes conn and records err. Only the first failure of an
// episode is recorded.
func (c *Controller) failLocked(conn *Connection, err *Error) {
	conn.Close()
	c.logger.Warn("Debate stream failed", "conn_id", conn.ID, "kind", err.Kind, "error", err.Message)
	if terr := c.machine.Fail(err); terr != nil {
		c.recordLocked(err)
	}
}

func (c *Controller) handleFrameLocked(conn *Connection, payload string) (ended func()) {
	if strings.TrimSpace(payload) == DoneSentinel {
		c.logger.Debug("Debate stream done", "conn_id", conn.ID)
		conn.Close()
		return nil
	}

	ev, err := ParseEvent([]byte(payload))
	if err != nil {
		perr := protocolError(err)
		c.logger.Warn("Discarding malformed event", "conn_id", conn.ID, "error", err)
		c.recordLocked(perr)
		return nil
	}

	switch {
	case ev.Type == EventError:
		c.failLocked(conn, backendError(ev.Text()))
	case ev.Type == EventConnected:
		c.logger.Info("Debate backend connected", "conn_id", conn.ID, "message", ev.Text())
	case ev.Type == EventPause:
		conn.Close()
		if err := c.machine.OnPause(ev.Text()); err != nil {
			c.logger.Debug("pause ignored", "error", err)
		}
	case ev.Type == EventRoundEnd:
		if err := c.machine.OnRoundEnd(ev); err != nil {
			c.logger.Debug("round_end ignored", "error", err)
		}
	case ev.Type == EventDebateEnd:
		conn.Close()
		if err := c.machine.OnDebateEnd(ev.Text()); err != nil {
			c.logger.Debug("debate_end ignored", "error", err)
			return nil
		}
		c.logger.Info("Debate ended", "conn_id", conn.ID, "round", c.store.Snapshot().Round)
		return c.endedLocked()
	case ev.Type.IsContent():
		kind := domain.Kind(ev.Type)
		msg := c.store.AppendOrUpdateMessage(ev.resolveRole(), kind, ev.Text())
		c.typist.Reveal(msg.Key())
	default:
		c.logger.Debug("Ignoring unknown event", "type", ev.Type)
	}
	return nil
}

// controllerSink adapts stream callbacks onto the controller lock.
type controllerSink struct{ c *Controller }

func (s controllerSink) Opened(conn *Connection) bool {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isCurrent(conn) {
		return false
	}
	if err := c.machine.OnOpen(); err != nil {
		c.logger.Debug("open ignored", "error", err)
	}
	return true
}

func (s controllerSink) Frame(conn *Connection, payload string) {
	c := s.c
	c.mu.Lock()
	if !c.isCurrent(conn) {
		c.mu.Unlock()
		return
	}
	ended := c.handleFrameLocked(conn, payload)
	c.mu.Unlock()
	notifyEnded(ended)
}

func (s controllerSink) Failed(conn *Connection, err *Error) {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isCurrent(conn) {
		return
	}
	c.failLocked(conn, err)
}

package debate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/emperor-arena/internal/clock"
	"github.com/ashureev/emperor-arena/internal/domain"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultConnectTimeout bounds the wait for the stream to open.
const DefaultConnectTimeout = 20 * time.Second

var errStreamClosed = errors.New("debate stream closed before completion")

// StreamParams identifies the debate requested from the backend.
type StreamParams struct {
	Topic        string
	Participants domain.Participants
}

// Sink receives the callbacks of one connection. Callbacks for a single
// connection are never concurrent with each other except Failed from the
// connect timeout, which may race with Opened.
type Sink interface {
	// Opened is called once the backend acknowledged the stream. Returning
	// false abandons the connection.
	Opened(conn *Connection) bool
	// Frame is called for every payload, in arrival order.
	Frame(conn *Connection, payload string)
	// Failed is called at most once per connection, never after Close.
	Failed(conn *Connection, err *Error)
}

// Connection is one streaming request. Close is idempotent; once closed
// the connection delivers neither frames nor errors.
type Connection struct {
	ID string

	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	timer    *clock.Timer
	opened   bool
	closed   bool
	timedOut bool
	failed   bool
}

// Close cancels the request and the connect timeout.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cancel()
	c.timer.Stop()
}

// Closed reports whether Close has been called.
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Done is closed when the connection's goroutines have exited.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// markOpen records the open acknowledgment and cancels the connect
// timeout. It fails when the timeout already fired or the connection was
// closed.
func (c *Connection) markOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.timedOut {
		return false
	}
	c.opened = true
	c.timer.Stop()
	return true
}

// claimFailure reports whether a failure may still be surfaced for this
// connection, and makes sure only one is.
func (c *Connection) claimFailure() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.failed {
		return false
	}
	c.failed = true
	return true
}

// StreamConfig configures a StreamConsumer.
type StreamConfig struct {
	BaseURL         string
	ConnectTimeout  time.Duration
	ContinueTimeout time.Duration
	// Rounds is forwarded as the "rounds" query parameter when positive.
	Rounds     int
	HTTPClient *http.Client
	Clock      clock.Clock
	Logger     *slog.Logger
}

// StreamConsumer owns at most one live streaming connection to the
// debate backend.
type StreamConsumer struct {
	baseURL         string
	connectTimeout  time.Duration
	continueTimeout time.Duration
	rounds          int
	client          *http.Client
	clock           clock.Clock
	logger          *slog.Logger

	mu      sync.Mutex
	current *Connection
}

// NewStreamConsumer creates a consumer for the backend at cfg.BaseURL.
func NewStreamConsumer(cfg StreamConfig) *StreamConsumer {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.HTTPClient == nil {
		// No client timeout: the stream stays open for the whole debate.
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &StreamConsumer{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		connectTimeout:  cfg.ConnectTimeout,
		continueTimeout: cfg.ContinueTimeout,
		rounds:          cfg.Rounds,
		client:          cfg.HTTPClient,
		clock:           cfg.Clock,
		logger:          cfg.Logger,
	}
}

// Current returns the live connection, or nil.
func (s *StreamConsumer) Current() *Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Close closes the live connection, if any.
func (s *StreamConsumer) Close() {
	s.mu.Lock()
	conn := s.current
	s.current = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// StreamURL returns the streaming endpoint for params.
func (s *StreamConsumer) StreamURL(params StreamParams) string {
	q := url.Values{}
	q.Set("topic", params.Topic)
	q.Set("proposer", params.Participants.Proposer)
	q.Set("challenger", params.Participants.Challenger)
	q.Set("arbitrator", params.Participants.Arbitrator)
	if s.rounds > 0 {
		q.Set("rounds", strconv.Itoa(s.rounds))
	}
	return s.baseURL + "/debate?" + q.Encode()
}

// Open closes any live connection and starts a new streaming request.
// Callbacks are delivered to sink from background goroutines.
func (s *StreamConsumer) Open(params StreamParams, sink Sink) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	conn := &Connection{
		ID:     uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	prev := s.current
	s.current = conn
	s.mu.Unlock()
	if prev != nil {
		s.logger.Debug("Closing previous debate stream", "conn_id", prev.ID)
		prev.Close()
	}

	conn.mu.Lock()
	conn.timer = s.clock.AfterFunc(s.connectTimeout, func() { s.onConnectTimeout(conn, sink) })
	conn.mu.Unlock()

	go s.run(ctx, conn, s.StreamURL(params), sink)
	return conn
}

func (s *StreamConsumer) onConnectTimeout(conn *Connection, sink Sink) {
	conn.mu.Lock()
	if conn.opened || conn.closed {
		conn.mu.Unlock()
		return
	}
	conn.timedOut = true
	conn.mu.Unlock()

	s.logger.Warn("Debate stream connect timeout", "conn_id", conn.ID, "timeout", s.connectTimeout)
	s.fail(conn, sink, connectionError(fmt.Errorf("%w after %s", ErrConnectTimeout, s.connectTimeout)))
}

func (s *StreamConsumer) fail(conn *Connection, sink Sink, err *Error) {
	if !conn.claimFailure() {
		return
	}
	sink.Failed(conn, err)
}

func (s *StreamConsumer) run(ctx context.Context, conn *Connection, streamURL string, sink Sink) {
	defer close(conn.done)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		s.fail(conn, sink, connectionError(fmt.Errorf("build stream request: %w", err)))
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		s.fail(conn, sink, connectionError(fmt.Errorf("open stream: %w", err)))
		return
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.Debug("failed to close stream body", "conn_id", conn.ID, "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.fail(conn, sink, connectionError(fmt.Errorf("open stream: %w: %s", ErrUnexpectedStatus, resp.Status)))
		return
	}
	if !conn.markOpen() || !sink.Opened(conn) {
		return
	}
	s.logger.Info("Debate stream opened", "conn_id", conn.ID)

	frames := make(chan string, 16)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(frames)
		return readFrames(gctx, resp.Body, frames)
	})
	g.Go(func() error {
		for payload := range frames {
			if conn.Closed() {
				continue
			}
			sink.Frame(conn, payload)
		}
		return nil
	})
	err = g.Wait()

	if conn.Closed() {
		return
	}
	if err != nil {
		s.fail(conn, sink, connectionError(fmt.Errorf("read stream: %w", err)))
		return
	}
	s.fail(conn, sink, connectionError(errStreamClosed))
}

// readFrames decodes a text/event-stream body. Data lines are joined and
// emitted on a blank line; event, id, retry and comment lines are
// skipped. A line without a known field prefix is emitted on its own as
// a bare payload.
func readFrames(ctx context.Context, body io.Reader, out chan<- string) error {
	reader := bufio.NewReader(body)
	var data []string

	emit := func(payload string) error {
		select {
		case out <- payload:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	flush := func() error {
		if len(data) == 0 {
			return nil
		}
		payload := strings.Join(data, "\n")
		data = data[:0]
		if payload == "" {
			return nil
		}
		return emit(payload)
	}

	for {
		line, readErr := reader.ReadString('\n')
		if line != "" {
			line = strings.TrimRight(line, "\r\n")
			var err error
			switch {
			case line == "":
				err = flush()
			case strings.HasPrefix(line, ":"):
			default:
				field, value, _ := strings.Cut(line, ":")
				switch field {
				case "data":
					data = append(data, strings.TrimPrefix(value, " "))
				case "event", "id", "retry":
				default:
					if err = flush(); err == nil {
						err = emit(line)
					}
				}
			}
			if err != nil {
				return err
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return flush()
			}
			return readErr
		}
	}
}

type continueRequest struct {
	Type       string `json:"type"`
	Topic      string `json:"topic"`
	Proposer   string `json:"proposer"`
	Challenger string `json:"challenger"`
	Arbitrator string `json:"arbitrator"`
}

// Continue asks the backend to resume a paused debate. Any non-error
// HTTP status is success.
func (s *StreamConsumer) Continue(ctx context.Context, params StreamParams) error {
	body, err := json.Marshal(continueRequest{
		Type:       "continue",
		Topic:      params.Topic,
		Proposer:   params.Participants.Proposer,
		Challenger: params.Participants.Challenger,
		Arbitrator: params.Participants.Arbitrator,
	})
	if err != nil {
		return fmt.Errorf("encode continue request: %w", err)
	}

	if s.continueTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.continueTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/debate/continue", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build continue request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send continue request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.Debug("failed to close continue response body", "error", closeErr)
		}
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}
	return nil
}

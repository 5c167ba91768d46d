// Package debatetest provides a scripted debate backend for tests.
package debatetest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

// Done is the stream termination sentinel.
const Done = "[DONE]"

// Stream scripts the response to one streaming request.
type Stream struct {
	// Status overrides the response status; zero means 200.
	Status int
	// Block, when set, delays the response headers until it is closed or
	// the client goes away.
	Block chan struct{}
	// Frames are written as SSE data frames in order.
	Frames []string
	// Raw is written verbatim after Frames.
	Raw string
	// Hold keeps the response open after the script until the client
	// disconnects.
	Hold bool
}

// ContinueRequest is a recorded continuation body.
type ContinueRequest struct {
	Type       string `json:"type"`
	Topic      string `json:"topic"`
	Proposer   string `json:"proposer"`
	Challenger string `json:"challenger"`
	Arbitrator string `json:"arbitrator"`
}

// Backend is an httptest server speaking the debate backend protocol.
// Streams are served from a queue; with an empty queue a request is
// answered with headers only and held open.
type Backend struct {
	URL    string
	server *httptest.Server

	mu             sync.Mutex
	streams        []Stream
	streamQueries  []url.Values
	continues      []ContinueRequest
	continueStatus int
	continueBlock  chan struct{}
	open           int
}

// New starts a backend closed at test cleanup.
func New(t testing.TB) *Backend {
	t.Helper()
	b := &Backend{continueStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /debate", b.handleStream)
	mux.HandleFunc("POST /debate/continue", b.handleContinue)
	b.server = httptest.NewServer(mux)
	b.URL = b.server.URL
	t.Cleanup(b.Close)
	return b
}

// Close shuts the server down, dropping open streams.
func (b *Backend) Close() {
	b.server.CloseClientConnections()
	b.server.Close()
}

// Queue appends scripted streams.
func (b *Backend) Queue(streams ...Stream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams = append(b.streams, streams...)
}

// SetContinueStatus sets the status answered to continuation requests.
func (b *Backend) SetContinueStatus(code int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.continueStatus = code
}

// BlockContinue holds continuation responses until ch is closed.
func (b *Backend) BlockContinue(ch chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.continueBlock = ch
}

// StreamQueries returns the query of every streaming request so far.
func (b *Backend) StreamQueries() []url.Values {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]url.Values(nil), b.streamQueries...)
}

// Continues returns every continuation request so far.
func (b *Backend) Continues() []ContinueRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ContinueRequest(nil), b.continues...)
}

// OpenStreams returns the number of streaming responses still being served.
func (b *Backend) OpenStreams() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

func (b *Backend) next() Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.streams) == 0 {
		return Stream{Hold: true}
	}
	s := b.streams[0]
	b.streams = b.streams[1:]
	return s
}

func (b *Backend) handleStream(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.streamQueries = append(b.streamQueries, r.URL.Query())
	b.open++
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.open--
		b.mu.Unlock()
	}()

	script := b.next()
	if script.Block != nil {
		select {
		case <-script.Block:
		case <-r.Context().Done():
			return
		}
	}
	if script.Status != 0 && script.Status != http.StatusOK {
		http.Error(w, "scripted failure", script.Status)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for _, frame := range script.Frames {
		var err error
		if frame == Done {
			_, err = io.WriteString(w, "event: end\ndata: [DONE]\n\n")
		} else {
			_, err = fmt.Fprintf(w, "data: %s\n\n", frame)
		}
		if err != nil {
			return
		}
		flusher.Flush()
	}
	if script.Raw != "" {
		if _, err := io.WriteString(w, script.Raw); err != nil {
			return
		}
		flusher.Flush()
	}
	if script.Hold {
		<-r.Context().Done()
	}
}

func (b *Backend) handleContinue(w http.ResponseWriter, r *http.Request) {
	var req ContinueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	b.continues = append(b.continues, req)
	status := b.continueStatus
	block := b.continueBlock
	b.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, `{"status":"ok"}`)
}

// Event encodes a stream event. content may be a string or any JSON value.
func Event(typ, role string, content any) string {
	ev := map[string]any{"type": typ}
	if role != "" {
		ev["role"] = role
	}
	if content != nil {
		ev["content"] = content
	}
	data, err := json.Marshal(ev)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// RoundEnd encodes a round_end event carrying the progress as a
// JSON-encoded string, the way the backend sends it.
func RoundEnd(current, total int, message string) string {
	inner, err := json.Marshal(map[string]any{
		"message":       message,
		"current_round": current,
		"total_rounds":  total,
	})
	if err != nil {
		panic(err)
	}
	return Event("round_end", "", string(inner))
}

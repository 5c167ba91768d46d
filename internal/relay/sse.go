package relay

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultKeepalive  = 10 * time.Second
	defaultRetryDelay = 5 * time.Second
)

// SSEHandler streams session snapshots as Server-Sent Events.
type SSEHandler struct {
	hub        *Hub
	keepalive  time.Duration
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewSSEHandler creates an SSE handler fed by hub. A non-positive
// keepalive uses the default of ten seconds.
func NewSSEHandler(hub *Hub, keepalive time.Duration, logger *slog.Logger) *SSEHandler {
	if keepalive <= 0 {
		keepalive = defaultKeepalive
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SSEHandler{hub: hub, keepalive: keepalive, retryDelay: defaultRetryDelay, logger: logger}
}

// ServeHTTP implements http.Handler.
func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", h.retryDelay.Milliseconds()); err != nil {
		h.logger.Warn("failed to write SSE retry header", "error", err)
		return
	}
	flusher.Flush()

	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub)
	h.logger.Info("Session stream connected", "subscriber_id", sub.ID)

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("Session stream disconnected", "subscriber_id", sub.ID)
			return
		case sess := <-sub.C():
			data, err := json.Marshal(sess)
			if err != nil {
				h.logger.Warn("failed to marshal session snapshot", "error", err)
				continue
			}
			if err := writeSSE(w, "session", string(data)); err != nil {
				h.logger.Warn("failed to write SSE session event", "error", err, "subscriber_id", sub.ID)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				h.logger.Warn("failed to write SSE keepalive ping", "error", err, "subscriber_id", sub.ID)
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

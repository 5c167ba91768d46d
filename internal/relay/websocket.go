package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/ashureev/emperor-arena/internal/domain"
	"github.com/coder/websocket"
)

const writeTimeout = 5 * time.Second

// wsMessage is the envelope sent to and received from renderers.
type wsMessage struct {
	Type    string          `json:"type"`
	Session *domain.Session `json:"session,omitempty"`
}

// WebSocketHandler streams session snapshots over a websocket.
type WebSocketHandler struct {
	hub            *Hub
	allowedOrigins []string
	logger         *slog.Logger
}

// NewWebSocketHandler creates a websocket handler fed by hub.
func NewWebSocketHandler(hub *Hub, allowedOrigins []string, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{hub: hub, allowedOrigins: allowedOrigins, logger: logger}
}

// ServeHTTP implements http.Handler for the websocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session stream ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer cancel()
		h.readLoop(ctx, ws, sub.ID)
	}()

	go func() {
		defer wg.Done()
		defer cancel()
		h.writeLoop(ctx, ws, sub)
	}()

	wg.Wait()
	h.logger.Info("Session websocket closed", "subscriber_id", sub.ID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.allowedOrigins, "*") || slices.Contains(h.allowedOrigins, origin) {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin)
	return false
}

// readLoop answers pings and returns when the client goes away.
func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, subID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "subscriber_id", subID)
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "subscriber_id", subID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			if err := h.writeJSON(ctx, ws, wsMessage{Type: "pong"}); err != nil {
				h.logger.Debug("Failed to send pong", "error", err)
				return
			}
		}
	}
}

func (h *WebSocketHandler) writeLoop(ctx context.Context, ws *websocket.Conn, sub *Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case sess := <-sub.C():
			if err := h.writeJSON(ctx, ws, wsMessage{Type: "session", Session: &sess}); err != nil {
				if ctx.Err() == nil {
					h.logger.Debug("WebSocket write error", "error", err, "subscriber_id", sub.ID)
				}
				return
			}
		}
	}
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}

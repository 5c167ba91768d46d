// Package relay pushes session snapshots to connected renderers.
package relay

import (
	"log/slog"
	"sync"

	"github.com/ashureev/emperor-arena/internal/domain"
	"github.com/google/uuid"
)

// Subscriber receives snapshots from a Hub. A subscriber that falls behind
// only ever sees the newest snapshot.
type Subscriber struct {
	ID string
	ch chan domain.Session
}

// C returns the snapshot channel. It is never closed.
func (s *Subscriber) C() <-chan domain.Session {
	return s.ch
}

// offer replaces any undelivered snapshot with sess.
func (s *Subscriber) offer(sess domain.Session) {
	for {
		select {
		case s.ch <- sess:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// Hub fans session snapshots out to subscribers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*Subscriber
	latest *domain.Session
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]*Subscriber),
		logger: logger,
	}
}

// Publish delivers sess to every subscriber without blocking.
func (h *Hub) Publish(sess domain.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = &sess
	for _, sub := range h.subs {
		sub.offer(sess)
	}
}

// Subscribe registers a subscriber. The last published snapshot, if any,
// is queued for it immediately.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{ID: uuid.NewString(), ch: make(chan domain.Session, 1)}

	h.mu.Lock()
	h.subs[sub.ID] = sub
	if h.latest != nil {
		sub.offer(*h.latest)
	}
	count := len(h.subs)
	h.mu.Unlock()

	h.logger.Info("Renderer subscribed", "subscriber_id", sub.ID, "subscribers", count)
	return sub
}

// Unsubscribe removes sub. It is safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub.ID]
	delete(h.subs, sub.ID)
	count := len(h.subs)
	h.mu.Unlock()

	if ok {
		h.logger.Info("Renderer unsubscribed", "subscriber_id", sub.ID, "subscribers", count)
	}
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

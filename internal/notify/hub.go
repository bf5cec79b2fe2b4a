// Package notify pushes dispatch events to connected websocket clients.
// It is an optional convenience on top of polling, never a delivery
// guarantee.
package notify

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/campus-dispatch/internal/dispatch"
)

// Session wraps a client connection with a write lock.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *Session) send(ev dispatch.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

// Hub tracks subscriber sessions keyed by client id and fans events out to
// all of them. Dead connections are dropped on write failure.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{sessions: make(map[string]*Session), logger: logger}
}

func (h *Hub) Add(clientID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[clientID] = &Session{conn: conn}
}

func (h *Hub) Remove(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[clientID]; ok {
		_ = s.conn.Close()
		delete(h.sessions, clientID)
	}
}

// Notify implements dispatch.Notifier.
func (h *Hub) Notify(ev dispatch.Event) {
	h.mu.RLock()
	subs := make(map[string]*Session, len(h.sessions))
	for id, s := range h.sessions {
		subs[id] = s
	}
	h.mu.RUnlock()

	for id, s := range subs {
		if err := s.send(ev); err != nil {
			h.logger.Warn("ws send failed, dropping session", "client_id", id, "error", err)
			h.Remove(id)
		}
	}
}

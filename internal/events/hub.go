// Package events pushes server-side updates to connected browsers over
// WebSocket. Each user may hold several connections (tabs); events fan out to
// all of them.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/fortulabs/fortu-chat/internal/domain"
)

const writeTimeout = 5 * time.Second

// Event is the wire envelope for pushed updates.
type Event struct {
	Type      string       `json:"type"`
	SessionID string       `json:"session_id,omitempty"`
	Turn      *domain.Turn `json:"turn,omitempty"`
}

// Hub tracks active WebSocket connections per user and connection id.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{active: make(map[string]map[string]*websocket.Conn)}
}

// Active returns the connection registered for a user and connection id.
func (h *Hub) Active(userID, connID string) *websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if conns, ok := h.active[userID]; ok {
		return conns[connID]
	}
	return nil
}

// Register adds a connection for a user. A second connection with the same
// connection id replaces the first; the old one is closed.
func (h *Hub) Register(userID, connID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.active[userID]; !ok {
		h.active[userID] = make(map[string]*websocket.Conn)
	}
	if existing, ok := h.active[userID][connID]; ok && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "connection replaced")
	}
	h.active[userID][connID] = conn
	slog.Info("events connection registered", "user_id", userID, "conn_id", connID)
}

// Unregister removes a connection. A connection that was already replaced is
// left alone.
func (h *Hub) Unregister(userID, connID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.active[userID]
	if !ok {
		return
	}
	if current, ok := conns[connID]; ok && current == conn {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(h.active, userID)
		}
		slog.Info("events connection unregistered", "user_id", userID, "conn_id", connID)
	}
}

// CloseUser terminates every connection a user holds.
func (h *Hub) CloseUser(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for connID, conn := range h.active[userID] {
		_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
		slog.Info("events connection closed", "user_id", userID, "conn_id", connID)
	}
	delete(h.active, userID)
}

// PublishTurn fans an assistant turn out to all of a user's connections.
// Implements the dialogue notifier.
func (h *Hub) PublishTurn(userID, sessionID string, turn *domain.Turn) {
	h.publish(userID, Event{Type: "turn", SessionID: sessionID, Turn: turn})
}

func (h *Hub) publish(userID string, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to encode event", "error", err, "type", ev.Type)
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.active[userID]))
	for _, conn := range h.active[userID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("event write failed", "error", err, "user_id", userID)
		}
		cancel()
	}
}

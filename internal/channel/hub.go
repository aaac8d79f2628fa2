// Package channel multiplexes progress and result events onto live
// WebSocket connections. Delivery is best-effort: the authoritative
// state lives in the result store, not in the socket.
package channel

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// conn wraps a websocket connection with a write lock. gorilla allows
// only one concurrent writer per connection.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// Hub is the process-wide registry of open progress connections,
// keyed by connection id.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*conn
}

// NewHub creates an empty connection hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]*conn)}
}

// Register adds a connection under the given id, replacing any prior
// connection with the same id.
func (h *Hub) Register(connID string, ws *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.conns[connID]; ok {
		old.ws.Close()
	}
	h.conns[connID] = &conn{ws: ws}
	fmt.Printf("[Hub] Connection registered: %s (total: %d)\n", connID[:min(8, len(connID))], len(h.conns))
}

// Remove drops a connection from the hub and closes it.
func (h *Hub) Remove(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.conns[connID]; ok {
		c.ws.Close()
		delete(h.conns, connID)
	}
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Send delivers one JSON event to the given connection. Returns false
// without raising when the connection is unknown or the write fails;
// a failed connection is removed from the hub. Callers must treat
// false as "client unreachable, keep working".
func (h *Hub) Send(connID string, event any) bool {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	payload, err := json.Marshal(event)
	if err != nil {
		fmt.Printf("[Hub] Failed to marshal event for %s: %v\n", connID[:min(8, len(connID))], err)
		return false
	}

	c.mu.Lock()
	err = c.ws.WriteMessage(websocket.TextMessage, payload)
	c.mu.Unlock()
	if err != nil {
		fmt.Printf("[Hub] Write failed for %s, dropping connection: %v\n", connID[:min(8, len(connID))], err)
		h.Remove(connID)
		return false
	}
	return true
}

package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

type client struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// Hub tracks connected HUD feed clients and fans events out to them.
// Writes to any one connection are serialized; a dead connection is
// dropped on the next failed write.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
}

func NewHub() *Hub {
	return &Hub{clients: map[string]*client{}}
}

func (h *Hub) Add(id string, c *websocket.Conn) {
	h.mu.Lock()
	h.clients[id] = &client{conn: c}
	h.mu.Unlock()
}

func (h *Hub) Remove(id string) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send writes v to a single client.
func (h *Hub) Send(id string, v any) error {
	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Broadcast writes v to every connected client, dropping the ones whose
// writes fail.
func (h *Hub) Broadcast(v any) {
	h.mu.RLock()
	targets := make(map[string]*client, len(h.clients))
	for id, c := range h.clients {
		targets[id] = c
	}
	h.mu.RUnlock()

	for id, c := range targets {
		c.mu.Lock()
		err := c.conn.WriteJSON(v)
		c.mu.Unlock()
		if err != nil {
			h.Remove(id)
			c.conn.Close()
		}
	}
}

package server

import (
	"sync"

	"github.com/codefionn/tilewall/internal/logger"
)

// Hub tracks the live WebSocket clients so they can be closed on shutdown
type Hub struct {
	clients map[string]*Client
	mu      sync.RWMutex
}

// NewHub creates a new hub
func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

// Register adds a client
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
	logger.Debug("Client registered: %s", client.ID)
}

// Unregister removes a client. A stale pointer for a reused ID is ignored.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if current, ok := h.clients[client.ID]; ok && current == client {
		delete(h.clients, client.ID)
	}
	h.mu.Unlock()
	logger.Debug("Client unregistered: %s", client.ID)
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll closes every client connection. The read pumps then run the
// normal disconnect path.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.conn.Close()
	}
}

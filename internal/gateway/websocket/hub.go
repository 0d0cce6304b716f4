package websocket

import (
	"context"
	"sync"

	"plotline/internal/chat"
	"plotline/pkg/logger"
)

// ChatHandler runs one streaming turn and returns its event channel.
type ChatHandler func(ctx context.Context, req chat.TurnRequest) (<-chan chat.Event, error)

// Hub maintains the set of active clients.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Register requests from clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Mutex for thread-safe access.
	mu sync.RWMutex

	// Chat turn handler.
	chatHandler ChatHandler
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// SetChatHandler sets the callback for chat turns.
func (h *Hub) SetChatHandler(handler ChatHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.chatHandler = handler
}

// HandleChat starts a streaming turn for a client request.
func (h *Hub) HandleChat(ctx context.Context, req chat.TurnRequest) (<-chan chat.Event, error) {
	h.mu.RLock()
	handler := h.chatHandler
	h.mu.RUnlock()

	if handler == nil {
		return nil, nil
	}

	return handler(ctx, req)
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			logger.Info().Str("client_id", client.id).Msg("WebSocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			delete(h.clients, client)
			h.mu.Unlock()
			logger.Info().Str("client_id", client.id).Msg("WebSocket client disconnected")
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

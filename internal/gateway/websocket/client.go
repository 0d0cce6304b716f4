package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"plotline/internal/chat"
	"plotline/pkg/logger"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 1024 * 1024 // 1MB
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// Client represents a WebSocket client connection. Each connection is
// bound to exactly one logical conversation: the id comes from the
// query string, or is fixed by the first turn's created conversation.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	// Connection-scoped context; cancelled on disconnect so in-flight
	// turns stop consuming the provider stream.
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	conversation string
}

// NewClient creates a new client bound to the given conversation id
// (may be empty until the first turn).
func NewClient(hub *Hub, conn *websocket.Conn, conversationID string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:          hub,
		conn:         conn,
		send:         make(chan []byte, 256),
		id:           uuid.New().String(),
		ctx:          ctx,
		cancel:       cancel,
		conversation: conversationID,
	}
}

// readPump pumps messages from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		c.cancel()
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error().Err(err).Str("client_id", c.id).Msg("WebSocket read error")
			}
			break
		}

		c.handleFrame(message)
	}
}

// handleFrame processes one inbound frame.
func (c *Client) handleFrame(message []byte) {
	var frame ClientFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		logger.Error().Err(err).Str("client_id", c.id).Msg("Failed to parse WebSocket frame")
		c.sendControl(chat.EventError, "INVALID_REQUEST", "failed to parse frame")
		return
	}

	switch frame.Type {
	case TypePing:
		c.sendControl(TypePong, "", "")

	case TypeChat:
		c.startTurn(frame)

	default:
		logger.Debug().
			Str("client_id", c.id).
			Str("type", frame.Type).
			Msg("Unknown frame type")
	}
}

// startTurn runs one streaming turn and relays its events.
func (c *Client) startTurn(frame ClientFrame) {
	if frame.Message == "" {
		c.sendControl(chat.EventError, "VALIDATION_FAILED", "message is required")
		return
	}

	c.mu.Lock()
	conversationID := c.conversation
	c.mu.Unlock()

	events, err := c.hub.HandleChat(c.ctx, chat.TurnRequest{
		ConversationID: conversationID,
		Message:        frame.Message,
		Provider:       frame.Provider,
		Model:          frame.Model,
		Temperature:    frame.Temperature,
		MaxTokens:      frame.MaxTokens,
		UseTools:       frame.UseTools,
	})
	if err != nil {
		logger.Error().Err(err).
			Str("client_id", c.id).
			Str("conversation_id", conversationID).
			Msg("Failed to start chat turn")
		c.sendControl(chat.EventError, chat.ErrorCode(err), err.Error())
		return
	}
	if events == nil {
		c.sendControl(chat.EventError, "SERVICE_UNAVAILABLE", "chat handler not configured")
		return
	}

	go func() {
		for event := range events {
			// The first turn on a fresh connection fixes the conversation.
			if event.Type == chat.EventReceived && event.ConversationID != "" {
				c.mu.Lock()
				if c.conversation == "" {
					c.conversation = event.ConversationID
				}
				c.mu.Unlock()
			}

			data, err := json.Marshal(event)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to marshal turn event")
				continue
			}
			c.enqueue(data)
		}
	}()
}

// writePump pumps messages from the send channel to the connection. The
// send channel is never closed; the connection context ends the pump, so
// a late enqueue from a relay goroutine can never hit a closed channel.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Error().Err(err).Str("client_id", c.id).Msg("WebSocket write error")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// enqueue blocks until the frame is buffered or the connection is gone,
// so a fast provider never silently drops chunks on a slow client.
func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	}
}

func (c *Client) sendControl(frameType, code, message string) {
	data, _ := json.Marshal(controlFrame{Type: frameType, Code: code, Message: message})
	c.enqueue(data)
}

// ServeWs upgrades an HTTP request to a WebSocket connection.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := NewClient(hub, conn, r.URL.Query().Get("conversation_id"))
	hub.Register(client)

	go client.writePump()
	go client.readPump()
}

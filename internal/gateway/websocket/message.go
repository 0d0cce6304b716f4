// Package websocket provides the WebSocket hub and streaming chat relay.
package websocket

// ClientFrame is a message received from a WebSocket client. One frame of
// type "chat" starts one streaming turn on the connection's conversation.
type ClientFrame struct {
	Type        string  `json:"type"`
	Message     string  `json:"message,omitempty"`
	Provider    string  `json:"provider,omitempty"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	UseTools    bool    `json:"use_tools,omitempty"`
}

// Inbound frame types.
const (
	TypeChat = "chat"
	TypePing = "ping"
)

// Outbound control frame types. Turn frames (message_received, chunk,
// message_complete, error) are chat.Event values marshalled as-is.
const (
	TypePong = "pong"
)

// controlFrame is a minimal outbound frame for ping/pong and protocol
// errors raised before a turn starts.
type controlFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

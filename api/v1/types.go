package v1

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"plotline/internal/chart"
	"plotline/internal/storage"
)

// Request validation bounds.
const (
	maxMessageLength = 10000
	minTemperature   = 0.0
	maxTemperature   = 2.0
	maxTokensLimit   = 4000
)

// ChatTurnRequest is the body of POST /chat.
type ChatTurnRequest struct {
	ConversationID string  `json:"conversation_id,omitempty"`
	Message        string  `json:"message"`
	Provider       string  `json:"provider,omitempty"`
	Model          string  `json:"model,omitempty"`
	Temperature    float64 `json:"temperature,omitempty"`
	MaxTokens      int     `json:"max_tokens,omitempty"`
	UseTools       bool    `json:"use_tools,omitempty"`
}

// Validate checks the request bounds before dispatch.
func (r *ChatTurnRequest) Validate() error {
	msg := strings.TrimSpace(r.Message)
	if msg == "" {
		return fmt.Errorf("message is required")
	}
	if utf8.RuneCountInString(r.Message) > maxMessageLength {
		return fmt.Errorf("message exceeds %d characters", maxMessageLength)
	}
	if r.Temperature < minTemperature || r.Temperature > maxTemperature {
		return fmt.Errorf("temperature must be between %g and %g", minTemperature, maxTemperature)
	}
	if r.MaxTokens < 0 || r.MaxTokens > maxTokensLimit {
		return fmt.Errorf("max_tokens must be between 1 and %d", maxTokensLimit)
	}
	return nil
}

// ChatTurnResponse is the body returned by POST /chat.
type ChatTurnResponse struct {
	Success        bool             `json:"success"`
	ConversationID string           `json:"conversation_id"`
	Message        *storage.Message `json:"message"`
	Chart          *chart.Payload   `json:"chart,omitempty"`
}

// CreateConversationRequest is the body of POST /conversations.
type CreateConversationRequest struct {
	Title    string          `json:"title,omitempty"`
	Provider string          `json:"provider,omitempty"`
	Model    string          `json:"model,omitempty"`
	Settings json.RawMessage `json:"settings,omitempty"`
}

// UpdateConversationRequest is the body of PATCH /conversations/{id}.
// Nil fields are left unchanged.
type UpdateConversationRequest struct {
	Title    *string         `json:"title,omitempty"`
	Settings json.RawMessage `json:"settings,omitempty"`
}

// BulkDeleteConversationsRequest is the body of POST /conversations/bulk-delete.
type BulkDeleteConversationsRequest struct {
	ConversationIDs []string `json:"conversation_ids"`
}

// ConversationDetail is a conversation with its message history.
type ConversationDetail struct {
	*storage.Conversation
	Messages []*storage.Message `json:"messages"`
}

// ListConversationsResponse is the body of GET /conversations.
type ListConversationsResponse struct {
	Conversations []*storage.Conversation `json:"conversations"`
	Total         int                     `json:"total"`
}

// ToolServerRequest is the body of POST /toolservers and PUT /toolservers/{id}.
type ToolServerRequest struct {
	Name          string          `json:"name"`
	URL           string          `json:"url"`
	Transport     string          `json:"transport,omitempty"`
	Description   string          `json:"description,omitempty"`
	Active        *bool           `json:"active,omitempty"`
	Env           json.RawMessage `json:"env,omitempty"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
}

// Validate checks required tool server fields.
func (r *ToolServerRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(r.URL) == "" {
		return fmt.Errorf("url is required")
	}
	return nil
}

// ProbeURLRequest is the body of POST /toolservers/probe.
type ProbeURLRequest struct {
	URL string `json:"url"`
}

// ProviderInfo describes one registered provider.
type ProviderInfo struct {
	Name    string   `json:"name"`
	Models  []string `json:"models"`
	Default bool     `json:"default"`
}

// ListProvidersResponse is the body of GET /providers.
type ListProvidersResponse struct {
	Providers []ProviderInfo `json:"providers"`
	Default   string         `json:"default"`
}

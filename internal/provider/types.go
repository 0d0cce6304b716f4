package provider

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest represents a chat completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// ChatResponse represents a chat completion response.
type ChatResponse struct {
	Content      string `json:"content,omitempty"`
	Model        string `json:"model,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Usage represents token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatEvent represents a streaming chat event. The terminal done event
// carries the model that actually served the stream, mirroring
// ChatResponse.Model on the non-streaming path.
type ChatEvent struct {
	Type         string `json:"type"` // content, done, error
	Delta        string `json:"delta,omitempty"`
	Model        string `json:"model,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"` // stop, length
	Error        error  `json:"-"`
}

// Event types.
const (
	EventTypeContent = "content"
	EventTypeDone    = "done"
	EventTypeError   = "error"
)

// Role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// FinishReason constants.
const (
	FinishReasonStop   = "stop"
	FinishReasonLength = "length"
)

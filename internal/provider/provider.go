// Package provider defines the LLM provider interface and types.
package provider

import "context"

// Provider defines the interface for LLM providers.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// Models returns the list of supported models.
	Models() []string

	// Chat sends a chat request and returns the complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Stream sends a chat request and returns a channel of streaming
	// events. Events arrive in generation order; the channel is closed
	// after a terminal done or error event.
	Stream(ctx context.Context, req ChatRequest) (<-chan ChatEvent, error)
}

// HealthCheckable is implemented by providers that support a lightweight
// connectivity check.
type HealthCheckable interface {
	HealthCheck(ctx context.Context) error
}

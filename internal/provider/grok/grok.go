// Package grok implements the Provider interface for xAI Grok.
// Grok exposes an OpenAI-compatible chat completions API.
// API docs: https://docs.x.ai/docs/api-reference
package grok

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"plotline/internal/provider"
	"plotline/pkg/logger"
)

// Compile-time interface checks.
var (
	_ provider.Provider        = (*GrokProvider)(nil)
	_ provider.HealthCheckable = (*GrokProvider)(nil)
)

// ErrMissingAPIKey is returned when the provider is constructed without
// credentials.
var ErrMissingAPIKey = errors.New("grok: api key is required")

// Default configuration values.
const (
	DefaultEndpoint  = "https://api.x.ai/v1"
	DefaultModel     = "grok-2-latest"
	DefaultMaxTokens = 2000
	DefaultTimeout   = 2 * time.Minute
)

// AvailableModels lists the supported Grok models.
var AvailableModels = []string{
	"grok-2-latest",
	"grok-2-mini",
	"grok-beta",
}

// Config holds Grok provider configuration.
type Config struct {
	APIKey    string        `mapstructure:"api_key"`
	Endpoint  string        `mapstructure:"endpoint"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// GrokProvider implements the Provider interface for xAI Grok.
type GrokProvider struct {
	apiKey       string
	endpoint     string
	model        string
	maxTokens    int
	httpClient   *http.Client
	streamClient *http.Client
}

// New creates a new Grok provider, failing fast when the API key is missing.
func New(cfg Config) (*GrokProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &GrokProvider{
		apiKey:    cfg.APIKey,
		endpoint:  cfg.Endpoint,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		// No overall timeout on the stream client; SSE body reads can
		// outlive any fixed deadline.
		streamClient: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   15 * time.Second,
				ResponseHeaderTimeout: cfg.Timeout,
				IdleConnTimeout:       90 * time.Second,
			},
		},
	}, nil
}

// Name returns the provider name.
func (p *GrokProvider) Name() string {
	return "grok"
}

// Models returns the list of available models.
func (p *GrokProvider) Models() []string {
	return AvailableModels
}

// Chat sends a chat completion request and returns the response.
func (p *GrokProvider) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	body, err := p.send(ctx, p.httpClient, req, false)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(raw, &chatResp); err != nil {
		logger.Error().Err(err).Msg("Failed to parse Grok response")
		return nil, provider.NewProviderError(provider.ErrCodeUnknown, "invalid response body", p.Name(), false)
	}

	if len(chatResp.Choices) == 0 {
		return nil, provider.NewProviderError(provider.ErrCodeServiceUnavailable, "empty choices in response", p.Name(), true)
	}

	result := &provider.ChatResponse{
		Content:      chatResp.Choices[0].Message.Content,
		Model:        chatResp.Model,
		FinishReason: chatResp.Choices[0].FinishReason,
	}
	if chatResp.Usage != nil {
		result.Usage = &provider.Usage{
			PromptTokens:     chatResp.Usage.PromptTokens,
			CompletionTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:      chatResp.Usage.TotalTokens,
		}
	}
	return result, nil
}

// Stream sends a streaming chat completion request.
func (p *GrokProvider) Stream(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	body, err := p.send(ctx, p.streamClient, req, true)
	if err != nil {
		return nil, err
	}
	return processStream(body, p.Name()), nil
}

// HealthCheck performs a minimal one-token completion.
func (p *GrokProvider) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	_, err := p.Chat(ctx, provider.ChatRequest{
		Messages:  []provider.Message{{Role: provider.RoleUser, Content: "ping"}},
		MaxTokens: 1,
	})
	return err
}

// send issues the HTTP request and returns the response body on 200, or a
// classified error otherwise.
func (p *GrokProvider) send(ctx context.Context, client *http.Client, req provider.ChatRequest, stream bool) (io.ReadCloser, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	chatReq := chatRequest{
		Model:     model,
		Messages:  make([]chatMessage, 0, len(req.Messages)),
		MaxTokens: maxTokens,
		Stream:    stream,
	}
	if req.Temperature > 0 {
		chatReq.Temperature = &req.Temperature
	}
	for _, msg := range req.Messages {
		chatReq.Messages = append(chatReq.Messages, chatMessage{Role: msg.Role, Content: msg.Content})
	}

	payload, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	logger.Debug().Str("model", model).Bool("stream", stream).Msg("Grok chat request")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, provider.NewProviderError(provider.ErrCodeTimeout, err.Error(), p.Name(), true)
		}
		return nil, provider.NewProviderError(provider.ErrCodeNetworkError, err.Error(), p.Name(), true)
	}

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		logger.Error().Int("status", resp.StatusCode).Str("body", string(raw)).Msg("Grok error response")
		return nil, p.classifyHTTPError(resp, raw)
	}

	return resp.Body, nil
}

func (p *GrokProvider) classifyHTTPError(resp *http.Response, body []byte) error {
	var wrapper struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	message := ""
	if err := json.Unmarshal(body, &wrapper); err == nil {
		message = wrapper.Error.Message
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return provider.NewProviderError(provider.ErrCodeAuthFailed, message, p.Name(), false)
	case resp.StatusCode == http.StatusNotFound:
		return provider.NewProviderError(provider.ErrCodeModelNotFound, message, p.Name(), false)
	case resp.StatusCode == http.StatusTooManyRequests:
		pe := provider.NewProviderError(provider.ErrCodeRateLimited, message, p.Name(), true)
		if after, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			pe.RetryAfter = after
		}
		return pe
	case resp.StatusCode == http.StatusBadRequest:
		return provider.NewProviderError(provider.ErrCodeInvalidRequest, message, p.Name(), false)
	case resp.StatusCode >= 500:
		return provider.NewProviderError(provider.ErrCodeServiceUnavailable, message, p.Name(), true)
	default:
		return provider.NewProviderError(provider.ErrCodeUnknown, message, p.Name(), false)
	}
}

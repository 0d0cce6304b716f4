// Package openai implements the Provider interface for the OpenAI chat
// completions API.
package openai

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
	_ provider.Provider        = (*OpenAIProvider)(nil)
	_ provider.HealthCheckable = (*OpenAIProvider)(nil)
)

// ErrMissingAPIKey is returned when the provider is constructed without
// credentials.
var ErrMissingAPIKey = errors.New("openai: api key is required")

// Default configuration values.
const (
	DefaultEndpoint  = "https://api.openai.com/v1"
	DefaultModel     = "gpt-4o-mini"
	DefaultMaxTokens = 2000
	DefaultTimeout   = 2 * time.Minute
)

// AvailableModels lists the supported chat models.
var AvailableModels = []string{
	"gpt-4o",
	"gpt-4o-mini",
	"gpt-4-turbo",
	"gpt-3.5-turbo",
}

// Config holds OpenAI provider configuration.
type Config struct {
	APIKey    string        `mapstructure:"api_key"`
	Endpoint  string        `mapstructure:"endpoint"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// OpenAIProvider implements the Provider interface for OpenAI.
type OpenAIProvider struct {
	apiKey       string
	endpoint     string
	model        string
	maxTokens    int
	httpClient   *http.Client // For non-streaming requests (has overall timeout)
	streamClient *http.Client // For streaming requests (no body read timeout)
}

// New creates a new OpenAI provider. The API key is validated at
// construction so a misconfigured backend fails before the first turn.
func New(cfg Config) (*OpenAIProvider, error) {
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

	return &OpenAIProvider{
		apiKey:    cfg.APIKey,
		endpoint:  cfg.Endpoint,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		// streamClient has NO overall timeout. http.Client.Timeout covers
		// body read time, which kills long-running SSE streams. Timeouts
		// are set at the transport level for connection/TLS/headers only.
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
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Models returns the list of available models.
func (p *OpenAIProvider) Models() []string {
	return AvailableModels
}

// Chat sends a chat completion request and returns the response.
func (p *OpenAIProvider) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	chatReq := p.buildRequest(req, false)

	logger.Debug().Str("model", chatReq.Model).Msg("OpenAI chat request")

	resp, err := p.doRequest(ctx, p.httpClient, chatReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		logger.Error().Int("status", resp.StatusCode).Str("body", string(body)).Msg("OpenAI error response")
		return nil, p.classifyHTTPError(resp, body)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		logger.Error().Err(err).Msg("Failed to parse OpenAI response")
		return nil, provider.NewProviderError(provider.ErrCodeUnknown, "invalid response body", p.Name(), false)
	}

	if chatResp.Error != nil {
		return nil, provider.NewProviderError(provider.ErrCodeUnknown, chatResp.Error.Message, p.Name(), false)
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
func (p *OpenAIProvider) Stream(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	chatReq := p.buildRequest(req, true)

	logger.Debug().Str("model", chatReq.Model).
		Int("message_count", len(chatReq.Messages)).
		Msg("OpenAI stream request")

	resp, err := p.doRequest(ctx, p.streamClient, chatReq)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, p.classifyHTTPError(resp, body)
	}

	return processStream(resp.Body, p.Name()), nil
}

// HealthCheck performs a minimal one-token completion to verify the
// credentials and endpoint.
func (p *OpenAIProvider) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	_, err := p.Chat(ctx, provider.ChatRequest{
		Messages:  []provider.Message{{Role: provider.RoleUser, Content: "ping"}},
		MaxTokens: 1,
	})
	return err
}

func (p *OpenAIProvider) buildRequest(req provider.ChatRequest, stream bool) *chatRequest {
	model := req.Model
	if model == "" {
		model = p.model
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	chatReq := &chatRequest{
		Model:     model,
		Messages:  make([]chatMessage, 0, len(req.Messages)),
		MaxTokens: maxTokens,
		Stream:    stream,
	}
	if req.Temperature > 0 {
		chatReq.Temperature = &req.Temperature
	}
	if stream {
		chatReq.StreamOptions = &streamOptions{IncludeUsage: true}
	}

	for _, msg := range req.Messages {
		chatReq.Messages = append(chatReq.Messages, chatMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	return chatReq
}

func (p *OpenAIProvider) doRequest(ctx context.Context, client *http.Client, chatReq *chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

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
	return resp, nil
}

// classifyHTTPError maps an HTTP error response to a ProviderError.
func (p *OpenAIProvider) classifyHTTPError(resp *http.Response, body []byte) error {
	message := apiErrorMessage(body)
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

// Package chat orchestrates conversation turns: validation, prompt
// augmentation, provider dispatch, and persistence.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"plotline/internal/chart"
	"plotline/internal/config"
	"plotline/internal/mcp"
	"plotline/internal/provider"
	"plotline/internal/storage"
	"plotline/pkg/logger"
)

// Validation errors surfaced before dispatch.
var (
	ErrEmptyMessage = errors.New("message must not be empty")
)

// DefaultHistoryLimit bounds the messages replayed to the provider.
const DefaultHistoryLimit = 20

// DefaultSystemPrompt is used when no system prompt is configured.
const DefaultSystemPrompt = "You are a helpful assistant."

// Service runs conversation turns against the provider registry.
type Service struct {
	db       *storage.DB
	registry *mcp.Registry // nil disables tool-server augmentation

	systemPrompt  string
	historyLimit  int
	maxDataPoints int

	// Per-conversation locks serialize turns so two racing turns on the
	// same conversation never interleave their persisted message pairs.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewService creates a chat service.
func NewService(db *storage.DB, registry *mcp.Registry, chatCfg config.ChatConfig, chartCfg config.ChartConfig) *Service {
	systemPrompt := chatCfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	historyLimit := chatCfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	maxDataPoints := chartCfg.MaxDataPoints
	if maxDataPoints <= 0 {
		maxDataPoints = chart.DefaultMaxDataPoints
	}

	return &Service{
		db:            db,
		registry:      registry,
		systemPrompt:  systemPrompt,
		historyLimit:  historyLimit,
		maxDataPoints: maxDataPoints,
		locks:         make(map[string]*sync.Mutex),
	}
}

// TurnRequest describes one user turn.
type TurnRequest struct {
	ConversationID string
	Message        string
	Provider       string
	Model          string
	Temperature    float64
	MaxTokens      int
	UseTools       bool
}

// TurnResult is the outcome of a completed turn.
type TurnResult struct {
	Conversation     *storage.Conversation
	UserMessage      *storage.Message
	AssistantMessage *storage.Message
	Chart            *chart.Payload
}

// turnState carries a prepared turn between stages.
type turnState struct {
	conversation *storage.Conversation
	userMessage  *storage.Message
	prov         provider.Provider
	chatReq      provider.ChatRequest
	chartIntent  bool
}

// Turn runs one request/response turn: prepare, dispatch, persist.
// On provider or storage failure the persisted user message is kept so
// conversation history is not silently lost.
func (s *Service) Turn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	state, err := s.prepare(req)
	if err != nil {
		return nil, err
	}

	unlock := s.lockConversation(state.conversation.ID)
	defer unlock()

	if err := s.persistUserMessage(state); err != nil {
		return nil, err
	}

	resp, err := state.prov.Chat(ctx, state.chatReq)
	if err != nil {
		logger.Error().Err(err).
			Str("conversation_id", state.conversation.ID).
			Str("provider", state.prov.Name()).
			Msg("Provider call failed")
		return nil, err
	}

	return s.complete(state, resp.Content, resp.Model)
}

// prepare validates the request and builds the augmented provider request.
// Nothing is persisted here.
func (s *Service) prepare(req TurnRequest) (*turnState, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}

	prov, err := provider.Resolve(req.Provider)
	if err != nil {
		return nil, err
	}

	conversation, err := s.resolveConversation(req, prov.Name())
	if err != nil {
		return nil, err
	}

	history, err := s.db.ListMessages(conversation.ID, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	messages := make([]provider.Message, 0, len(history)+2)
	messages = append(messages, provider.Message{
		Role:    provider.RoleSystem,
		Content: s.augmentSystemPrompt(req.UseTools),
	})
	for _, m := range history {
		if m.Role == storage.RoleSystem {
			continue
		}
		messages = append(messages, provider.Message{Role: m.Role, Content: m.Content})
	}

	// The persisted user message keeps the original text; only the
	// provider-facing copy carries the chart instruction.
	chartIntent := chart.DetectIntent(req.Message)
	outbound := req.Message
	if chartIntent {
		outbound += chart.Instruction()
	}
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: outbound})

	return &turnState{
		conversation: conversation,
		userMessage: &storage.Message{
			ConversationID: conversation.ID,
			Role:           storage.RoleUser,
			Content:        req.Message,
		},
		prov: prov,
		chatReq: provider.ChatRequest{
			Model:       req.Model,
			Messages:    messages,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		},
		chartIntent: chartIntent,
	}, nil
}

// resolveConversation finds the target conversation or creates a new one.
func (s *Service) resolveConversation(req TurnRequest, providerName string) (*storage.Conversation, error) {
	if req.ConversationID == "" {
		return s.db.CreateConversation("", providerName, req.Model, nil)
	}
	return s.db.GetConversation(req.ConversationID)
}

// augmentSystemPrompt appends tool-server context to the system prompt.
// Augmentation failures degrade to the bare prompt, never abort the turn.
func (s *Service) augmentSystemPrompt(useTools bool) string {
	prompt := s.systemPrompt
	if !useTools || s.registry == nil {
		return prompt
	}

	if ctx := s.registry.AugmentationContext(); ctx != "" {
		prompt += "\n\n" + ctx
	}
	return prompt
}

func (s *Service) persistUserMessage(state *turnState) error {
	msg, err := s.db.AppendMessage(state.userMessage)
	if err != nil {
		return fmt.Errorf("persist user message: %w", err)
	}
	state.userMessage = msg
	return nil
}

// complete extracts any chart payload, persists the assistant message, and
// derives a title for a fresh conversation.
func (s *Service) complete(state *turnState, content, model string) (*TurnResult, error) {
	var payload *chart.Payload
	visible := content
	if state.chartIntent {
		payload, visible = chart.Extract(content, s.maxDataPoints)
	}

	assistant := &storage.Message{
		ConversationID: state.conversation.ID,
		Role:           storage.RoleAssistant,
		Content:        visible,
		Provider:       state.prov.Name(),
		Model:          model,
	}
	if payload != nil {
		raw, err := marshalChart(payload)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to marshal chart payload, dropping it")
		} else {
			assistant.Chart = raw
		}
	}

	assistant, err := s.db.AppendMessage(assistant)
	if err != nil {
		return nil, fmt.Errorf("persist assistant message: %w", err)
	}

	s.maybeSetTitle(state.conversation, state.userMessage.Content)

	return &TurnResult{
		Conversation:     state.conversation,
		UserMessage:      state.userMessage,
		AssistantMessage: assistant,
		Chart:            payload,
	}, nil
}

// maybeSetTitle derives the conversation title from the first user message.
func (s *Service) maybeSetTitle(conversation *storage.Conversation, firstMessage string) {
	if conversation.Title != storage.DefaultTitle {
		return
	}

	title := GenerateTitle(firstMessage)
	if err := s.db.RenameConversation(conversation.ID, title); err != nil {
		logger.Warn().Err(err).Str("conversation_id", conversation.ID).Msg("Failed to set conversation title")
		return
	}
	conversation.Title = title
}

// lockConversation acquires the per-conversation turn lock and returns the
// release func. First-dispatched turn wins the position in history.
func (s *Service) lockConversation(id string) func() {
	s.locksMu.Lock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	s.locksMu.Unlock()

	lock.Lock()
	return lock.Unlock
}

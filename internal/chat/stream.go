package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"plotline/internal/chart"
	"plotline/internal/provider"
	"plotline/internal/storage"
	"plotline/pkg/logger"
)

// Event types emitted by StreamTurn.
const (
	EventReceived = "message_received"
	EventChunk    = "chunk"
	EventComplete = "message_complete"
	EventError    = "error"
)

// Event is one streaming turn event. Exactly one terminal event
// (message_complete or error) ends the sequence; the channel is closed
// after it.
type Event struct {
	Type           string         `json:"type"`
	ConversationID string         `json:"conversation_id,omitempty"`
	MessageID      string         `json:"message_id,omitempty"`
	Delta          string         `json:"delta,omitempty"`
	Content        string         `json:"content,omitempty"`
	Provider       string         `json:"provider,omitempty"`
	Model          string         `json:"model,omitempty"`
	Chart          *chart.Payload `json:"chart,omitempty"`
	Code           string         `json:"code,omitempty"`
	Message        string         `json:"message,omitempty"`
}

// StreamTurn runs one streaming turn. The returned channel yields a
// message_received event once the user message is persisted, chunk events
// in provider order, and a single terminal message_complete or error
// event. Cancelling ctx (client disconnect) abandons the generation at the
// next fragment boundary without persisting the partial assistant reply.
func (s *Service) StreamTurn(ctx context.Context, req TurnRequest) (<-chan Event, error) {
	state, err := s.prepare(req)
	if err != nil {
		return nil, err
	}

	events := make(chan Event, 32)

	go func() {
		defer close(events)

		unlock := s.lockConversation(state.conversation.ID)
		defer unlock()

		if err := s.persistUserMessage(state); err != nil {
			events <- errorEvent(err)
			return
		}

		events <- Event{
			Type:           EventReceived,
			ConversationID: state.conversation.ID,
			MessageID:      state.userMessage.ID,
		}

		stream, err := state.prov.Stream(ctx, state.chatReq)
		if err != nil {
			events <- errorEvent(err)
			return
		}

		var sb strings.Builder
		for {
			select {
			case <-ctx.Done():
				// Client gone: stop consuming, do not persist the partial.
				logger.Debug().
					Str("conversation_id", state.conversation.ID).
					Msg("Stream cancelled, abandoning turn")
				return

			case ev, ok := <-stream:
				if !ok {
					// Stream closed without a terminal event; treat the
					// accumulated text as the final reply.
					s.finishStream(state, sb.String(), req.Model, events)
					return
				}

				switch ev.Type {
				case provider.EventTypeContent:
					sb.WriteString(ev.Delta)
					events <- Event{Type: EventChunk, Delta: ev.Delta}

				case provider.EventTypeDone:
					// The done event carries the model that actually served
					// the stream; fall back to the requested one.
					model := ev.Model
					if model == "" {
						model = req.Model
					}
					s.finishStream(state, sb.String(), model, events)
					return

				case provider.EventTypeError:
					logger.Error().Err(ev.Error).
						Str("conversation_id", state.conversation.ID).
						Msg("Provider stream failed")
					events <- errorEvent(ev.Error)
					return
				}
			}
		}
	}()

	return events, nil
}

// finishStream persists the assembled reply and emits the terminal event.
func (s *Service) finishStream(state *turnState, content, model string, events chan<- Event) {
	result, err := s.complete(state, content, model)
	if err != nil {
		events <- errorEvent(err)
		return
	}

	events <- Event{
		Type:           EventComplete,
		ConversationID: result.Conversation.ID,
		MessageID:      result.AssistantMessage.ID,
		Content:        result.AssistantMessage.Content,
		Provider:       result.AssistantMessage.Provider,
		Model:          result.AssistantMessage.Model,
		Chart:          result.Chart,
	}
}

// ErrorCode maps a turn error onto the API error taxonomy.
func ErrorCode(err error) string {
	var pe *provider.ProviderError
	switch {
	case errors.As(err, &pe):
		return string(pe.Code)
	case errors.Is(err, ErrEmptyMessage), errors.Is(err, provider.ErrUnknownProvider):
		return "VALIDATION_FAILED"
	case errors.Is(err, storage.ErrNotFound):
		return "NOT_FOUND"
	}
	return "INTERNAL_ERROR"
}

func errorEvent(err error) Event {
	return Event{
		Type:    EventError,
		Code:    ErrorCode(err),
		Message: err.Error(),
	}
}

func marshalChart(payload *chart.Payload) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

package v1

import (
	"encoding/json"
	"errors"
	"net/http"

	"plotline/internal/chat"
	"plotline/internal/gateway/handlers"
	"plotline/internal/provider"
	"plotline/internal/storage"
)

// HandleChat runs one synchronous request/response chat turn.
func (r *Router) HandleChat(w http.ResponseWriter, req *http.Request) {
	var body ChatTurnRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeInvalidRequest, "invalid request body")
		return
	}

	if err := body.Validate(); err != nil {
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeValidationFailed, err.Error())
		return
	}

	result, err := r.chat.Turn(req.Context(), chat.TurnRequest{
		ConversationID: body.ConversationID,
		Message:        body.Message,
		Provider:       body.Provider,
		Model:          body.Model,
		Temperature:    body.Temperature,
		MaxTokens:      body.MaxTokens,
		UseTools:       body.UseTools,
	})
	if err != nil {
		sendTurnError(w, err)
		return
	}

	handlers.SendJSON(w, http.StatusOK, ChatTurnResponse{
		Success:        true,
		ConversationID: result.Conversation.ID,
		Message:        result.AssistantMessage,
		Chart:          result.Chart,
	})
}

// sendTurnError maps turn failures onto the API error taxonomy.
func sendTurnError(w http.ResponseWriter, err error) {
	var provErr *provider.ProviderError

	switch {
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, provider.ErrUnknownProvider):
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeValidationFailed, err.Error())

	case errors.Is(err, storage.ErrNotFound):
		handlers.SendError(w, http.StatusNotFound, handlers.ErrCodeNotFound, "conversation not found")

	case errors.As(err, &provErr):
		status := http.StatusBadGateway
		switch provErr.Code {
		case provider.ErrCodeRateLimited, provider.ErrCodeQuotaExceeded:
			status = http.StatusTooManyRequests
		case provider.ErrCodeInvalidRequest, provider.ErrCodeModelNotFound:
			status = http.StatusBadRequest
		case provider.ErrCodeAuthFailed:
			status = http.StatusBadGateway
		}
		handlers.SendError(w, status, handlers.ErrCodeProviderError, provErr.Message)

	default:
		handlers.SendError(w, http.StatusInternalServerError, handlers.ErrCodeInternalError, err.Error())
	}
}

package v1

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"plotline/internal/gateway/handlers"
	"plotline/internal/storage"
)

// HandleListConversations returns conversations ordered by recency.
// Supports ?q= title filter, ?limit= and ?offset= paging.
func (r *Router) HandleListConversations(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query().Get("q")
	limit := parseIntParam(req, "limit", 50)
	offset := parseIntParam(req, "offset", 0)

	conversations, err := r.db.ListConversations(query, limit, offset)
	if err != nil {
		handlers.SendError(w, http.StatusInternalServerError, handlers.ErrCodeInternalError, err.Error())
		return
	}
	if conversations == nil {
		conversations = []*storage.Conversation{}
	}

	handlers.SendJSON(w, http.StatusOK, ListConversationsResponse{
		Conversations: conversations,
		Total:         len(conversations),
	})
}

// HandleCreateConversation creates an empty conversation.
func (r *Router) HandleCreateConversation(w http.ResponseWriter, req *http.Request) {
	// An empty body creates a conversation with all defaults.
	var body CreateConversationRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeInvalidRequest, "invalid request body")
		return
	}

	conversation, err := r.db.CreateConversation(body.Title, body.Provider, body.Model, body.Settings)
	if err != nil {
		handlers.SendError(w, http.StatusInternalServerError, handlers.ErrCodeInternalError, err.Error())
		return
	}

	handlers.SendJSON(w, http.StatusCreated, conversation)
}

// HandleGetConversation returns a conversation with its full message history.
func (r *Router) HandleGetConversation(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]

	conversation, err := r.db.GetConversation(id)
	if err != nil {
		sendStorageError(w, err)
		return
	}

	messages, err := r.db.ListMessages(id, 0)
	if err != nil {
		handlers.SendError(w, http.StatusInternalServerError, handlers.ErrCodeInternalError, err.Error())
		return
	}
	if messages == nil {
		messages = []*storage.Message{}
	}

	handlers.SendJSON(w, http.StatusOK, ConversationDetail{
		Conversation: conversation,
		Messages:     messages,
	})
}

// HandleUpdateConversation renames a conversation or replaces its settings.
func (r *Router) HandleUpdateConversation(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]

	var body UpdateConversationRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeInvalidRequest, "invalid request body")
		return
	}

	if body.Title == nil && body.Settings == nil {
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeValidationFailed, "nothing to update")
		return
	}

	if body.Title != nil {
		if *body.Title == "" {
			handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeValidationFailed, "title must not be empty")
			return
		}
		if err := r.db.RenameConversation(id, *body.Title); err != nil {
			sendStorageError(w, err)
			return
		}
	}

	if body.Settings != nil {
		if err := r.db.UpdateConversationSettings(id, body.Settings); err != nil {
			sendStorageError(w, err)
			return
		}
	}

	conversation, err := r.db.GetConversation(id)
	if err != nil {
		sendStorageError(w, err)
		return
	}

	handlers.SendJSON(w, http.StatusOK, conversation)
}

// HandleBulkDeleteConversations removes a batch of conversations.
// Missing ids are skipped; the response reports how many were deleted.
func (r *Router) HandleBulkDeleteConversations(w http.ResponseWriter, req *http.Request) {
	var body BulkDeleteConversationsRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeInvalidRequest, "invalid request body")
		return
	}
	if len(body.ConversationIDs) == 0 {
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeValidationFailed, "conversation_ids is required")
		return
	}

	deleted, err := r.db.DeleteConversations(body.ConversationIDs)
	if err != nil {
		handlers.SendError(w, http.StatusInternalServerError, handlers.ErrCodeInternalError, err.Error())
		return
	}

	handlers.SendJSON(w, http.StatusOK, map[string]int{"deleted_count": deleted})
}

// HandleDeleteConversation removes a conversation and its messages.
func (r *Router) HandleDeleteConversation(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]

	if err := r.db.DeleteConversation(id); err != nil {
		sendStorageError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func sendStorageError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		handlers.SendError(w, http.StatusNotFound, handlers.ErrCodeNotFound, "not found")
		return
	}
	handlers.SendError(w, http.StatusInternalServerError, handlers.ErrCodeInternalError, err.Error())
}

func parseIntParam(req *http.Request, name string, fallback int) int {
	raw := req.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

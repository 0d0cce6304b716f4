package v1

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"plotline/internal/gateway/handlers"
	"plotline/internal/mcp"
	"plotline/internal/storage"
)

// HandleListToolServers lists registered tool servers. ?active=true
// restricts to active ones; each entry carries its cached probe status.
func (r *Router) HandleListToolServers(w http.ResponseWriter, req *http.Request) {
	activeOnly := req.URL.Query().Get("active") == "true"

	servers, err := r.registry.List(activeOnly)
	if err != nil {
		handlers.SendError(w, http.StatusInternalServerError, handlers.ErrCodeInternalError, err.Error())
		return
	}

	type entry struct {
		*storage.ToolServer
		Status *mcp.ProbeResult `json:"status,omitempty"`
	}

	entries := make([]entry, 0, len(servers))
	for _, ts := range servers {
		e := entry{ToolServer: ts}
		if status, ok := r.registry.Status(ts.ID); ok {
			e.Status = &status
		}
		entries = append(entries, e)
	}

	handlers.SendJSON(w, http.StatusOK, map[string]any{"tool_servers": entries})
}

// HandleCreateToolServer registers a new tool server.
func (r *Router) HandleCreateToolServer(w http.ResponseWriter, req *http.Request) {
	var body ToolServerRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeInvalidRequest, "invalid request body")
		return
	}
	if err := body.Validate(); err != nil {
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeValidationFailed, err.Error())
		return
	}

	active := true
	if body.Active != nil {
		active = *body.Active
	}

	ts, err := r.registry.Create(&storage.ToolServer{
		Name:          strings.TrimSpace(body.Name),
		URL:           strings.TrimSpace(body.URL),
		Transport:     body.Transport,
		Description:   body.Description,
		Active:        active,
		Env:           body.Env,
		Configuration: body.Configuration,
	})
	if err != nil {
		sendRegistryError(w, err)
		return
	}

	handlers.SendJSON(w, http.StatusCreated, ts)
}

// HandleGetToolServer returns a tool server with its cached probe status.
func (r *Router) HandleGetToolServer(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]

	ts, err := r.registry.Get(id)
	if err != nil {
		sendRegistryError(w, err)
		return
	}

	response := map[string]any{"tool_server": ts}
	if status, ok := r.registry.Status(id); ok {
		response["status"] = status
	}

	handlers.SendJSON(w, http.StatusOK, response)
}

// HandleUpdateToolServer replaces a tool server's fields.
func (r *Router) HandleUpdateToolServer(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]

	existing, err := r.registry.Get(id)
	if err != nil {
		sendRegistryError(w, err)
		return
	}

	var body ToolServerRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeInvalidRequest, "invalid request body")
		return
	}
	if err := body.Validate(); err != nil {
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeValidationFailed, err.Error())
		return
	}

	active := existing.Active
	if body.Active != nil {
		active = *body.Active
	}

	updated := &storage.ToolServer{
		ID:            id,
		Name:          strings.TrimSpace(body.Name),
		URL:           strings.TrimSpace(body.URL),
		Transport:     body.Transport,
		Description:   body.Description,
		Active:        active,
		Env:           body.Env,
		Configuration: body.Configuration,
		CreatedAt:     existing.CreatedAt,
	}
	if err := r.registry.Update(updated); err != nil {
		sendRegistryError(w, err)
		return
	}

	handlers.SendJSON(w, http.StatusOK, updated)
}

// HandleDeleteToolServer removes a registered tool server.
func (r *Router) HandleDeleteToolServer(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]

	if err := r.registry.Delete(id); err != nil {
		sendRegistryError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleProbeToolServer probes a registered server and returns the result.
// An unreachable server is a 200 with reachable=false, not an error.
func (r *Router) HandleProbeToolServer(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]

	ts, err := r.registry.Get(id)
	if err != nil {
		sendRegistryError(w, err)
		return
	}

	result := r.registry.Probe(req.Context(), ts.URL)
	handlers.SendJSON(w, http.StatusOK, result)
}

// HandleProbeURL probes an arbitrary URL without registering it first.
func (r *Router) HandleProbeURL(w http.ResponseWriter, req *http.Request) {
	var body ProbeURLRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeInvalidRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(body.URL) == "" {
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeValidationFailed, "url is required")
		return
	}

	result := r.registry.Probe(req.Context(), body.URL)
	handlers.SendJSON(w, http.StatusOK, result)
}

// HandleExecuteToolServer forwards a request payload to a registered
// server and relays its reply. A failing or inactive server is a 200
// with success=false; only an unknown id is an error.
func (r *Router) HandleExecuteToolServer(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]

	var payload json.RawMessage
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeInvalidRequest, "invalid request body")
		return
	}

	result, err := r.registry.Execute(req.Context(), id, payload)
	if err != nil {
		sendRegistryError(w, err)
		return
	}

	handlers.SendJSON(w, http.StatusOK, result)
}

// HandleCapabilities probes all active servers and returns the aggregate
// capability snapshot.
func (r *Router) HandleCapabilities(w http.ResponseWriter, req *http.Request) {
	capabilities, err := r.registry.Capabilities(req.Context())
	if err != nil {
		handlers.SendError(w, http.StatusInternalServerError, handlers.ErrCodeInternalError, err.Error())
		return
	}
	if capabilities == nil {
		capabilities = []mcp.Capability{}
	}

	handlers.SendJSON(w, http.StatusOK, map[string]any{"capabilities": capabilities})
}

func sendRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		handlers.SendError(w, http.StatusNotFound, handlers.ErrCodeNotFound, "tool server not found")
	case errors.Is(err, mcp.ErrNameTaken):
		handlers.SendError(w, http.StatusConflict, handlers.ErrCodeConflict, err.Error())
	default:
		handlers.SendError(w, http.StatusInternalServerError, handlers.ErrCodeInternalError, err.Error())
	}
}

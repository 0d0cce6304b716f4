// Package v1 provides the v1 REST API handlers.
package v1

import (
	"net/http"

	"github.com/gorilla/mux"

	"plotline/internal/chat"
	"plotline/internal/gateway/handlers"
	"plotline/internal/mcp"
	"plotline/internal/storage"
)

// RouterDeps holds dependencies for the v1 API router.
type RouterDeps struct {
	DB       *storage.DB
	Chat     *chat.Service
	Registry *mcp.Registry
	Version  string
}

// Router wraps v1 API dependencies.
type Router struct {
	db       *storage.DB
	chat     *chat.Service
	registry *mcp.Registry
	version  string
}

// NewRouter creates a new v1 API router.
func NewRouter(deps *RouterDeps) *Router {
	if deps == nil {
		deps = &RouterDeps{}
	}
	return &Router{
		db:       deps.DB,
		chat:     deps.Chat,
		registry: deps.Registry,
		version:  deps.Version,
	}
}

// RegisterRoutes attaches all v1 routes to the given subrouter.
func (r *Router) RegisterRoutes(api *mux.Router) {
	api.HandleFunc("/health", handlers.HealthHandler(r.version)).Methods(http.MethodGet)

	api.HandleFunc("/chat", r.HandleChat).Methods(http.MethodPost)

	api.HandleFunc("/conversations", r.HandleListConversations).Methods(http.MethodGet)
	api.HandleFunc("/conversations", r.HandleCreateConversation).Methods(http.MethodPost)
	api.HandleFunc("/conversations/bulk-delete", r.HandleBulkDeleteConversations).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}", r.HandleGetConversation).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}", r.HandleUpdateConversation).Methods(http.MethodPatch)
	api.HandleFunc("/conversations/{id}", r.HandleDeleteConversation).Methods(http.MethodDelete)

	api.HandleFunc("/toolservers", r.HandleListToolServers).Methods(http.MethodGet)
	api.HandleFunc("/toolservers", r.HandleCreateToolServer).Methods(http.MethodPost)
	api.HandleFunc("/toolservers/capabilities", r.HandleCapabilities).Methods(http.MethodGet)
	api.HandleFunc("/toolservers/probe", r.HandleProbeURL).Methods(http.MethodPost)
	api.HandleFunc("/toolservers/{id}", r.HandleGetToolServer).Methods(http.MethodGet)
	api.HandleFunc("/toolservers/{id}", r.HandleUpdateToolServer).Methods(http.MethodPut)
	api.HandleFunc("/toolservers/{id}", r.HandleDeleteToolServer).Methods(http.MethodDelete)
	api.HandleFunc("/toolservers/{id}/probe", r.HandleProbeToolServer).Methods(http.MethodPost)
	api.HandleFunc("/toolservers/{id}/execute", r.HandleExecuteToolServer).Methods(http.MethodPost)

	api.HandleFunc("/providers", r.HandleListProviders).Methods(http.MethodGet)
}

// Package gateway provides the HTTP gateway server.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	v1 "plotline/api/v1"
	"plotline/internal/chat"
	"plotline/internal/config"
	"plotline/internal/gateway/handlers"
	"plotline/internal/gateway/middleware"
	"plotline/internal/gateway/websocket"
	"plotline/internal/mcp"
	"plotline/internal/storage"
	"plotline/pkg/logger"
)

// Server represents the HTTP gateway server.
type Server struct {
	httpServer  *http.Server
	router      *mux.Router
	hub         *websocket.Hub
	config      *config.Config
	db          *storage.DB
	chatService *chat.Service
	registry    *mcp.Registry
	rateLimiter *middleware.RateLimiter
	watcher     *Watcher
	version     string
}

// NewServer creates a new gateway server wired to the chat service and
// tool-server registry.
func NewServer(cfg *config.Config, db *storage.DB, chatService *chat.Service, registry *mcp.Registry, version string) *Server {
	router := mux.NewRouter()

	rlConfig := middleware.RateLimiterConfig{
		RequestsPerMinute: cfg.Gateway.RateLimit.RequestsPerMinute,
		Burst:             cfg.Gateway.RateLimit.Burst,
		Enabled:           cfg.Gateway.RateLimit.Enabled,
		CleanupInterval:   cfg.Gateway.RateLimit.CleanupInterval,
	}
	if rlConfig.RequestsPerMinute == 0 {
		rlConfig.RequestsPerMinute = 60
	}
	if rlConfig.Burst == 0 {
		rlConfig.Burst = 10
	}
	if rlConfig.CleanupInterval == 0 {
		rlConfig.CleanupInterval = 5 * time.Minute
	}
	rateLimiter := middleware.NewRateLimiter(rlConfig)

	// Middleware chain: Recovery -> Logging -> CORS -> RateLimit
	handler := middleware.Recovery(
		middleware.Logging(
			middleware.CORS(
				rateLimiter.RateLimit(router),
			),
		),
	)

	hub := websocket.NewHub()
	hub.SetChatHandler(chatService.StreamTurn)

	s := &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
			Handler:      handler,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 0, // Disabled for streaming; bounded by request contexts
			IdleTimeout:  120 * time.Second,
		},
		router:      router,
		hub:         hub,
		config:      cfg,
		db:          db,
		chatService: chatService,
		registry:    registry,
		rateLimiter: rateLimiter,
		version:     version,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", handlers.HealthHandler(s.version)).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	apiRouter := v1.NewRouter(&v1.RouterDeps{
		DB:       s.db,
		Chat:     s.chatService,
		Registry: s.registry,
		Version:  s.version,
	})
	apiRouter.RegisterRoutes(api)

	s.router.HandleFunc("/ws/chat", func(w http.ResponseWriter, r *http.Request) {
		websocket.ServeWs(s.hub, w, r)
	})
}

// Start runs the hub loop and begins serving.
func (s *Server) Start() error {
	handlers.InitStartTime()
	go s.hub.Run()

	if s.watcher != nil {
		if err := s.watcher.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start config watcher")
		}
	}

	logger.Info().Str("addr", s.httpServer.Addr).Msg("Gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	s.rateLimiter.Stop()
	return s.httpServer.Shutdown(ctx)
}

// SetWatcher attaches a config watcher started with the server.
func (s *Server) SetWatcher(w *Watcher) {
	s.watcher = w
}

// Router returns the underlying mux router (for tests).
func (s *Server) Router() *mux.Router {
	return s.router
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *websocket.Hub {
	return s.hub
}

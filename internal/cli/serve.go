package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"plotline/internal/chat"
	"plotline/internal/gateway"
	"plotline/internal/mcp"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Plotline gateway server",
		Long: `Start the Plotline gateway server.

This command starts the HTTP gateway that provides:
- REST API endpoints for conversations, chat, providers, and tool servers
- WebSocket streaming for real-time chat

The server listens on the configured host and port (default: localhost:8000).`,
		Example: `  # Start server with default configuration
  plotline serve

  # Start server with custom port
  plotline serve --port 8080

  # Start server with verbose logging
  plotline serve --verbose`,
		RunE: runServe,
	}

	cmd.Flags().IntP("port", "p", 0, "port to listen on (overrides config)")
	cmd.Flags().String("host", "", "host to bind to (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return fmt.Errorf("CLI context not initialized")
	}

	cfg := cliCtx.Config
	log := cliCtx.Log()

	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Gateway.Port = port
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Gateway.Host = host
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 8000
	}
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "localhost"
	}

	if err := RegisterProviders(cfg); err != nil {
		return err
	}

	db, err := cliCtx.GetStorage()
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	registry := mcp.NewRegistry(db, cfg.MCP.ProbeTimeout)
	if err := registry.StartHealthSweep(cfg.MCP.HealthSchedule); err != nil {
		return err
	}
	defer registry.Stop()

	chatService := chat.NewService(db, registry, cfg.Chat, cfg.Chart)

	srv := gateway.NewServer(cfg, db, chatService, registry, Version)

	// Reload providers when the config file changes on disk.
	configPath := cliCtx.ConfigPath
	if watcher, err := gateway.NewWatcher(func(string) {
		ReloadProviders(configPath)
	}, configPath); err != nil {
		log.Warn().Err(err).Msg("Config watcher unavailable")
	} else {
		srv.SetWatcher(watcher)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	log.Info().
		Str("address", fmt.Sprintf("http://%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)).
		Msg("Server started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("Shutting down server...")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("Server error")
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
		return err
	}

	log.Info().Msg("Server stopped")
	return nil
}

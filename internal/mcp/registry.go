// Package mcp manages registered tool servers: CRUD, connectivity probes,
// and a cached capability snapshot used for prompt augmentation.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"plotline/internal/storage"
	"plotline/pkg/logger"
)

// ErrNameTaken indicates a tool server with the same name already exists.
var ErrNameTaken = errors.New("tool server name already taken")

// DefaultProbeTimeout bounds a single connectivity probe.
const DefaultProbeTimeout = 5 * time.Second

// Registry provides tool-server registration and connectivity tracking.
type Registry struct {
	db           *storage.DB
	probeTimeout time.Duration

	mu     sync.RWMutex
	status map[string]ProbeResult // keyed by server id

	cron *cron.Cron
}

// NewRegistry creates a registry backed by the given store.
func NewRegistry(db *storage.DB, probeTimeout time.Duration) *Registry {
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	return &Registry{
		db:           db,
		probeTimeout: probeTimeout,
		status:       make(map[string]ProbeResult),
	}
}

// Create registers a new tool server. Names are unique.
func (r *Registry) Create(ts *storage.ToolServer) (*storage.ToolServer, error) {
	if ts.Name == "" {
		return nil, fmt.Errorf("tool server name is required")
	}
	if ts.URL == "" {
		return nil, fmt.Errorf("tool server url is required")
	}

	if existing, err := r.db.GetToolServerByName(ts.Name); err == nil && existing != nil {
		return nil, ErrNameTaken
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	return r.db.CreateToolServer(ts)
}

// Get returns a tool server by id.
func (r *Registry) Get(id string) (*storage.ToolServer, error) {
	return r.db.GetToolServer(id)
}

// List returns registered tool servers.
func (r *Registry) List(activeOnly bool) ([]*storage.ToolServer, error) {
	return r.db.ListToolServers(activeOnly)
}

// Update replaces a tool server's fields.
func (r *Registry) Update(ts *storage.ToolServer) error {
	if existing, err := r.db.GetToolServerByName(ts.Name); err == nil && existing.ID != ts.ID {
		return ErrNameTaken
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return r.db.UpdateToolServer(ts)
}

// Delete removes a tool server and forgets its cached status.
func (r *Registry) Delete(id string) error {
	if err := r.db.DeleteToolServer(id); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.status, id)
	r.mu.Unlock()
	return nil
}

// Capability describes one tool server in the aggregate snapshot.
type Capability struct {
	ServerID    string `json:"server_id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	Transport   string `json:"transport"`
	Description string `json:"description,omitempty"`
	Reachable   bool   `json:"reachable"`
	Detail      string `json:"detail,omitempty"`
}

// Capabilities probes all active servers and returns their descriptions.
// A failing entry is reported unreachable and skipped for augmentation;
// the aggregate call itself never fails because of one bad server.
func (r *Registry) Capabilities(ctx context.Context) ([]Capability, error) {
	servers, err := r.db.ListToolServers(true)
	if err != nil {
		return nil, err
	}

	capabilities := make([]Capability, 0, len(servers))
	for _, ts := range servers {
		result := r.Probe(ctx, ts.URL)
		r.recordStatus(ts.ID, result)

		if !result.Reachable {
			logger.Warn().
				Str("server", ts.Name).
				Str("url", ts.URL).
				Str("detail", result.Detail).
				Msg("Tool server unreachable, skipping")
		}

		capabilities = append(capabilities, Capability{
			ServerID:    ts.ID,
			Name:        ts.Name,
			URL:         ts.URL,
			Transport:   ts.Transport,
			Description: ts.Description,
			Reachable:   result.Reachable,
			Detail:      result.Detail,
		})
	}

	return capabilities, nil
}

// AugmentationContext builds a prompt fragment describing reachable active
// servers from the cached status snapshot. It never blocks on probes; an
// empty string means no augmentation is available.
func (r *Registry) AugmentationContext() string {
	servers, err := r.db.ListToolServers(true)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to list tool servers for augmentation")
		return ""
	}
	if len(servers) == 0 {
		return ""
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var lines []string
	for _, ts := range servers {
		if status, ok := r.status[ts.ID]; ok && !status.Reachable {
			continue
		}
		line := "- " + ts.Name
		if ts.Description != "" {
			line += ": " + ts.Description
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return ""
	}

	return "The following external tool servers are available for reference:\n" + strings.Join(lines, "\n")
}

// StartHealthSweep schedules a periodic probe of all active servers.
func (r *Registry) StartHealthSweep(schedule string) error {
	if schedule == "" {
		schedule = "@every 5m"
	}

	r.cron = cron.New()
	_, err := r.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		r.sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule health sweep: %w", err)
	}

	r.cron.Start()
	logger.Info().Str("schedule", schedule).Msg("Tool server health sweep started")
	return nil
}

// Stop halts the health sweep.
func (r *Registry) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
}

// sweep refreshes cached reachability for all active servers.
func (r *Registry) sweep(ctx context.Context) {
	servers, err := r.db.ListToolServers(true)
	if err != nil {
		logger.Error().Err(err).Msg("Health sweep: list tool servers failed")
		return
	}

	for _, ts := range servers {
		result := r.Probe(ctx, ts.URL)
		r.recordStatus(ts.ID, result)

		logger.Debug().
			Str("server", ts.Name).
			Bool("reachable", result.Reachable).
			Dur("latency", result.Latency).
			Msg("Health sweep probe")
	}
}

func (r *Registry) recordStatus(id string, result ProbeResult) {
	r.mu.Lock()
	r.status[id] = result
	r.mu.Unlock()
}

// Status returns the cached probe result for a server id.
func (r *Registry) Status(id string) (ProbeResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result, ok := r.status[id]
	return result, ok
}

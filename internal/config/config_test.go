package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err, "a missing config file is not an error")

	assert.Equal(t, "localhost", cfg.Gateway.Host)
	assert.Equal(t, 8000, cfg.Gateway.Port)
	assert.Equal(t, "openai", cfg.Providers.Default)
	assert.Equal(t, "gpt-4o-mini", cfg.Providers.OpenAI.Model)
	assert.Equal(t, "grok-2-latest", cfg.Providers.Grok.Model)
	assert.Equal(t, 20, cfg.Chat.HistoryLimit)
	assert.Equal(t, 1000, cfg.Chart.MaxDataPoints)
	assert.Equal(t, "@every 5m", cfg.MCP.HealthSchedule)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FromFile(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
gateway:
  port: 9999
providers:
  default: grok
  grok:
    api_key: xai-secret
chat:
  history_limit: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Gateway.Port)
	assert.Equal(t, "grok", cfg.Providers.Default)
	assert.Equal(t, "xai-secret", cfg.Providers.Grok.APIKey)
	assert.Equal(t, 5, cfg.Chat.HistoryLimit)
	// Untouched keys keep their defaults.
	assert.Equal(t, "localhost", cfg.Gateway.Host)
}

func TestLoad_EnvOverride(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	t.Setenv("PLOTLINE_GATEWAY_PORT", "7777")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Gateway.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"negative port", func(c *Config) { c.Gateway.Port = -1 }, true},
		{"port too large", func(c *Config) { c.Gateway.Port = 70000 }, true},
		{"unknown default provider", func(c *Config) { c.Providers.Default = "llama" }, true},
		{"empty default provider", func(c *Config) { c.Providers.Default = "" }, false},
		{"negative history limit", func(c *Config) { c.Chat.HistoryLimit = -1 }, true},
		{"zero max data points", func(c *Config) { c.Chart.MaxDataPoints = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Gateway: GatewayConfig{Port: 8000},
				Chart:   ChartConfig{MaxDataPoints: 1000},
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSaveTo_RoundTrip(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := &Config{
		Gateway:   GatewayConfig{Host: "0.0.0.0", Port: 8080},
		Providers: ProvidersConfig{Default: "grok"},
		Chart:     ChartConfig{MaxDataPoints: 500},
	}

	require.NoError(t, SaveTo(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", loaded.Gateway.Host)
	assert.Equal(t, 8080, loaded.Gateway.Port)
	assert.Equal(t, "grok", loaded.Providers.Default)
	assert.Equal(t, 500, loaded.Chart.MaxDataPoints)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandPath("~/data/app.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data", "app.db"), got)

	got, err = ExpandPath("/absolute/path")
	require.NoError(t, err)
	assert.Equal(t, "/absolute/path", got)
}

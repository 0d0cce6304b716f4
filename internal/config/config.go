// Package config manages application configuration via viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Gateway   GatewayConfig   `mapstructure:"gateway" yaml:"gateway"`
	Providers ProvidersConfig `mapstructure:"providers" yaml:"providers"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Chat      ChatConfig      `mapstructure:"chat" yaml:"chat"`
	Chart     ChartConfig     `mapstructure:"chart" yaml:"chart"`
	MCP       MCPConfig       `mapstructure:"mcp" yaml:"mcp"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// GatewayConfig configures the HTTP gateway.
type GatewayConfig struct {
	Host      string          `mapstructure:"host" yaml:"host"`
	Port      int             `mapstructure:"port" yaml:"port"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig configures request rate limiting.
type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// ProvidersConfig selects and configures LLM backends.
type ProvidersConfig struct {
	Default string        `mapstructure:"default" yaml:"default"` // openai, grok
	OpenAI  BackendConfig `mapstructure:"openai" yaml:"openai"`
	Grok    BackendConfig `mapstructure:"grok" yaml:"grok"`
}

// BackendConfig holds per-backend credentials and tuning.
type BackendConfig struct {
	APIKey    string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint  string        `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Model     string        `mapstructure:"model" yaml:"model,omitempty"`
	MaxTokens int           `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
}

// StorageConfig configures the SQLite store.
type StorageConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// ChatConfig configures turn orchestration.
type ChatConfig struct {
	SystemPrompt string `mapstructure:"system_prompt" yaml:"system_prompt,omitempty"`
	HistoryLimit int    `mapstructure:"history_limit" yaml:"history_limit"`
}

// ChartConfig configures chart payload validation.
type ChartConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points" yaml:"max_data_points"`
}

// MCPConfig configures tool-server connectivity checks.
type MCPConfig struct {
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	HealthSchedule string        `mapstructure:"health_schedule" yaml:"health_schedule"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file,omitempty"`
}

var (
	mu         sync.Mutex
	configPath string
)

// SetDefaults registers default values with viper.
func SetDefaults() {
	viper.SetDefault("gateway.host", "localhost")
	viper.SetDefault("gateway.port", 8000)
	viper.SetDefault("gateway.rate_limit.enabled", true)
	viper.SetDefault("gateway.rate_limit.requests_per_minute", 60)
	viper.SetDefault("gateway.rate_limit.burst", 10)
	viper.SetDefault("gateway.rate_limit.cleanup_interval", 5*time.Minute)

	viper.SetDefault("providers.default", "openai")
	viper.SetDefault("providers.openai.model", "gpt-4o-mini")
	viper.SetDefault("providers.openai.max_tokens", 2000)
	viper.SetDefault("providers.grok.model", "grok-2-latest")
	viper.SetDefault("providers.grok.max_tokens", 2000)

	viper.SetDefault("storage.path", "~/.plotline/plotline.db")

	viper.SetDefault("chat.history_limit", 20)
	viper.SetDefault("chart.max_data_points", 1000)

	viper.SetDefault("mcp.probe_timeout", 5*time.Second)
	viper.SetDefault("mcp.health_schedule", "@every 5m")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
}

// Load reads configuration from the given path, applying defaults and
// PLOTLINE_* environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	SetDefaults()

	viper.SetEnvPrefix("PLOTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if path != "" {
		expandedPath, err := ExpandPath(path)
		if err != nil {
			return nil, err
		}
		configPath = expandedPath

		viper.SetConfigFile(expandedPath)
		if err := viper.ReadInConfig(); err != nil {
			var pathErr *os.PathError
			if !errors.As(err, &pathErr) && !os.IsNotExist(err) {
				if _, ok := err.(viper.ConfigParseError); ok {
					return nil, err
				}
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration values that would otherwise fail at runtime.
func (c *Config) Validate() error {
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
	}
	switch c.Providers.Default {
	case "", "openai", "grok":
	default:
		return fmt.Errorf("unknown default provider: %q", c.Providers.Default)
	}
	if c.Chat.HistoryLimit < 0 {
		return fmt.Errorf("chat history_limit must be >= 0, got %d", c.Chat.HistoryLimit)
	}
	if c.Chart.MaxDataPoints <= 0 {
		return fmt.Errorf("chart max_data_points must be positive, got %d", c.Chart.MaxDataPoints)
	}
	return nil
}

// SaveTo writes the configuration as YAML to the given path.
func SaveTo(cfg *Config, path string) error {
	expandedPath, err := ExpandPath(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(expandedPath), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(expandedPath, data, 0600)
}

// Save writes the configuration back to the path it was loaded from.
func Save(cfg *Config) error {
	mu.Lock()
	path := configPath
	mu.Unlock()

	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return err
		}
	}
	return SaveTo(cfg, path)
}

// Reset clears viper state (for testing).
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	viper.Reset()
	configPath = ""
}

// ExpandPath expands a leading ~ to the user home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[1:]), nil
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".plotline"), nil
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// DefaultDataPath returns the default database file path.
func DefaultDataPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "plotline.db"), nil
}

package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"plotline/internal/config"
	"plotline/internal/storage"
)

// InitOptions holds init command options.
type InitOptions struct {
	Force bool
}

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	opts := &InitOptions{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize plotline configuration",
		Long:  "Initialize the plotline configuration directory and database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunInit(opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "overwrite existing configuration")

	return cmd
}

// RunInit creates the config directory, a starter config file, and the
// database with its schema applied.
func RunInit(opts *InitOptions) error {
	configDir, err := config.DefaultConfigDir()
	if err != nil {
		return fmt.Errorf("get config dir: %w", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil && !opts.Force {
		return fmt.Errorf("configuration already exists at %s (use --force to overwrite)", configPath)
	}

	dirs := []string{
		configDir,
		filepath.Join(configDir, "logs"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	defaultConfig := map[string]any{
		"gateway": map[string]any{
			"host": "localhost",
			"port": 8000,
		},
		"providers": map[string]any{
			"default": "openai",
			"openai": map[string]any{
				"api_key": "",
				"model":   "gpt-4o-mini",
			},
			"grok": map[string]any{
				"api_key": "",
				"model":   "grok-2-latest",
			},
		},
		"chat": map[string]any{
			"history_limit": 20,
		},
		"chart": map[string]any{
			"max_data_points": 1000,
		},
		"mcp": map[string]any{
			"health_schedule": "@every 5m",
		},
		"log": map[string]any{
			"level":  "info",
			"format": "console",
		},
	}

	data, err := yaml.Marshal(defaultConfig)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	dataPath, err := config.DefaultDataPath()
	if err != nil {
		return fmt.Errorf("get data path: %w", err)
	}

	db, err := storage.Open(dataPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	db.Close()

	fmt.Printf("Initialized plotline at %s\n", configDir)
	fmt.Printf("  Config:   %s\n", configPath)
	fmt.Printf("  Database: %s\n", dataPath)

	return nil
}

package cli

import (
	"fmt"

	"plotline/internal/config"
	"plotline/internal/provider"
	"plotline/internal/provider/grok"
	"plotline/internal/provider/openai"
	"plotline/pkg/logger"
)

// RegisterProviders builds provider backends from configuration and
// installs them in the registry. At least one backend must have
// credentials; a missing key only disables that backend. The registry
// is only swapped once every configured backend constructed cleanly,
// so a failed reload keeps the previous registration.
func RegisterProviders(cfg *config.Config) error {
	var built []provider.Provider

	if cfg.Providers.OpenAI.APIKey != "" {
		p, err := openai.New(openai.Config{
			APIKey:    cfg.Providers.OpenAI.APIKey,
			Endpoint:  cfg.Providers.OpenAI.Endpoint,
			Model:     cfg.Providers.OpenAI.Model,
			MaxTokens: cfg.Providers.OpenAI.MaxTokens,
			Timeout:   cfg.Providers.OpenAI.Timeout,
		})
		if err != nil {
			return fmt.Errorf("configure openai provider: %w", err)
		}
		built = append(built, p)
	}

	if cfg.Providers.Grok.APIKey != "" {
		p, err := grok.New(grok.Config{
			APIKey:    cfg.Providers.Grok.APIKey,
			Endpoint:  cfg.Providers.Grok.Endpoint,
			Model:     cfg.Providers.Grok.Model,
			MaxTokens: cfg.Providers.Grok.MaxTokens,
			Timeout:   cfg.Providers.Grok.Timeout,
		})
		if err != nil {
			return fmt.Errorf("configure grok provider: %w", err)
		}
		built = append(built, p)
	}

	if len(built) == 0 {
		return fmt.Errorf("no provider configured: set an API key for openai or grok")
	}

	provider.Reset()
	for _, p := range built {
		provider.Register(p)
	}

	if cfg.Providers.Default != "" {
		if !provider.SetDefault(cfg.Providers.Default) {
			logger.Warn().
				Str("provider", cfg.Providers.Default).
				Msg("Configured default provider is not available, using first registered")
		}
	}

	logger.Info().
		Strs("providers", provider.List()).
		Str("default", provider.Default().Name()).
		Msg("Providers registered")

	return nil
}

// ReloadProviders re-registers providers after a config file change.
func ReloadProviders(configPath string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error().Err(err).Str("path", configPath).Msg("Config reload failed, keeping current providers")
		return
	}

	if err := RegisterProviders(cfg); err != nil {
		logger.Error().Err(err).Msg("Provider reload failed, keeping current providers")
		return
	}

	logger.Info().Msg("Providers reloaded from config")
}

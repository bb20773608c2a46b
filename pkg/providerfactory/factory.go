// Package providerfactory builds the configured upstream provider.
package providerfactory

import (
	"fmt"
	"log/slog"

	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/providers"
	"mercator-hq/relay/pkg/providers/anthropic"
)

// NewProvider creates the provider named by cfg.Name.
//
// Supported providers:
//   - "anthropic": Anthropic Messages API
//
// An empty name selects "anthropic".
func NewProvider(cfg config.ProviderConfig) (providers.Provider, error) {
	name := cfg.Name
	if name == "" {
		name = anthropic.Name
	}

	slog.Debug("creating provider", "name", name, "base_url", cfg.BaseURL)

	switch name {
	case anthropic.Name:
		p, err := anthropic.NewProvider(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create provider %q: %w", name, err)
		}
		return p, nil
	default:
		return nil, &providers.ConfigError{
			Provider: name,
			Field:    "name",
			Message:  fmt.Sprintf("unsupported provider: %q (supported: anthropic)", name),
		}
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"mercator-hq/relay/pkg/cli"
	"mercator-hq/relay/pkg/config"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Mercator Relay - multi-account proxy for the Anthropic API",
	Long: `Mercator Relay is a local reverse proxy that spreads Anthropic API traffic
across a pool of accounts.

It sits between API clients and the upstream provider, providing:
  - Account selection (session, round-robin, priority, sticky)
  - Failover to the next account on rate limits and credential rejections
  - OAuth access-token refresh
  - Agent detection and per-agent model pinning
  - Token usage and cost tracking per account and per request

Without --config the built-in defaults and RELAY_* environment variables are
used.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig initializes the global configuration from --config.
func loadConfig() (*config.Config, error) {
	if err := config.Initialize(cfgFile); err != nil {
		return nil, cli.WrapConfigError("failed to load config", err)
	}
	cfg := config.GetConfig()
	if cfg == nil {
		return nil, cli.NewConfigError("", "configuration not initialized")
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

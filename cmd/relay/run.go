package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"mercator-hq/relay/pkg/cli"
	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/telemetry/logging"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the relay proxy server",
	Long: `Start the relay proxy server with the specified configuration.

The server listens on the configured address and forwards every /v1/ request
upstream with the credentials of an account from the pool, failing over to the
next account when one is rate limited or rejected.

Examples:
  # Start with default config
  relay run

  # Start with custom config
  relay run --config /etc/relay/relay.yaml

  # Override listen address
  relay run --listen 0.0.0.0:8080

  # Validate config without starting server
  relay run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if runFlags.listenAddress != "" {
		cfg.Proxy.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}

	logger, err := logging.New(logging.Config{
		Level:     cfg.Telemetry.Logging.Level,
		Format:    cfg.Telemetry.Logging.Format,
		AddSource: cfg.Telemetry.Logging.AddSource,
	})
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger)

	out := cmd.OutOrStdout()
	if runFlags.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	printBanner(cmd, cfg)

	a, err := newApp(cfg)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer a.close()

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	fmt.Fprintf(out, "✓ Listening on %s (worker: %s, selection: %s)\n",
		cfg.Proxy.ListenAddress, cfg.Worker.Mode, cfg.Selection.Strategy)
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	if err := a.start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	fmt.Fprintln(out, "✓ Server stopped")
	return nil
}

func printBanner(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Mercator Relay v%s\n", Version)
	if path := config.Path(); path != "" {
		fmt.Fprintf(out, "Loading configuration from: %s\n", path)
	} else {
		fmt.Fprintln(out, "Using default configuration")
	}
	fmt.Fprintln(out, "✓ Configuration loaded")

	slog.Debug("provider configured", "name", cfg.Provider.Name, "base_url", cfg.Provider.BaseURL)
	slog.Debug("accounts store", "path", cfg.Accounts.Path)
	if cfg.History.Enabled {
		slog.Debug("history enabled", "backend", cfg.History.Backend)
	}
}

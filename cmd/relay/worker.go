package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"mercator-hq/relay/pkg/cli"
	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/telemetry/logging"
	"mercator-hq/relay/pkg/usage"
)

var workerFlags struct {
	maxCapture int
	logLevel   string
}

// workerCmd is started by the relay itself when worker.mode is
// "subprocess". Control messages arrive on stdin and results leave on
// stdout, one JSON object per line; logs go to stderr.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run the usage worker over stdin/stdout",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)

	workerCmd.Flags().IntVar(&workerFlags.maxCapture, "max-capture", config.DefaultWorkerMaxCaptureBytes, "bytes of each body kept in payloads")
	workerCmd.Flags().StringVar(&workerFlags.logLevel, "log-level", "warn", "log level for stderr")
}

func runWorker(cmd *cobra.Command, args []string) error {
	logger, err := logging.New(logging.Config{
		Level:  workerFlags.logLevel,
		Format: "json",
		Writer: os.Stderr,
	})
	if err != nil {
		return cli.NewConfigError("log-level", err.Error())
	}
	slog.SetDefault(logger.With("component", "usage.worker", "pid", os.Getpid()))

	// The parent normally stops the worker with a shutdown message or by
	// closing stdin. A signal stops it without flushing.
	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	err = usage.Serve(ctx, usage.NewWorker(workerFlags.maxCapture), cmd.InOrStdin(), cmd.OutOrStdout())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

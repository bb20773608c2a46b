package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"mercator-hq/relay/pkg/cli"
	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/history"
)

var historyFlags struct {
	since   string
	until   string
	account string
	agent   string
	model   string
	status  string
	limit   int
	offset  int
	output  string
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query and prune request history",
	Long: `Query the request history recorded by a running relay, and prune old
records outside the retention schedule.

Subcommands:
  query - List recorded requests with filters
  prune - Apply the retention policy now`,
}

var historyQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "List recorded requests",
	Long: `List recorded requests, newest first.

--since and --until accept either an RFC3339 timestamp or a duration that is
subtracted from the current time.

Examples:
  # Requests from the last hour
  relay history query --since 1h

  # Failed requests for one account
  relay history query --account work --status error

  # Export a day as CSV
  relay history query --since 2025-11-19T00:00:00Z --until 2025-11-20T00:00:00Z -o csv`,
	Args: cobra.NoArgs,
	RunE: queryHistory,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete records outside the retention policy",
	Args:  cobra.NoArgs,
	RunE:  pruneHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyQueryCmd, historyPruneCmd)

	f := historyQueryCmd.Flags()
	f.StringVar(&historyFlags.since, "since", "", "start time (RFC3339 or duration ago, e.g. 24h)")
	f.StringVar(&historyFlags.until, "until", "", "end time, exclusive (RFC3339 or duration ago)")
	f.StringVar(&historyFlags.account, "account", "", "filter by account name")
	f.StringVar(&historyFlags.agent, "agent", "", "filter by detected agent")
	f.StringVar(&historyFlags.model, "model", "", "filter by model")
	f.StringVar(&historyFlags.status, "status", "", "filter by outcome: success, error")
	f.IntVar(&historyFlags.limit, "limit", history.DefaultQueryLimit, "maximum records to return")
	f.IntVar(&historyFlags.offset, "offset", 0, "records to skip")
	f.StringVarP(&historyFlags.output, "output", "o", "text", "output format: text, json, csv")
}

// parseTimeFlag accepts an RFC3339 timestamp or a duration before now.
func parseTimeFlag(name, value string, now time.Time) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		t := now.Add(-d)
		return &t, nil
	}
	return nil, cli.NewConfigError(name, fmt.Sprintf("invalid time %q: use RFC3339 or a duration like 24h", value))
}

func buildHistoryQuery(now time.Time) (*history.Query, error) {
	start, err := parseTimeFlag("since", historyFlags.since, now)
	if err != nil {
		return nil, err
	}
	end, err := parseTimeFlag("until", historyFlags.until, now)
	if err != nil {
		return nil, err
	}
	return &history.Query{
		StartTime: start,
		EndTime:   end,
		Account:   historyFlags.account,
		Agent:     historyFlags.agent,
		Model:     historyFlags.model,
		Status:    strings.ToLower(historyFlags.status),
		Limit:     historyFlags.limit,
		Offset:    historyFlags.offset,
	}, nil
}

// withHistoryStorage loads the configuration and opens the history backend.
func withHistoryStorage(fn func(cfg *config.Config, store history.Storage) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openHistory(&cfg.History)
	if err != nil {
		return fmt.Errorf("failed to open history storage: %w", err)
	}
	if store == nil {
		return cli.NewConfigError("history.enabled", "request history is disabled")
	}
	defer store.Close()
	return fn(cfg, store)
}

func queryHistory(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(historyFlags.output)
	if err != nil {
		return err
	}
	query, err := buildHistoryQuery(time.Now())
	if err != nil {
		return err
	}

	return withHistoryStorage(func(cfg *config.Config, store history.Storage) error {
		ctx := cmd.Context()
		records, err := store.Query(ctx, query)
		if err != nil {
			return cli.NewCommandError("history query", err)
		}

		out := cmd.OutOrStdout()
		if format == cli.FormatText && len(records) == 0 {
			fmt.Fprintln(out, "No records found.")
			return nil
		}

		table := &cli.Table{
			Headers: []string{"STARTED", "ACCOUNT", "AGENT", "MODEL", "STATUS", "INPUT", "OUTPUT", "COST", "DURATION", "REQUEST ID"},
			Records: records,
		}
		for _, r := range records {
			status := fmt.Sprint(r.StatusCode)
			if r.Error != "" {
				status = "error"
			}
			table.AddRow(
				formatTime(r.StartedAt),
				orDash(r.Account),
				orDash(r.Agent),
				orDash(r.Model),
				status,
				r.InputTokens,
				r.OutputTokens,
				fmt.Sprintf("$%.4f", r.CostUSD),
				(time.Duration(r.DurationMs) * time.Millisecond).String(),
				r.RequestID,
			)
		}
		if err := cli.NewFormatter(format).FormatTo(out, table); err != nil {
			return err
		}

		if format == cli.FormatText && len(records) == query.Limit {
			fmt.Fprintf(out, "\nShowing %d records. Use --limit and --offset for pagination.\n", len(records))
		}
		return nil
	})
}

func pruneHistory(cmd *cobra.Command, args []string) error {
	return withHistoryStorage(func(cfg *config.Config, store history.Storage) error {
		pruner := history.NewPruner(store, history.RetentionConfigFrom(cfg.History.Retention))
		deleted, err := pruner.Prune(cmd.Context())
		if err != nil {
			return cli.NewCommandError("history prune", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Pruned %d records\n", deleted)
		return nil
	})
}

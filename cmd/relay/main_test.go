package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"mercator-hq/relay/pkg/accounts"
	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/history"
)

// executeCommand runs the root command with args and returns everything it
// wrote. Flags are reset first so that earlier runs do not leak into later
// ones.
func executeCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()
	return buf.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// useMemoryStores points the command seams at in-memory stores for the
// duration of the test.
func useMemoryStores(t *testing.T) (*accounts.MemoryStore, *history.MemoryStorage) {
	t.Helper()

	store := accounts.NewMemoryStore()
	hist := history.NewMemoryStorage()

	origAccounts, origHistory := openAccountStore, openHistory
	openAccountStore = func(*config.Config) (accounts.Store, error) { return store, nil }
	openHistory = func(*config.HistoryConfig) (history.Storage, error) { return hist, nil }
	t.Cleanup(func() {
		openAccountStore, openHistory = origAccounts, origHistory
	})
	return store, hist
}

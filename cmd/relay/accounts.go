package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"mercator-hq/relay/pkg/accounts"
	"mercator-hq/relay/pkg/cli"
	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/providers"
	"mercator-hq/relay/pkg/proxy"
)

var accountsFlags struct {
	output       string
	apiKey       string
	refreshToken string
	priority     int
	skipVerify   bool
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage the account pool",
	Long: `Add, remove, pause and re-authenticate the accounts the relay forwards
requests with.

Accounts authenticate either with an API key or with an OAuth refresh token.
The relay refreshes OAuth access tokens on its own; when a refresh token
itself expires the account must be re-authenticated with "relay accounts
reauth".

Subcommands:
  list   - List accounts and their state
  add    - Register a new account
  remove - Delete an account
  pause  - Exclude an account from selection
  resume - Include a paused account again
  reauth - Store a new refresh token for an account`,
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	Long: `List every account with its credential type, priority, state and usage.

Examples:
  relay accounts list
  relay accounts list --output json`,
	Args: cobra.NoArgs,
	RunE: listAccounts,
}

var accountsAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Register a new account",
	Long: `Register a new account. Exactly one of --api-key or --refresh-token is
required.

Examples:
  relay accounts add work --refresh-token "$REFRESH_TOKEN"
  relay accounts add ci --api-key "$ANTHROPIC_API_KEY" --priority 10`,
	Args: cobra.ExactArgs(1),
	RunE: addAccount,
}

var accountsRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Delete an account",
	Args:  cobra.ExactArgs(1),
	RunE:  removeAccount,
}

var accountsPauseCmd = &cobra.Command{
	Use:   "pause NAME",
	Short: "Exclude an account from selection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setAccountPaused(cmd, args[0], true)
	},
}

var accountsResumeCmd = &cobra.Command{
	Use:   "resume NAME",
	Short: "Include a paused account in selection again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setAccountPaused(cmd, args[0], false)
	},
}

var accountsReauthCmd = &cobra.Command{
	Use:   "reauth NAME",
	Short: "Store a new refresh token for an account",
	Long: `Store a new OAuth refresh token for an account whose refresh token has
expired. The token is read from --refresh-token or, when omitted, from the
first line of standard input.

Unless --skip-verify is given, the token is exchanged for an access token
before it is stored, so a bad token is rejected immediately.

Examples:
  relay accounts reauth 'work'
  echo "$REFRESH_TOKEN" | relay accounts reauth work`,
	Args: cobra.ExactArgs(1),
	RunE: reauthAccount,
}

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.AddCommand(accountsListCmd, accountsAddCmd, accountsRemoveCmd,
		accountsPauseCmd, accountsResumeCmd, accountsReauthCmd)

	accountsListCmd.Flags().StringVarP(&accountsFlags.output, "output", "o", "text", "output format: text, json, csv")

	accountsAddCmd.Flags().StringVar(&accountsFlags.apiKey, "api-key", "", "static API key")
	accountsAddCmd.Flags().StringVar(&accountsFlags.refreshToken, "refresh-token", "", "OAuth refresh token")
	accountsAddCmd.Flags().IntVar(&accountsFlags.priority, "priority", 0, "selection priority (lower is tried first)")
	accountsAddCmd.MarkFlagsMutuallyExclusive("api-key", "refresh-token")
	accountsAddCmd.MarkFlagsOneRequired("api-key", "refresh-token")

	accountsReauthCmd.Flags().StringVar(&accountsFlags.refreshToken, "refresh-token", "", "new OAuth refresh token (default: read from stdin)")
	accountsReauthCmd.Flags().BoolVar(&accountsFlags.skipVerify, "skip-verify", false, "store the token without exchanging it first")
}

// withAccountStore loads the configuration, opens the account store and runs
// fn with both.
func withAccountStore(fn func(cfg *config.Config, store accounts.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openAccountStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open account store: %w", err)
	}
	defer store.Close()
	return fn(cfg, store)
}

// accountState summarizes whether the account can currently be selected.
func accountState(a *accounts.Account, policy accounts.ExpiryPolicy, now time.Time) string {
	switch {
	case a.Paused:
		return "paused"
	case policy.IsRefreshTokenLikelyExpired(a):
		return "needs-reauth"
	case a.IsRateLimited(now):
		return "rate-limited until " + a.RateLimitedUntil.Local().Format(time.Kitchen)
	default:
		return "ready"
	}
}

func credentialType(a *accounts.Account) string {
	if a.IsOAuth() {
		return "oauth"
	}
	return "api-key"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func listAccounts(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(accountsFlags.output)
	if err != nil {
		return err
	}

	return withAccountStore(func(cfg *config.Config, store accounts.Store) error {
		list, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(list) == 0 && format == cli.FormatText {
			fmt.Fprintln(cmd.OutOrStdout(), "No accounts configured. Add one with: relay accounts add NAME --refresh-token TOKEN")
			return nil
		}

		policy := accounts.ExpiryPolicy{RefreshTokenLifetime: cfg.Accounts.RefreshTokenLifetime}
		now := time.Now()
		table := &cli.Table{
			Headers: []string{"NAME", "TYPE", "PRIORITY", "STATE", "REQUESTS", "INPUT", "OUTPUT", "COST", "LAST USED"},
			Records: list,
		}
		for _, a := range list {
			table.AddRow(
				a.Name,
				credentialType(a),
				a.Priority,
				accountState(a, policy, now),
				a.TotalRequests,
				a.InputTokens,
				a.OutputTokens,
				fmt.Sprintf("$%.4f", a.CostUSD),
				formatTime(a.LastUsed),
			)
		}
		return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), table)
	})
}

func addAccount(cmd *cobra.Command, args []string) error {
	name := strings.TrimSpace(args[0])
	return withAccountStore(func(cfg *config.Config, store accounts.Store) error {
		a := &accounts.Account{
			Name:         name,
			Provider:     cfg.Provider.Name,
			APIKey:       accountsFlags.apiKey,
			RefreshToken: accountsFlags.refreshToken,
			Priority:     accountsFlags.priority,
		}
		if err := store.Create(cmd.Context(), a); err != nil {
			if errors.Is(err, accounts.ErrDuplicateName) {
				return cli.NewCommandError("accounts add", fmt.Errorf("account %q already exists", name))
			}
			return cli.NewCommandError("accounts add", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Account %s added (%s, priority %s)\n",
			proxy.ShellQuote(a.Name), credentialType(a), strconv.Itoa(a.Priority))
		return nil
	})
}

func removeAccount(cmd *cobra.Command, args []string) error {
	return withAccountStore(func(cfg *config.Config, store accounts.Store) error {
		if err := store.Delete(cmd.Context(), args[0]); err != nil {
			return notFoundOr("accounts remove", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Account %s removed\n", proxy.ShellQuote(args[0]))
		return nil
	})
}

func setAccountPaused(cmd *cobra.Command, name string, paused bool) error {
	verb := "resume"
	if paused {
		verb = "pause"
	}
	return withAccountStore(func(cfg *config.Config, store accounts.Store) error {
		if err := store.SetPaused(cmd.Context(), name, paused); err != nil {
			return notFoundOr("accounts "+verb, name, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Account %s %sd\n", proxy.ShellQuote(name), verb)
		return nil
	})
}

func reauthAccount(cmd *cobra.Command, args []string) error {
	name := args[0]
	token := strings.TrimSpace(accountsFlags.refreshToken)
	if token == "" {
		fmt.Fprint(cmd.ErrOrStderr(), "Refresh token: ")
		var err error
		token, err = readLine(cmd.InOrStdin())
		if err != nil {
			return cli.NewCommandError("accounts reauth", err)
		}
	}
	if token == "" {
		return cli.NewConfigError("refresh-token", "a refresh token is required")
	}

	return withAccountStore(func(cfg *config.Config, store accounts.Store) error {
		ctx := cmd.Context()
		acct, err := store.GetByName(ctx, name)
		if err != nil {
			return notFoundOr("accounts reauth", name, err)
		}

		if accountsFlags.skipVerify {
			if err := store.UpdateTokens(ctx, acct.ID, "", token, time.Time{}); err != nil {
				return cli.NewCommandError("accounts reauth", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Refresh token stored for %s (not verified)\n", proxy.ShellQuote(name))
			return nil
		}

		ts, err := verifyRefreshToken(ctx, cfg, acct, token)
		if err != nil {
			var authErr *providers.AuthError
			if errors.As(err, &authErr) {
				return cli.NewCommandError("accounts reauth", fmt.Errorf("the provider rejected the refresh token: %w", err))
			}
			return cli.NewCommandError("accounts reauth", err)
		}

		refresh := ts.RefreshToken
		if refresh == "" {
			refresh = token
		}
		if err := store.UpdateTokens(ctx, acct.ID, ts.AccessToken, refresh, ts.ExpiresAt); err != nil {
			return cli.NewCommandError("accounts reauth", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Account %s re-authenticated (access token valid until %s)\n",
			proxy.ShellQuote(name), formatTime(ts.ExpiresAt))
		return nil
	})
}

// verifyRefreshToken exchanges token for an access token on behalf of acct.
func verifyRefreshToken(ctx context.Context, cfg *config.Config, acct *accounts.Account, token string) (*providers.TokenSet, error) {
	provider, err := newProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}
	client := providers.NewHTTPClient(providers.HTTPClientConfig{
		ResponseHeaderTimeout: cfg.Provider.Timeout,
	})

	candidate := acct.Clone()
	candidate.RefreshToken = token
	candidate.AccessToken = ""

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return provider.RefreshAccessToken(ctx, client, candidate)
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func notFoundOr(command, name string, err error) error {
	if errors.Is(err, accounts.ErrNotFound) {
		return cli.NewCommandError(command, fmt.Errorf("account %q not found", name))
	}
	return cli.NewCommandError(command, err)
}

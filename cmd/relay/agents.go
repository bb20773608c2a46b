package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"mercator-hq/relay/pkg/accounts"
	"mercator-hq/relay/pkg/cli"
	"mercator-hq/relay/pkg/config"
)

var agentsFlags struct {
	output string
	clear  bool
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Inspect agent rules and model preferences",
	Long: `Agents are detected from the system prompt of each request using the rules
in the "agents" section of the configuration. A detected agent's requests are
rewritten to the agent's model: a stored preference wins over the model in the
rule.`,
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured agent rules and their effective model",
	Args:  cobra.NoArgs,
	RunE:  listAgents,
}

var agentsModelCmd = &cobra.Command{
	Use:   "model AGENT [MODEL]",
	Short: "Show or set the preferred model for an agent",
	Long: `Show the stored model preference for an agent, or store a new one.
The preference applies to running relays without a restart.

Examples:
  relay agents model reviewer
  relay agents model reviewer claude-sonnet-4-5
  relay agents model reviewer --clear`,
	Args: cobra.RangeArgs(1, 2),
	RunE: agentModel,
}

func init() {
	rootCmd.AddCommand(agentsCmd)
	agentsCmd.AddCommand(agentsListCmd, agentsModelCmd)

	agentsListCmd.Flags().StringVarP(&agentsFlags.output, "output", "o", "text", "output format: text, json, csv")
	agentsModelCmd.Flags().BoolVar(&agentsFlags.clear, "clear", false, "remove the stored preference")
}

type agentView struct {
	Name       string `json:"name"`
	Match      string `json:"match"`
	RuleModel  string `json:"rule_model,omitempty"`
	Preference string `json:"preference,omitempty"`
}

func listAgents(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(agentsFlags.output)
	if err != nil {
		return err
	}

	return withAccountStore(func(cfg *config.Config, store accounts.Store) error {
		views := make([]agentView, 0, len(cfg.Agents))
		table := &cli.Table{Headers: []string{"AGENT", "MATCH", "RULE MODEL", "PREFERENCE"}}
		for _, rule := range cfg.Agents {
			pref, _, err := store.GetAgentModel(cmd.Context(), rule.Name)
			if err != nil {
				return err
			}
			v := agentView{Name: rule.Name, Match: rule.Match, RuleModel: rule.Model, Preference: pref}
			views = append(views, v)
			table.AddRow(v.Name, v.Match, orDash(v.RuleModel), orDash(v.Preference))
		}
		table.Records = views
		return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), table)
	})
}

func agentModel(cmd *cobra.Command, args []string) error {
	agent := args[0]
	return withAccountStore(func(cfg *config.Config, store accounts.Store) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		switch {
		case agentsFlags.clear:
			if err := store.SetAgentModel(ctx, agent, ""); err != nil {
				return cli.NewCommandError("agents model", err)
			}
			fmt.Fprintf(out, "✓ Preference for %s cleared\n", agent)
		case len(args) == 2:
			if err := store.SetAgentModel(ctx, agent, args[1]); err != nil {
				return cli.NewCommandError("agents model", err)
			}
			fmt.Fprintf(out, "✓ %s now uses %s\n", agent, args[1])
		default:
			model, ok, err := store.GetAgentModel(ctx, agent)
			if err != nil {
				return cli.NewCommandError("agents model", err)
			}
			if !ok {
				fmt.Fprintf(out, "%s has no stored preference\n", agent)
				return nil
			}
			fmt.Fprintln(out, model)
		}
		return nil
	})
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

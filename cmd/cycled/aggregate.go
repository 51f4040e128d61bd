package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/cycled/internal/aggregator"
	"github.com/fyrsmithlabs/cycled/internal/artifact"
	"github.com/fyrsmithlabs/cycled/internal/workspace"
)

var aggregateWorkspace string

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Fold a finished roster into the integration summary",
	Long: `Aggregate the handoff artifacts of every roster agent into one
integration summary with per-agent attribution.

Refuses to run until every agent is terminal. Pass --workspace to record a
final integration commit in that repository.

Examples:
  cycled aggregate --config cycled.yaml
  cycled aggregate --config cycled.yaml --workspace /srv/repo`,
	RunE: runAggregate,
}

func init() {
	aggregateCmd.Flags().StringVar(&aggregateWorkspace, "workspace", "", "repository for the final integration commit")
}

func runAggregate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, logger, cleanup, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	store, err := artifact.NewStore(cfg.ArtifactDir, logger)
	if err != nil {
		return err
	}

	var ws aggregator.Workspace
	if aggregateWorkspace != "" {
		manager, err := workspace.Open(aggregateWorkspace, logger)
		if err != nil {
			return fmt.Errorf("open workspace %s: %w", aggregateWorkspace, err)
		}
		ws = manager
	}

	agg, err := aggregator.New(store, cfg.Agents, ws, logger)
	if err != nil {
		return err
	}

	summary, err := agg.Aggregate(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "overall pass rate: %.2f%% (%d tests)\n", summary.OverallPassRate, summary.TotalTests)
	for _, a := range summary.Agents {
		flag := ""
		if a.Flagged {
			flag = "  [flagged]"
		}
		fmt.Fprintf(out, "  %-20s %-12s cycles=%d pass=%.2f%%%s\n",
			a.Agent, a.State, a.CyclesUsed, a.PassRate, flag)
	}
	if summary.CommitID != "" {
		fmt.Fprintf(out, "integration commit: %s\n", summary.CommitID)
	}
	return nil
}

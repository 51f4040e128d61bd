package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cycled/internal/artifact"
	"github.com/fyrsmithlabs/cycled/internal/evaluator"
	"github.com/fyrsmithlabs/cycled/internal/gate"
	"github.com/fyrsmithlabs/cycled/internal/scheduler"
	"github.com/fyrsmithlabs/cycled/internal/workspace"
)

var runAgentName string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one agent until it exits",
	Long: `Run one agent from its persisted state to its next exit.

The exit code is the agent's verdict:

  0   the agent reached a terminal state (MAINTENANCE or TERMINATED)
  42  the agent requests a process restart; invoke run again
  1   the agent ended in ERROR, or the runtime itself failed

Examples:
  # One agent under an external supervisor
  cycled run --config cycled.yaml --agent builder`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runAgentName, "agent", "", "agent name from the roster (required)")
	_ = runCmd.MarkFlagRequired("agent")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, logger, cleanup, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	desc, err := cfg.Agent(runAgentName)
	if err != nil {
		return err
	}

	store, err := artifact.NewStore(cfg.ArtifactDir, logger)
	if err != nil {
		return err
	}
	ws, err := workspace.Open(desc.Workspace, logger)
	if err != nil {
		return fmt.Errorf("open workspace %s: %w", desc.Workspace, err)
	}
	harness, err := evaluator.New(cfg.Harness, desc.Workspace, logger)
	if err != nil {
		return err
	}
	executor, err := scheduler.NewCommandExecutor(cfg.Executor, logger)
	if err != nil {
		return err
	}
	depGate := gate.New(store, cfg.Gate, logger)

	sched, err := scheduler.New(desc, store, ws, harness, executor, depGate, logger)
	if err != nil {
		return err
	}

	outcome, err := sched.Run(ctx)
	if err != nil {
		return fmt.Errorf("agent %s: %w", desc.Name, err)
	}

	if outcome.Restart {
		logger.Info("restart requested",
			zap.String("agent", desc.Name),
			zap.Int("cycle", outcome.Cycle),
		)
		return &exitCodeError{code: ExitRestart}
	}
	if outcome.State == artifact.StateError {
		logger.Error("agent ended in error",
			zap.String("agent", desc.Name),
			zap.String("reason", outcome.Reason),
		)
		return &exitCodeError{code: ExitError}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s after %d cycle(s), pass rate %.2f%%\n",
		desc.Name, outcome.State, outcome.Cycle, outcome.PassRate)
	return nil
}

// Cycled drives independent agents through bounded convergence cycles.
//
// The binary has three modes:
//
//	# Run one agent to its next exit (terminal, restart-requested, or error)
//	cycled run --config cycled.yaml --agent builder
//
//	# Run the whole roster, re-invoking agents that request restarts
//	cycled supervise --config cycled.yaml
//
//	# Fold a finished roster's handoffs into the integration summary
//	cycled aggregate --config cycled.yaml
//
// `run` communicates through its exit code: 0 means the agent reached a
// terminal state, 42 means it requested a process restart, anything else is
// an error. `supervise` is the bundled runtime that speaks that protocol; a
// systemd unit with Restart=on-failure and RestartForceExitStatus=42 works
// just as well.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cycled/internal/config"
	"github.com/fyrsmithlabs/cycled/internal/logging"
	"github.com/fyrsmithlabs/cycled/internal/telemetry"
)

// Exit codes of the run subcommand. ExitRestart is the restart request; any
// supervisor speaking the protocol re-invokes the process when it sees it.
const (
	ExitTerminal = 0
	ExitError    = 1
	ExitRestart  = 42
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "cycled",
	Short:   "Cycle-based convergence runtime for independent agents",
	Version: fmt.Sprintf("%s (%s)", version, gitCommit),

	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "cycled.yaml", "path to configuration file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(superviseCmd)
	rootCmd.AddCommand(aggregateCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			// A restart request is protocol, not a failure to report.
			os.Exit(exitErr.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(ExitError)
	}
}

// exitCodeError carries a specific process exit code out of a RunE.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string { return fmt.Sprintf("exit %d", e.code) }

// bootstrap loads config and builds the logger and telemetry shared by every
// subcommand. The returned cleanup flushes both.
func bootstrap(ctx context.Context) (*config.Config, *zap.Logger, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, nil, err
	}

	var tel *telemetry.Telemetry
	if cfg.Telemetry.Enabled {
		tel, err = telemetry.New(ctx, cfg.Telemetry)
		if err != nil {
			_ = logging.Sync(logger)
			return nil, nil, nil, fmt.Errorf("telemetry: %w", err)
		}
	}

	cleanup := func() {
		if tel != nil {
			if err := tel.Shutdown(context.Background()); err != nil {
				logger.Warn("telemetry shutdown", zap.Error(err))
			}
		}
		_ = logging.Sync(logger)
	}
	return cfg, logger, cleanup, nil
}

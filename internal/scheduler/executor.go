package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cycled/internal/config"
)

// TaskExecutor mutates the agent's workspace for one cycle. It is opaque:
// the only contract is "the workspace may have changed".
type TaskExecutor interface {
	Execute(ctx context.Context, agent config.AgentDescriptor) error
}

// ExecutionError means the task executor failed. Recoverable: the cycle is
// recorded as failed and the next cycle runs within budget.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("task executor failure: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// CommandExecutor runs the configured executor command in the agent's
// workspace with CYCLED_AGENT, CYCLED_WORKSPACE, and CYCLED_TASK set.
type CommandExecutor struct {
	command []string
	timeout time.Duration
	logger  *zap.Logger
}

// NewCommandExecutor creates the executor from config.
func NewCommandExecutor(cfg config.ExecutorConfig, logger *zap.Logger) (*CommandExecutor, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("executor command is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandExecutor{
		command: cfg.Command,
		timeout: cfg.Timeout.Duration(),
		logger:  logger,
	}, nil
}

// Execute runs the executor command once, bounded by the configured timeout.
func (e *CommandExecutor) Execute(ctx context.Context, agent config.AgentDescriptor) error {
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.command[0], e.command[1:]...)
	cmd.Dir = agent.Workspace
	cmd.Env = append(os.Environ(),
		"CYCLED_AGENT="+agent.Name,
		"CYCLED_WORKSPACE="+agent.Workspace,
		"CYCLED_TASK="+agent.Task,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		e.logger.Warn("task executor failed",
			zap.String("agent", agent.Name),
			zap.Error(err),
			zap.ByteString("output", tail(output, 2048)),
		)
		return &ExecutionError{Err: err}
	}
	e.logger.Debug("task executor finished", zap.String("agent", agent.Name))
	return nil
}

func tail(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}

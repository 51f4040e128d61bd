package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/cycled/internal/config"
	"github.com/fyrsmithlabs/cycled/internal/telemetry"
)

var superviseCmd = &cobra.Command{
	Use:   "supervise",
	Short: "Run the whole roster, honoring restart requests",
	Long: `Spawn one run process per roster agent and re-invoke any process
that exits with the restart code. Restarts are rate-limited across the
roster so a misconfigured agent cannot fork-bomb the host.

One agent ending in ERROR does not stop the others; the roster's final
states are left in the artifact directory for aggregate.

Examples:
  cycled supervise --config cycled.yaml`,
	RunE: runSupervise,
}

func runSupervise(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, logger, cleanup, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve own binary: %w", err)
	}

	// The metrics server is not part of the agent group: it must outlive
	// every agent, then stop when the roster is done, never the other way
	// around.
	var metrics *metricsServer
	if cfg.Supervisor.MetricsAddr != "" {
		metrics, err = startMetricsServer(cfg.Supervisor.MetricsAddr, logger)
		if err != nil {
			return err
		}
		defer metrics.Stop(logger)
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.Supervisor.RestartsPerMinute/60), cfg.Supervisor.RestartBurst)

	group, gctx := errgroup.WithContext(ctx)
	results := make(chan agentResult, len(cfg.Agents))
	for _, agent := range cfg.Agents {
		group.Go(func() error {
			err := superviseAgent(gctx, self, agent, limiter, logger)
			results <- agentResult{agent: agent.Name, err: err}
			// Agent failures are collected, not propagated: they must not
			// cancel the siblings.
			return nil
		})
	}
	_ = group.Wait()
	close(results)

	var failed []string
	for res := range results {
		if res.err != nil {
			failed = append(failed, res.agent)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d agent(s) ended in error: %v", len(failed), failed)
	}
	logger.Info("roster complete", zap.Int("agents", len(cfg.Agents)))
	return nil
}

type agentResult struct {
	agent string
	err   error
}

// superviseAgent re-invokes `cycled run` for one agent until it stops asking
// for restarts. Exit code 0 is terminal success; anything other than the
// restart code is an error.
func superviseAgent(ctx context.Context, self string, agent config.AgentDescriptor, limiter *rate.Limiter, logger *zap.Logger) error {
	log := logger.With(zap.String("agent", agent.Name))
	for {
		cmd := exec.CommandContext(ctx, self, "run", "--config", configPath, "--agent", agent.Name)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		err := cmd.Run()
		if err == nil {
			telemetry.AgentExitsTotal.WithLabelValues(agent.Name, "terminal").Inc()
			log.Info("agent reached terminal state")
			return nil
		}

		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || exitErr.ExitCode() != ExitRestart {
			telemetry.AgentExitsTotal.WithLabelValues(agent.Name, "error").Inc()
			log.Error("agent process ended in error", zap.Error(err))
			return err
		}

		telemetry.AgentExitsTotal.WithLabelValues(agent.Name, "restart").Inc()
		telemetry.AgentRestartsTotal.WithLabelValues(agent.Name).Inc()
		log.Info("agent requested restart")

		waited := time.Now()
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		telemetry.RestartThrottleSeconds.Add(time.Since(waited).Seconds())
	}
}

// metricsServer owns the supervisor's prometheus listener.
type metricsServer struct {
	srv   *http.Server
	addr  string
	errCh chan error
}

// startMetricsServer binds the listener up front so an unusable address
// fails supervise immediately instead of surfacing mid-run.
func startMetricsServer(addr string, logger *zap.Logger) (*metricsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.MetricsHandler())
	m := &metricsServer{
		srv:   &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		addr:  ln.Addr().String(),
		errCh: make(chan error, 1),
	}
	go func() { m.errCh <- m.srv.Serve(ln) }()

	logger.Info("metrics listening", zap.String("addr", m.addr))
	return m, nil
}

// Addr returns the bound listen address.
func (m *metricsServer) Addr() string { return m.addr }

// Stop drains the server and waits for the serve goroutine to return.
func (m *metricsServer) Stop(logger *zap.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = m.srv.Shutdown(shutdownCtx)
	if err := <-m.errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("metrics server", zap.Error(err))
	}
}

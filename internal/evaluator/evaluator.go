package evaluator

import (
	"context"
	"errors"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cycled/internal/config"
)

const instrumentationName = "github.com/fyrsmithlabs/cycled/internal/evaluator"

// errHarnessDeadline marks the evaluator's own timeout so it is never
// confused with a deadline or cancellation inherited from the caller.
var errHarnessDeadline = errors.New("harness deadline elapsed")

// Evaluator invokes the external test harness command.
type Evaluator struct {
	command []string
	timeout time.Duration
	dir     string
	logger  *zap.Logger

	tracer     trace.Tracer
	meter      metric.Meter
	runCounter metric.Int64Counter
}

// New creates an evaluator for the given harness command, run in dir.
func New(cfg config.HarnessConfig, dir string, logger *zap.Logger) (*Evaluator, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("harness command is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Evaluator{
		command: cfg.Command,
		timeout: cfg.Timeout.Duration(),
		dir:     dir,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
		meter:   otel.Meter(instrumentationName),
	}

	var err error
	e.runCounter, err = e.meter.Int64Counter(
		"cycled.evaluator.runs_total",
		metric.WithDescription("Total harness invocations"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		logger.Warn("failed to create run counter", zap.Error(err))
	}

	return e, nil
}

// Run executes the harness and parses its report. The call is bounded by the
// configured timeout; output is read until the process exits. A non-zero
// exit with a parseable report is failing tests, not an error.
func (e *Evaluator) Run(ctx context.Context) (TestMetrics, error) {
	ctx, span := e.tracer.Start(ctx, "evaluator.run")
	defer span.End()

	runCtx, cancel := context.WithTimeoutCause(ctx, e.timeout, errHarnessDeadline)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.command[0], e.command[1:]...)
	cmd.Dir = e.dir

	output, runErr := cmd.CombinedOutput()

	if runErr != nil {
		switch cause := context.Cause(runCtx); {
		case errors.Is(cause, errHarnessDeadline):
			e.recordRun(ctx, "timeout")
			span.RecordError(cause)
			return TestMetrics{}, &HarnessError{Reason: ReasonTimeout, Err: context.DeadlineExceeded}
		case cause != nil:
			// The caller's context ended, so the run was cancelled; that is
			// not the harness's fault and must not look like one.
			e.recordRun(ctx, "canceled")
			return TestMetrics{}, runCtx.Err()
		}

		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			// Could not start at all (missing binary, permission, ...).
			e.recordRun(ctx, "start_failure")
			span.RecordError(runErr)
			return TestMetrics{}, &HarnessError{Reason: ReasonStart, Err: runErr}
		}
	}

	metrics, ok := parseReport(string(output))
	if !ok {
		reason := ReasonNoReport
		if runErr != nil {
			reason = ReasonExit
		}
		e.recordRun(ctx, reason)
		return TestMetrics{}, &HarnessError{Reason: reason, Err: runErr}
	}

	e.recordRun(ctx, "report")
	span.SetAttributes(
		attribute.Int("tests.total", metrics.Total),
		attribute.Int("tests.failing", metrics.Failing),
	)
	e.logger.Info("harness report",
		zap.Int("total", metrics.Total),
		zap.Int("passing", metrics.Passing),
		zap.Int("failing", metrics.Failing),
		zap.Float64("pass_rate", metrics.PassRate()),
	)
	return metrics, nil
}

func (e *Evaluator) recordRun(ctx context.Context, outcome string) {
	if e.runCounter != nil {
		e.runCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

// summaryLine is the machine contract: harnesses that want exact counts emit
//
//	tests: total=12 passed=10 failed=2
//
// as their final summary. The last occurrence wins so incremental output is
// tolerated.
var summaryLine = regexp.MustCompile(`tests:\s+total=(\d+)\s+passed=(\d+)\s+failed=(\d+)`)

// parseReport recovers TestMetrics from harness output. It first looks for
// the summary-line contract, then falls back to counting go-test style
// "--- PASS:"/"--- FAIL:" lines. An "ok" trailer with no test lines is an
// empty suite, which is a valid report.
func parseReport(output string) (TestMetrics, bool) {
	if matches := summaryLine.FindAllStringSubmatch(output, -1); len(matches) > 0 {
		last := matches[len(matches)-1]
		total, _ := strconv.Atoi(last[1])
		passed, _ := strconv.Atoi(last[2])
		failed, _ := strconv.Atoi(last[3])
		if passed+failed != total {
			return TestMetrics{}, false
		}
		return TestMetrics{Total: total, Passing: passed, Failing: failed}, true
	}

	var passed, failed int
	var sawTrailer bool
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "--- PASS:"):
			passed++
		case strings.HasPrefix(trimmed, "--- FAIL:"):
			failed++
		case strings.HasPrefix(trimmed, "ok ") || trimmed == "PASS" || trimmed == "FAIL" || strings.HasPrefix(trimmed, "FAIL\t"):
			sawTrailer = true
		}
	}
	if passed+failed > 0 || sawTrailer {
		return TestMetrics{Total: passed + failed, Passing: passed, Failing: failed}, true
	}
	return TestMetrics{}, false
}

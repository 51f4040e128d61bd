package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cycled/internal/artifact"
	"github.com/fyrsmithlabs/cycled/internal/config"
	"github.com/fyrsmithlabs/cycled/internal/evaluator"
	"github.com/fyrsmithlabs/cycled/internal/gate"
	"github.com/fyrsmithlabs/cycled/internal/workspace"
)

const instrumentationName = "github.com/fyrsmithlabs/cycled/internal/scheduler"

// Failure reason codes surfaced through the StatusRecord.
const (
	ReasonDependencyTimeout = "dependency_timeout"
	ReasonCommitFailed      = "commit_failed"
	ReasonOperatorCancel    = "operator_cancel"
)

// Workspace is the slice of the workspace manager the scheduler needs.
type Workspace interface {
	DiffStats(ctx context.Context) (workspace.Snapshot, error)
	Commit(ctx context.Context, msg workspace.CommitMessage) (string, error)
}

// Harness runs the test command and extracts metrics.
type Harness interface {
	Run(ctx context.Context) (evaluator.TestMetrics, error)
}

// DependencyGate blocks until upstream handoffs are published.
type DependencyGate interface {
	Wait(ctx context.Context, deps []string, onBlocked func(missing []string)) error
}

// Scheduler drives one agent. One instance per process; all resume state is
// in the artifact store.
type Scheduler struct {
	desc     config.AgentDescriptor
	store    *artifact.Store
	ws       Workspace
	harness  Harness
	executor TaskExecutor
	gate     DependencyGate
	policy   Policy
	logger   *zap.Logger

	tracer       trace.Tracer
	meter        metric.Meter
	cycleCounter metric.Int64Counter
}

// New wires a scheduler for the described agent.
func New(desc config.AgentDescriptor, store *artifact.Store, ws Workspace, harness Harness, executor TaskExecutor, depGate DependencyGate, logger *zap.Logger) (*Scheduler, error) {
	if store == nil {
		return nil, errors.New("artifact store is required")
	}
	if ws == nil {
		return nil, errors.New("workspace is required")
	}
	if harness == nil {
		return nil, errors.New("harness is required")
	}
	if executor == nil {
		return nil, errors.New("task executor is required")
	}
	if depGate == nil {
		return nil, errors.New("dependency gate is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	policy, err := PolicyFor(desc.RestartMode)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		desc:     desc,
		store:    store,
		ws:       ws,
		harness:  harness,
		executor: executor,
		gate:     depGate,
		policy:   policy,
		logger:   logger.With(zap.String("agent", desc.Name)),
		tracer:   otel.Tracer(instrumentationName),
		meter:    otel.Meter(instrumentationName),
	}

	s.cycleCounter, err = s.meter.Int64Counter(
		"cycled.scheduler.cycles_total",
		metric.WithDescription("Completed cycles per decision"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		logger.Warn("failed to create cycle counter", zap.Error(err))
	}

	return s, nil
}

// Run resumes the agent from its persisted StatusRecord and drives cycles
// until a restart is requested or a terminal state is reached. Terminal
// failures are reported through the Outcome, not the error; a non-nil error
// means the coordination substrate itself failed.
func (s *Scheduler) Run(ctx context.Context) (*Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "scheduler.run",
		trace.WithAttributes(attribute.String("agent", s.desc.Name)))
	defer span.End()

	status, err := s.loadStatus()
	if err != nil {
		return nil, err
	}
	if status.State.Terminal() {
		s.logger.Info("agent already terminal", zap.String("state", string(status.State)))
		return &Outcome{State: status.State, Cycle: status.Cycle, PassRate: status.PassRate, Reason: status.Reason}, nil
	}

	if err := s.awaitDependencies(ctx, status); err != nil {
		if errors.Is(err, gate.ErrDependencyTimeout) {
			return s.fail(ctx, status, ReasonDependencyTimeout)
		}
		return nil, err
	}

	for cycle := status.Cycle + 1; cycle <= s.desc.MaxCycles; cycle++ {
		outcome, done, err := s.runCycle(ctx, status, cycle)
		if err != nil {
			return nil, err
		}
		if done {
			return outcome, nil
		}
	}

	// Policies end the run at max_cycles themselves; reaching this point
	// means the budget was already spent when we resumed.
	return s.finish(ctx, status, artifact.StateTerminated, "cycle budget spent before resume")
}

// runCycle executes one full cycle. done is false only for CONTINUE.
func (s *Scheduler) runCycle(ctx context.Context, status *artifact.StatusRecord, cycle int) (*Outcome, bool, error) {
	ctx, span := s.tracer.Start(ctx, "scheduler.cycle",
		trace.WithAttributes(attribute.Int("cycle", cycle)))
	defer span.End()

	rec := CycleRecord{
		CycleIndex: cycle,
		RunID:      uuid.New().String(),
		StartTime:  time.Now().UTC(),
	}

	status.Cycle = cycle
	if err := s.transition(status, artifact.StateExecuting, ""); err != nil {
		return nil, false, err
	}
	if err := s.executor.Execute(ctx, s.desc); err != nil {
		// Recoverable: record and keep going so the work, if any, is
		// still evaluated and preserved.
		rec.Failure = err.Error()
		s.logger.Warn("execution failed", zap.Int("cycle", cycle), zap.Error(err))
	}

	if err := s.transition(status, artifact.StateEvaluating, ""); err != nil {
		return nil, false, err
	}
	metrics, err := s.harness.Run(ctx)
	if err != nil {
		var harnessErr *evaluator.HarnessError
		if !errors.As(err, &harnessErr) {
			return nil, false, fmt.Errorf("harness: %w", err)
		}
		// A failed cycle, but preservation still runs.
		rec.Failure = strings.TrimSpace(rec.Failure + "; " + harnessErr.Error())
		rec.Failure = strings.TrimPrefix(rec.Failure, "; ")
		metrics = evaluator.TestMetrics{}
	} else {
		// Last known metrics survive restarts and feed any later ERROR
		// handoff; a failed harness run never erases them.
		status.Metrics = metrics
		status.PassRate = metrics.PassRate()
	}
	rec.Metrics = metrics

	if err := s.transition(status, artifact.StatePreserving, ""); err != nil {
		return nil, false, err
	}
	commitID, snap, err := s.preserve(ctx, rec.RunID)
	if err != nil {
		s.logger.Error("preservation failed after retry", zap.Int("cycle", cycle), zap.Error(err))
		rec.EndTime = time.Now().UTC()
		rec.Reason = ReasonCommitFailed
		if jerr := s.store.AppendCycle(s.desc.Name, rec); jerr != nil {
			return nil, false, jerr
		}
		outcome, err := s.fail(ctx, status, ReasonCommitFailed)
		return outcome, true, err
	}
	rec.CommitID = commitID
	rec.Snapshot = snap
	status.Files.Modified += snap.FilesModified
	status.Files.Added += snap.FilesAdded
	status.Files.Deleted += snap.FilesDeleted

	if err := s.transition(status, artifact.StateDeciding, ""); err != nil {
		return nil, false, err
	}
	decision, reason := s.policy.Decide(cycle, s.desc.MaxCycles, metrics.PassRate(), s.desc.TargetPassRate)
	if s.store.CancelRequested() {
		// The preserve above has already completed; cancellation never
		// discards uncommitted work.
		decision, reason = DecisionDone, ReasonOperatorCancel
	}
	rec.Decision = decision
	rec.Reason = reason
	rec.EndTime = time.Now().UTC()

	if err := s.store.AppendCycle(s.desc.Name, rec); err != nil {
		return nil, false, err
	}
	if s.cycleCounter != nil {
		s.cycleCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("agent", s.desc.Name),
			attribute.String("decision", string(decision)),
		))
	}
	s.logger.Info("cycle decided",
		zap.Int("cycle", cycle),
		zap.Float64("pass_rate", metrics.PassRate()),
		zap.String("decision", string(decision)),
		zap.String("reason", reason),
	)

	switch decision {
	case DecisionContinue:
		return nil, false, nil
	case DecisionRestart:
		// Not a stored state: persist where the next process resumes.
		if err := s.transition(status, artifact.StateAwaitDeps, "restart requested"); err != nil {
			return nil, false, err
		}
		return &Outcome{Restart: true, Cycle: cycle, PassRate: status.PassRate, Reason: reason}, true, nil
	case DecisionMaintain:
		outcome, err := s.finish(ctx, status, artifact.StateMaintenance, reason)
		return outcome, true, err
	default: // DecisionDone
		outcome, err := s.finish(ctx, status, artifact.StateTerminated, reason)
		return outcome, true, err
	}
}

// preserve commits the workspace, retrying a backend rejection exactly once.
// It runs on a context detached from cancellation: the commit is the one
// operation guaranteed to finish before any exit.
func (s *Scheduler) preserve(ctx context.Context, runID string) (string, workspace.Snapshot, error) {
	pctx := context.WithoutCancel(ctx)

	snap, err := s.ws.DiffStats(pctx)
	if err != nil {
		return "", workspace.Snapshot{}, fmt.Errorf("diff stats: %w", err)
	}

	msg := workspace.CommitMessage{
		Agent:     s.desc.Name,
		Purpose:   workspace.PurposeCheckpoint,
		Snapshot:  snap,
		RunID:     runID,
		Timestamp: time.Now().UTC(),
	}

	commitID, err := s.ws.Commit(pctx, msg)
	if errors.Is(err, workspace.ErrNoChanges) {
		return "", snap, nil
	}
	var commitErr *workspace.CommitError
	if errors.As(err, &commitErr) {
		s.logger.Warn("commit rejected, retrying once", zap.Error(err))
		commitID, err = s.ws.Commit(pctx, msg)
		if errors.Is(err, workspace.ErrNoChanges) {
			return "", snap, nil
		}
	}
	if err != nil {
		return "", snap, err
	}
	return commitID, snap, nil
}

func (s *Scheduler) awaitDependencies(ctx context.Context, status *artifact.StatusRecord) error {
	if err := s.transition(status, artifact.StateAwaitDeps, ""); err != nil {
		return err
	}
	return s.gate.Wait(ctx, s.desc.DependsOn, func(missing []string) {
		// Best effort: the wait itself is the authoritative behavior.
		status.Reason = "blocked on " + strings.Join(missing, ",")
		if err := s.store.WriteStatus(*status); err != nil {
			s.logger.Warn("failed to surface blocked status", zap.Error(err))
		}
	})
}

// loadStatus hydrates the persisted record, creating it on first start.
func (s *Scheduler) loadStatus() (*artifact.StatusRecord, error) {
	status, err := s.store.ReadStatus(s.desc.Name)
	if errors.Is(err, artifact.ErrNotFound) {
		status = &artifact.StatusRecord{
			Agent:     s.desc.Name,
			State:     artifact.StateInit,
			StartedAt: time.Now().UTC(),
		}
		if err := s.store.WriteStatus(*status); err != nil {
			return nil, err
		}
		return status, nil
	}
	if err != nil {
		return nil, err
	}
	return status, nil
}

func (s *Scheduler) transition(status *artifact.StatusRecord, state artifact.State, reason string) error {
	status.State = state
	status.Reason = reason
	return s.store.WriteStatus(*status)
}

// finish publishes the handoff artifact and persists the terminal state. The
// handoff always carries the status record's last known metrics, so an ERROR
// after a restart reports the numbers from the last parsed harness run.
func (s *Scheduler) finish(ctx context.Context, status *artifact.StatusRecord, state artifact.State, reason string) (*Outcome, error) {
	handoff := artifact.HandoffArtifact{
		Agent:           s.desc.Name,
		StartTime:       status.StartedAt,
		EndTime:         time.Now().UTC(),
		CyclesUsed:      status.Cycle,
		TestMetrics:     status.Metrics,
		FilesChanged:    status.Files,
		Recommendations: s.recommendations(state, status, reason),
		Flagged:         state == artifact.StateError,
	}
	if err := s.store.WriteHandoff(handoff); err != nil && !errors.Is(err, artifact.ErrHandoffExists) {
		return nil, err
	}
	if err := s.transition(status, state, reason); err != nil {
		return nil, err
	}
	s.logger.Info("agent finished",
		zap.String("state", string(state)),
		zap.Int("cycles_used", status.Cycle),
		zap.Float64("pass_rate", status.PassRate),
		zap.String("reason", reason),
	)
	return &Outcome{State: state, Cycle: status.Cycle, PassRate: status.PassRate, Reason: reason}, nil
}

// fail is finish for the ERROR state: the handoff is still published, with
// last known metrics, flagged for the aggregator.
func (s *Scheduler) fail(ctx context.Context, status *artifact.StatusRecord, reason string) (*Outcome, error) {
	return s.finish(ctx, status, artifact.StateError, reason)
}

func (s *Scheduler) recommendations(state artifact.State, status *artifact.StatusRecord, reason string) string {
	switch state {
	case artifact.StateMaintenance:
		return fmt.Sprintf("target met at cycle %d of %d; pass rate %.2f%%", status.Cycle, s.desc.MaxCycles, status.PassRate)
	case artifact.StateTerminated:
		if status.PassRate < s.desc.TargetPassRate {
			return fmt.Sprintf("budget spent at %.2f%% below target %.2f%%; consider a larger cycle budget or a smaller task partition", status.PassRate, s.desc.TargetPassRate)
		}
		return fmt.Sprintf("budget spent; final pass rate %.2f%%", status.PassRate)
	default:
		return "ended in error: " + reason
	}
}

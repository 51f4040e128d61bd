package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/cycled/internal/artifact"
	"github.com/fyrsmithlabs/cycled/internal/config"
	"github.com/fyrsmithlabs/cycled/internal/evaluator"
	"github.com/fyrsmithlabs/cycled/internal/gate"
	"github.com/fyrsmithlabs/cycled/internal/workspace"
)

type fakeWorkspace struct {
	snapshots  []workspace.Snapshot
	commitErrs []error
	commits    int
	diffs      int
}

func (f *fakeWorkspace) DiffStats(ctx context.Context) (workspace.Snapshot, error) {
	snap := workspace.Snapshot{FilesModified: 1, LinesAdded: 10}
	if f.diffs < len(f.snapshots) {
		snap = f.snapshots[f.diffs]
	}
	f.diffs++
	return snap, nil
}

func (f *fakeWorkspace) Commit(ctx context.Context, msg workspace.CommitMessage) (string, error) {
	idx := f.commits
	f.commits++
	if idx < len(f.commitErrs) && f.commitErrs[idx] != nil {
		return "", f.commitErrs[idx]
	}
	return "commit-abc", nil
}

type fakeHarness struct {
	metrics []evaluator.TestMetrics
	errs    []error
	runs    int
}

func (f *fakeHarness) Run(ctx context.Context) (evaluator.TestMetrics, error) {
	idx := f.runs
	f.runs++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return evaluator.TestMetrics{}, f.errs[idx]
	}
	if idx < len(f.metrics) {
		return f.metrics[idx], nil
	}
	return evaluator.TestMetrics{Total: 10, Passing: 10}, nil
}

type fakeExecutor struct {
	errs []error
	runs int
}

func (f *fakeExecutor) Execute(ctx context.Context, agent config.AgentDescriptor) error {
	idx := f.runs
	f.runs++
	if idx < len(f.errs) {
		return f.errs[idx]
	}
	return nil
}

type fakeGate struct {
	err  error
	deps []string
}

func (f *fakeGate) Wait(ctx context.Context, deps []string, onBlocked func([]string)) error {
	f.deps = deps
	return f.err
}

func newTestStore(t *testing.T) *artifact.Store {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return store
}

func newScheduler(t *testing.T, desc config.AgentDescriptor, store *artifact.Store, ws *fakeWorkspace, h *fakeHarness, ex *fakeExecutor, g *fakeGate) *Scheduler {
	t.Helper()
	s, err := New(desc, store, ws, h, ex, g, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func goalAgent(maxCycles int, target float64) config.AgentDescriptor {
	return config.AgentDescriptor{
		Name:           "builder",
		MaxCycles:      maxCycles,
		TargetPassRate: target,
		RestartMode:    config.RestartGoalOriented,
		Workspace:      "/tmp/ws",
	}
}

func TestRun_GoalOriented_StopsEarlyWhenTargetMet(t *testing.T) {
	store := newTestStore(t)
	ws := &fakeWorkspace{}
	harness := &fakeHarness{metrics: []evaluator.TestMetrics{
		{Total: 25, Passing: 20},
		{Total: 25, Passing: 23}, // 92%
	}}
	exec := &fakeExecutor{}
	s := newScheduler(t, goalAgent(5, 90), store, ws, harness, exec, &fakeGate{})

	outcome, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, artifact.StateMaintenance, outcome.State)
	assert.False(t, outcome.Restart)
	assert.Equal(t, 2, outcome.Cycle)
	assert.InDelta(t, 92.0, outcome.PassRate, 0.001)
	// Cycles 3..5 never ran.
	assert.Equal(t, 2, exec.runs)

	handoff, err := store.ReadHandoff("builder")
	require.NoError(t, err)
	assert.Equal(t, 2, handoff.CyclesUsed)
	assert.False(t, handoff.Flagged)
	assert.Equal(t, 23, handoff.TestMetrics.Passing)

	status, err := store.ReadStatus("builder")
	require.NoError(t, err)
	assert.Equal(t, artifact.StateMaintenance, status.State)
}

func TestRun_Unconditional_RestartsThenTerminatesAtBudget(t *testing.T) {
	store := newTestStore(t)
	desc := goalAgent(5, 90)
	desc.RestartMode = config.RestartUnconditional

	// Each process run does exactly one cycle, then asks for a restart.
	for cycle := 1; cycle < 5; cycle++ {
		s := newScheduler(t, desc, store, &fakeWorkspace{}, &fakeHarness{}, &fakeExecutor{}, &fakeGate{})
		outcome, err := s.Run(context.Background())
		require.NoError(t, err)
		assert.True(t, outcome.Restart, "cycle %d", cycle)
		assert.Equal(t, cycle, outcome.Cycle)

		status, err := store.ReadStatus("builder")
		require.NoError(t, err)
		assert.Equal(t, artifact.StateAwaitDeps, status.State)
		assert.Equal(t, cycle, status.Cycle)
	}

	s := newScheduler(t, desc, store, &fakeWorkspace{}, &fakeHarness{}, &fakeExecutor{}, &fakeGate{})
	outcome, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, outcome.Restart)
	assert.Equal(t, artifact.StateTerminated, outcome.State)
	assert.Equal(t, 5, outcome.Cycle)
}

func TestRun_ResumesFromPersistedCycle(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.WriteStatus(artifact.StatusRecord{
		Agent: "builder",
		State: artifact.StateAwaitDeps,
		Cycle: 4,
		Files: artifact.FilesChanged{Modified: 7},
	}))

	exec := &fakeExecutor{}
	harness := &fakeHarness{metrics: []evaluator.TestMetrics{{Total: 10, Passing: 5}}}
	s := newScheduler(t, goalAgent(5, 90), store, &fakeWorkspace{}, harness, exec, &fakeGate{})
	outcome, err := s.Run(context.Background())
	require.NoError(t, err)

	// Only cycle 5 remained in the budget.
	assert.Equal(t, 1, exec.runs)
	assert.Equal(t, artifact.StateTerminated, outcome.State)
	assert.Equal(t, 5, outcome.Cycle)

	// Churn from before the restart is carried into the handoff.
	handoff, err := store.ReadHandoff("builder")
	require.NoError(t, err)
	assert.Equal(t, 8, handoff.FilesChanged.Modified)
}

func TestRun_TerminalStateShortCircuits(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.WriteStatus(artifact.StatusRecord{
		Agent:    "builder",
		State:    artifact.StateTerminated,
		Cycle:    5,
		PassRate: 88,
	}))

	exec := &fakeExecutor{}
	s := newScheduler(t, goalAgent(5, 90), store, &fakeWorkspace{}, &fakeHarness{}, exec, &fakeGate{})
	outcome, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, artifact.StateTerminated, outcome.State)
	assert.Zero(t, exec.runs)
}

func TestRun_CommitRetryThenError(t *testing.T) {
	store := newTestStore(t)
	ws := &fakeWorkspace{commitErrs: []error{
		&workspace.CommitError{Err: errors.New("lock held")},
		&workspace.CommitError{Err: errors.New("lock held")},
	}}
	s := newScheduler(t, goalAgent(5, 90), store, ws, &fakeHarness{}, &fakeExecutor{}, &fakeGate{})

	outcome, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, artifact.StateError, outcome.State)
	assert.Equal(t, ReasonCommitFailed, outcome.Reason)
	assert.Equal(t, 2, ws.commits)

	handoff, err := store.ReadHandoff("builder")
	require.NoError(t, err)
	assert.True(t, handoff.Flagged)
}

func TestRun_CommitRetrySucceeds(t *testing.T) {
	store := newTestStore(t)
	ws := &fakeWorkspace{commitErrs: []error{
		&workspace.CommitError{Err: errors.New("transient")},
	}}
	harness := &fakeHarness{metrics: []evaluator.TestMetrics{{Total: 10, Passing: 10}}}
	s := newScheduler(t, goalAgent(5, 90), store, ws, harness, &fakeExecutor{}, &fakeGate{})

	outcome, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, artifact.StateMaintenance, outcome.State)
	assert.Equal(t, 2, ws.commits)
}

func TestRun_NoChangesIsNotAFailure(t *testing.T) {
	store := newTestStore(t)
	ws := &fakeWorkspace{commitErrs: []error{workspace.ErrNoChanges}}
	s := newScheduler(t, goalAgent(1, 90), store, ws, &fakeHarness{}, &fakeExecutor{}, &fakeGate{})

	outcome, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, artifact.StateError, outcome.State)
}

func TestRun_ExecutionFailureIsRecoverable(t *testing.T) {
	store := newTestStore(t)
	exec := &fakeExecutor{errs: []error{&ExecutionError{Err: errors.New("crashed")}}}
	harness := &fakeHarness{metrics: []evaluator.TestMetrics{
		{Total: 10, Passing: 4},
		{Total: 10, Passing: 10},
	}}
	s := newScheduler(t, goalAgent(5, 90), store, &fakeWorkspace{}, harness, exec, &fakeGate{})

	outcome, err := s.Run(context.Background())
	require.NoError(t, err)

	// The failed cycle still evaluated and preserved; cycle 2 met the goal.
	assert.Equal(t, artifact.StateMaintenance, outcome.State)
	assert.Equal(t, 2, exec.runs)
}

func TestRun_HarnessFailureIsRecoverable(t *testing.T) {
	store := newTestStore(t)
	harness := &fakeHarness{
		errs:    []error{&evaluator.HarnessError{Reason: evaluator.ReasonNoReport, Err: errors.New("no summary")}},
		metrics: []evaluator.TestMetrics{{}, {Total: 10, Passing: 10}},
	}
	s := newScheduler(t, goalAgent(5, 90), store, &fakeWorkspace{}, harness, &fakeExecutor{}, &fakeGate{})

	outcome, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, artifact.StateMaintenance, outcome.State)
	assert.Equal(t, 2, harness.runs)
}

func TestRun_DependencyTimeoutEndsInError(t *testing.T) {
	store := newTestStore(t)
	g := &fakeGate{err: gate.ErrDependencyTimeout}
	desc := goalAgent(5, 90)
	desc.DependsOn = []string{"schema"}
	exec := &fakeExecutor{}
	s := newScheduler(t, desc, store, &fakeWorkspace{}, &fakeHarness{}, exec, g)

	outcome, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, artifact.StateError, outcome.State)
	assert.Equal(t, ReasonDependencyTimeout, outcome.Reason)
	assert.Equal(t, []string{"schema"}, g.deps)
	assert.Zero(t, exec.runs)

	handoff, err := store.ReadHandoff("builder")
	require.NoError(t, err)
	assert.True(t, handoff.Flagged)
}

func TestRun_DependencyTimeoutAfterRestartKeepsLastMetrics(t *testing.T) {
	store := newTestStore(t)
	// A previous process completed two cycles before requesting a restart.
	require.NoError(t, store.WriteStatus(artifact.StatusRecord{
		Agent:    "builder",
		State:    artifact.StateAwaitDeps,
		Cycle:    2,
		PassRate: 80,
		Metrics:  evaluator.TestMetrics{Total: 10, Passing: 8, Failing: 2},
	}))

	desc := goalAgent(5, 90)
	desc.DependsOn = []string{"schema"}
	g := &fakeGate{err: gate.ErrDependencyTimeout}
	s := newScheduler(t, desc, store, &fakeWorkspace{}, &fakeHarness{}, &fakeExecutor{}, g)

	outcome, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, artifact.StateError, outcome.State)
	assert.InDelta(t, 80.0, outcome.PassRate, 0.001)

	handoff, err := store.ReadHandoff("builder")
	require.NoError(t, err)
	assert.True(t, handoff.Flagged)
	assert.Equal(t, evaluator.TestMetrics{Total: 10, Passing: 8, Failing: 2}, handoff.TestMetrics,
		"last known metrics survive the restart into the flagged handoff")
}

func TestRun_CancelMarkerEndsRunAfterPreserve(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.RequestCancel())

	ws := &fakeWorkspace{}
	harness := &fakeHarness{metrics: []evaluator.TestMetrics{{Total: 10, Passing: 1}}}
	s := newScheduler(t, goalAgent(5, 90), store, ws, harness, &fakeExecutor{}, &fakeGate{})

	outcome, err := s.Run(context.Background())
	require.NoError(t, err)

	// The policy would have continued; the marker overrides, but only
	// after the cycle's work was committed.
	assert.Equal(t, artifact.StateTerminated, outcome.State)
	assert.Equal(t, ReasonOperatorCancel, outcome.Reason)
	assert.Equal(t, 1, ws.commits)
}

func TestRun_AccumulatesFileChurnAcrossCycles(t *testing.T) {
	store := newTestStore(t)
	ws := &fakeWorkspace{snapshots: []workspace.Snapshot{
		{FilesModified: 3, FilesAdded: 1},
		{FilesModified: 2, FilesDeleted: 1},
	}}
	harness := &fakeHarness{metrics: []evaluator.TestMetrics{
		{Total: 10, Passing: 5},
		{Total: 10, Passing: 10},
	}}
	s := newScheduler(t, goalAgent(5, 90), store, ws, harness, &fakeExecutor{}, &fakeGate{})

	_, err := s.Run(context.Background())
	require.NoError(t, err)

	handoff, err := store.ReadHandoff("builder")
	require.NoError(t, err)
	assert.Equal(t, artifact.FilesChanged{Modified: 5, Added: 1, Deleted: 1}, handoff.FilesChanged)
}

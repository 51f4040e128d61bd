package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cycled/internal/evaluator"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestNewStore_RequiresDir(t *testing.T) {
	_, err := NewStore("", nil)
	require.Error(t, err)
}

func TestStatus_Roundtrip(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.WriteStatus(StatusRecord{
		Agent:    "alpha",
		State:    StateExecuting,
		Cycle:    3,
		PassRate: 72.5,
	}))

	rec, err := s.ReadStatus("alpha")
	require.NoError(t, err)
	assert.Equal(t, StateExecuting, rec.State)
	assert.Equal(t, 3, rec.Cycle)
	assert.Equal(t, 72.5, rec.PassRate)
	assert.False(t, rec.UpdatedAt.IsZero())
}

func TestReadStatus_NotFound(t *testing.T) {
	s := newStore(t)

	_, err := s.ReadStatus("ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriteStatus_AtomicReplacement(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.WriteStatus(StatusRecord{Agent: "alpha", State: StateInit}))
	require.NoError(t, s.WriteStatus(StatusRecord{Agent: "alpha", State: StateExecuting, Cycle: 1}))

	// No temp droppings left behind, and the visible file parses whole.
	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp-"), "temp file leaked: %s", e.Name())
	}

	rec, err := s.ReadStatus("alpha")
	require.NoError(t, err)
	assert.Equal(t, StateExecuting, rec.State)
}

func TestListStatus_Sorted(t *testing.T) {
	s := newStore(t)
	for _, name := range []string{"charlie", "alpha", "bravo"} {
		require.NoError(t, s.WriteStatus(StatusRecord{Agent: name, State: StateInit}))
	}

	records, err := s.ListStatus()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "alpha", records[0].Agent)
	assert.Equal(t, "bravo", records[1].Agent)
	assert.Equal(t, "charlie", records[2].Agent)
}

func TestHandoff_WriteOnce(t *testing.T) {
	s := newStore(t)
	h := HandoffArtifact{
		Agent:       "alpha",
		StartTime:   time.Now().Add(-time.Hour),
		EndTime:     time.Now(),
		CyclesUsed:  4,
		TestMetrics: evaluator.TestMetrics{Total: 10, Passing: 9, Failing: 1},
		FilesChanged: FilesChanged{
			Modified: 3, Added: 1,
		},
		Recommendations: "review error handling in the parser",
	}

	require.NoError(t, s.WriteHandoff(h))
	assert.ErrorIs(t, s.WriteHandoff(h), ErrHandoffExists)

	got, err := s.ReadHandoff("alpha")
	require.NoError(t, err)
	assert.Equal(t, 4, got.CyclesUsed)
	assert.Equal(t, 9, got.TestMetrics.Passing)
}

func TestReadHandoff_Malformed(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "alpha.handoff.json"), []byte("{not json"), 0o644))

	_, err := s.ReadHandoff("alpha")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestReadHandoff_WrongAgentIsMalformed(t *testing.T) {
	s := newStore(t)
	data, err := json.Marshal(HandoffArtifact{Agent: "beta"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "alpha.handoff.json"), data, 0o644))

	_, err = s.ReadHandoff("alpha")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestAppendCycle_Journal(t *testing.T) {
	s := newStore(t)
	type rec struct {
		Cycle int `json:"cycle"`
	}
	require.NoError(t, s.AppendCycle("alpha", rec{Cycle: 1}))
	require.NoError(t, s.AppendCycle("alpha", rec{Cycle: 2}))

	data, err := os.ReadFile(filepath.Join(s.Dir(), "alpha.cycles.jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"cycle":1}`, lines[0])
	assert.JSONEq(t, `{"cycle":2}`, lines[1])
}

func TestSummary_Roundtrip(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.WriteSummary(IntegrationSummary{
		OverallPassRate: 86.67,
		TotalTests:      30,
		Agents: []Attribution{
			{Agent: "alpha", State: StateTerminated, PassRate: 100},
		},
	}))

	sum, err := s.ReadSummary()
	require.NoError(t, err)
	assert.Equal(t, 86.67, sum.OverallPassRate)
	require.Len(t, sum.Agents, 1)
}

func TestCancelMarker(t *testing.T) {
	s := newStore(t)
	assert.False(t, s.CancelRequested())
	require.NoError(t, s.RequestCancel())
	assert.True(t, s.CancelRequested())
}

func TestStateTerminal(t *testing.T) {
	assert.True(t, StateMaintenance.Terminal())
	assert.True(t, StateTerminated.Terminal())
	assert.True(t, StateError.Terminal())
	assert.False(t, StateExecuting.Terminal())
	assert.False(t, StateAwaitDeps.Terminal())
}

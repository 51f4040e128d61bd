package scheduler

import (
	"time"

	"github.com/fyrsmithlabs/cycled/internal/artifact"
	"github.com/fyrsmithlabs/cycled/internal/evaluator"
	"github.com/fyrsmithlabs/cycled/internal/workspace"
)

// CycleRecord is one line in the agent's append-only cycle journal.
type CycleRecord struct {
	CycleIndex int                   `json:"cycle_index"`
	RunID      string                `json:"run_id"`
	StartTime  time.Time             `json:"start_time"`
	EndTime    time.Time             `json:"end_time"`
	Metrics    evaluator.TestMetrics `json:"test_metrics"`
	Snapshot   workspace.Snapshot    `json:"snapshot"`
	// CommitID is empty when preservation was a no-op.
	CommitID string   `json:"commit_id,omitempty"`
	Decision Decision `json:"decision"`
	Reason   string   `json:"reason"`
	// Failure notes a recoverable execution or harness failure this cycle.
	Failure string `json:"failure,omitempty"`
}

// Outcome is what one scheduler run hands back to the process runtime.
type Outcome struct {
	// State is the persisted terminal state, or empty when Restart is set.
	State artifact.State
	// Restart asks the runtime to re-invoke the process.
	Restart  bool
	Cycle    int
	PassRate float64
	Reason   string
}

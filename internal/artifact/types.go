package artifact

import (
	"time"

	"github.com/fyrsmithlabs/cycled/internal/evaluator"
)

// State is an agent's scheduler state as persisted in its StatusRecord.
// RESTARTING is deliberately absent: a restart is a process exit code, not a
// stored state.
type State string

const (
	StateInit       State = "INIT"
	StateAwaitDeps  State = "AWAIT_DEPENDENCIES"
	StateExecuting  State = "EXECUTING"
	StateEvaluating State = "EVALUATING"
	StatePreserving State = "PRESERVING"
	StateDeciding   State = "DECIDING"

	StateMaintenance State = "MAINTENANCE"
	StateTerminated  State = "TERMINATED"
	StateError       State = "ERROR"
)

// Terminal reports whether the state ends the agent's run.
func (s State) Terminal() bool {
	switch s {
	case StateMaintenance, StateTerminated, StateError:
		return true
	}
	return false
}

// StatusRecord is the externally observable, restart-surviving state of one
// agent. It is rewritten atomically on every transition.
type StatusRecord struct {
	Agent     string    `json:"agent"`
	State     State     `json:"state"`
	Cycle     int       `json:"cycle"`
	PassRate  float64   `json:"pass_rate"`
	Reason    string    `json:"reason,omitempty"`
	// Metrics holds the last successfully parsed harness report so an ERROR
	// after a restart still hands off the last known numbers.
	Metrics evaluator.TestMetrics `json:"test_metrics"`
	// Files accumulates workspace churn across cycles and restarts so the
	// final handoff reflects the whole run.
	Files     FilesChanged `json:"files_changed"`
	StartedAt time.Time    `json:"started_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// FilesChanged summarizes workspace churn for a handoff.
type FilesChanged struct {
	Modified int `json:"modified"`
	Added    int `json:"added"`
	Deleted  int `json:"deleted"`
}

// HandoffArtifact is the immutable record a terminal agent publishes for its
// dependents and the aggregator. Written at most once per agent.
type HandoffArtifact struct {
	Agent           string                `json:"agent"`
	StartTime       time.Time             `json:"start_time"`
	EndTime         time.Time             `json:"end_time"`
	CyclesUsed      int                   `json:"cycles_used"`
	TestMetrics     evaluator.TestMetrics `json:"test_metrics"`
	FilesChanged    FilesChanged          `json:"files_changed"`
	Recommendations string                `json:"recommendations,omitempty"`
	// Flagged marks agents that ended in ERROR; the aggregator includes
	// them with last known metrics rather than silently excluding them.
	Flagged bool `json:"flagged,omitempty"`
}

// IntegrationSummary is the aggregator's final artifact.
type IntegrationSummary struct {
	OverallPassRate float64       `json:"overall_pass_rate"`
	TotalTests      int           `json:"total_tests"`
	Agents          []Attribution `json:"agents"`
	CommitID        string        `json:"commit_id,omitempty"`
	GeneratedAt     time.Time     `json:"generated_at"`
}

// Attribution is one agent's line in the integration summary.
type Attribution struct {
	Agent        string                `json:"agent"`
	State        State                 `json:"state"`
	CyclesUsed   int                   `json:"cycles_used"`
	PassRate     float64               `json:"pass_rate"`
	TestMetrics  evaluator.TestMetrics `json:"test_metrics"`
	FilesChanged FilesChanged          `json:"files_changed"`
	Flagged      bool                  `json:"flagged,omitempty"`
}

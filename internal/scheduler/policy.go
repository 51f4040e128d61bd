package scheduler

import (
	"fmt"

	"github.com/fyrsmithlabs/cycled/internal/config"
)

// Decision is a restart policy's verdict after one cycle.
type Decision string

const (
	// DecisionContinue runs the next cycle in the same process.
	DecisionContinue Decision = "CONTINUE"
	// DecisionRestart exits the process so the runtime re-invokes it fresh.
	DecisionRestart Decision = "RESTART"
	// DecisionMaintain ends the run early with the target met.
	DecisionMaintain Decision = "MAINTAIN"
	// DecisionDone ends the run with the cycle budget spent.
	DecisionDone Decision = "DONE"
)

// Policy decides what happens after a cycle. Implementations are stateless;
// the scheduler records the decision and reason in the cycle journal.
type Policy interface {
	Name() string
	Decide(cycleIndex, maxCycles int, passRate, target float64) (Decision, string)
}

// PolicyFor returns the policy for a roster restart mode.
func PolicyFor(mode string) (Policy, error) {
	switch mode {
	case config.RestartUnconditional:
		return UnconditionalPolicy{}, nil
	case config.RestartGoalOriented:
		return GoalOrientedPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown restart mode: %q", mode)
	}
}

// UnconditionalPolicy restarts the process after every cycle until the
// budget is spent, regardless of pass rate. Forcing a full context reset
// each cycle keeps the agent from anchoring on a bad local solution; the
// committed artifacts are what persists between attempts.
type UnconditionalPolicy struct{}

func (UnconditionalPolicy) Name() string { return config.RestartUnconditional }

func (UnconditionalPolicy) Decide(cycleIndex, maxCycles int, passRate, target float64) (Decision, string) {
	if cycleIndex >= maxCycles {
		return DecisionDone, fmt.Sprintf("cycle budget spent (%d/%d)", cycleIndex, maxCycles)
	}
	return DecisionRestart, fmt.Sprintf("unconditional restart schedule (%d/%d)", cycleIndex, maxCycles)
}

// GoalOrientedPolicy stops as soon as the target pass rate is met and
// otherwise continues in-process. Cheaper than the unconditional schedule,
// at the risk of reusing in-process state that converged on a poor solution.
type GoalOrientedPolicy struct{}

func (GoalOrientedPolicy) Name() string { return config.RestartGoalOriented }

func (GoalOrientedPolicy) Decide(cycleIndex, maxCycles int, passRate, target float64) (Decision, string) {
	if passRate >= target {
		return DecisionMaintain, fmt.Sprintf("pass rate %.2f%% meets target %.2f%%", passRate, target)
	}
	if cycleIndex >= maxCycles {
		return DecisionDone, fmt.Sprintf("cycle budget spent (%d/%d) below target %.2f%%", cycleIndex, maxCycles, target)
	}
	return DecisionContinue, fmt.Sprintf("pass rate %.2f%% below target %.2f%%", passRate, target)
}

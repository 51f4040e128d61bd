package evaluator

import "fmt"

// Harness failure reasons.
const (
	ReasonStart    = "start"
	ReasonTimeout  = "timeout"
	ReasonNoReport = "no_report"
	ReasonExit     = "exit"
)

// HarnessError means the harness itself failed: it never produced a
// parseable report. It is not the same as a report with failing tests.
type HarnessError struct {
	Reason string
	Err    error
}

func (e *HarnessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("test harness failure (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("test harness failure (%s)", e.Reason)
}

func (e *HarnessError) Unwrap() error { return e.Err }

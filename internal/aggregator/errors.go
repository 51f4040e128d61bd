package aggregator

import "fmt"

// AggregationError means the summary could not be produced: the barrier is
// not satisfied or an artifact is unreadable. Terminal for the aggregate
// command; the per-agent artifacts remain untouched.
type AggregationError struct {
	Agent string
	Err   error
}

func (e *AggregationError) Error() string {
	if e.Agent == "" {
		return fmt.Sprintf("aggregation failure: %v", e.Err)
	}
	return fmt.Sprintf("aggregation failure for agent %s: %v", e.Agent, e.Err)
}

func (e *AggregationError) Unwrap() error { return e.Err }

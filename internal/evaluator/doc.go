// Package evaluator runs the external test harness and extracts pass/fail
// metrics from its output.
//
// Failing tests are data, not errors. A harness that cannot start, times
// out, or produces no parseable report is a HarnessError, which callers
// treat as a failed cycle distinct from failing tests.
package evaluator

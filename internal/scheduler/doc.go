// Package scheduler drives one agent through bounded execute → evaluate →
// preserve → decide cycles.
//
// The scheduler holds no state the process must survive: everything needed
// to resume after a restart lives in the agent's StatusRecord. A RESTART
// decision is surfaced to the process runtime as an outcome, never stored as
// a state. The preserve commit is the one operation guaranteed to finish
// before any exit, restart, or cancellation takes effect.
package scheduler

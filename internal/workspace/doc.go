// Package workspace inspects and snapshots an agent's isolated git
// workspace.
//
// DiffStats is read-only and computed fresh on every call. Commit is the
// work-preservation primitive: it is idempotent on a clean tree (ErrNoChanges)
// and carries a structured message rather than free text.
package workspace

package workspace

import (
	"errors"
	"fmt"
)

// ErrNoChanges means the snapshot showed zero changes; the commit was a
// no-op, not a failure.
var ErrNoChanges = errors.New("workspace has no changes to commit")

// CommitError means the storage backend rejected the commit (lock
// contention, corrupt index, ...). Callers retry once before treating the
// cycle as failed.
type CommitError struct {
	Err error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit failure: %v", e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

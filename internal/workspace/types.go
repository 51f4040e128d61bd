package workspace

import (
	"fmt"
	"strings"
	"time"
)

// Commit purpose tags.
const (
	PurposeCheckpoint       = "checkpoint"
	PurposeFinalIntegration = "final-integration"
)

// Snapshot summarizes uncommitted changes in a workspace. Computed fresh on
// every call, never cached across cycles.
type Snapshot struct {
	FilesModified int `json:"files_modified"`
	FilesAdded    int `json:"files_added"`
	FilesDeleted  int `json:"files_deleted"`
	LinesAdded    int `json:"lines_added"`
	LinesDeleted  int `json:"lines_deleted"`
}

// Empty reports whether the snapshot shows zero changes.
func (s Snapshot) Empty() bool {
	return s.FilesModified == 0 && s.FilesAdded == 0 && s.FilesDeleted == 0
}

// CommitMessage is the structured record a preservation commit carries.
type CommitMessage struct {
	Agent     string
	Purpose   string
	Snapshot  Snapshot
	RunID     string
	Timestamp time.Time
}

// Render produces the deterministic commit message text. The trailer block
// is machine-parseable key: value lines.
func (m CommitMessage) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cycled(%s): %s\n\n", m.Purpose, m.Agent)
	fmt.Fprintf(&b, "agent: %s\n", m.Agent)
	fmt.Fprintf(&b, "purpose: %s\n", m.Purpose)
	fmt.Fprintf(&b, "modified: %d\n", m.Snapshot.FilesModified)
	fmt.Fprintf(&b, "added: %d\n", m.Snapshot.FilesAdded)
	fmt.Fprintf(&b, "deleted: %d\n", m.Snapshot.FilesDeleted)
	fmt.Fprintf(&b, "run: %s\n", m.RunID)
	fmt.Fprintf(&b, "timestamp: %s\n", m.Timestamp.UTC().Format(time.RFC3339))
	return b.String()
}

// ParseCommitMessage recovers the trailer fields from a rendered message.
func ParseCommitMessage(text string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		fields[key] = value
	}
	return fields
}

// CommitInfo is one entry from the storage backend's history.
type CommitInfo struct {
	Hash    string
	Message string
	When    time.Time
}

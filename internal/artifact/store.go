package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	statusSuffix  = ".status.json"
	handoffSuffix = ".handoff.json"
	journalSuffix = ".cycles.jsonl"
	summaryFile   = "integration.json"
	cancelFile    = "cancel"
)

// Store reads and writes coordination artifacts under one directory.
type Store struct {
	dir    string
	logger *zap.Logger
}

// NewStore opens (creating if needed) the artifact directory.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("artifact directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Dir returns the artifact directory, for watchers.
func (s *Store) Dir() string { return s.dir }

// WriteStatus atomically replaces the agent's status record.
func (s *Store) WriteStatus(rec StatusRecord) error {
	if rec.Agent == "" {
		return errors.New("status record needs an agent name")
	}
	rec.UpdatedAt = time.Now().UTC()
	return s.writeJSON(rec.Agent+statusSuffix, rec)
}

// ReadStatus returns the agent's status record, ErrNotFound if absent.
func (s *Store) ReadStatus(agent string) (*StatusRecord, error) {
	var rec StatusRecord
	if err := s.readJSON(agent+statusSuffix, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListStatus returns every status record, sorted by agent name.
func (s *Store) ListStatus() ([]StatusRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read artifact dir: %w", err)
	}
	var records []StatusRecord
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), statusSuffix) {
			continue
		}
		agent := strings.TrimSuffix(entry.Name(), statusSuffix)
		rec, err := s.ReadStatus(agent)
		if err != nil {
			// A half-written record is impossible by construction; a
			// malformed one is operator-visible, not silently skipped.
			return nil, fmt.Errorf("status for %s: %w", agent, err)
		}
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Agent < records[j].Agent })
	return records, nil
}

// WriteHandoff publishes the agent's handoff artifact. Handoffs are
// write-once: a second write returns ErrHandoffExists.
func (s *Store) WriteHandoff(h HandoffArtifact) error {
	if h.Agent == "" {
		return errors.New("handoff artifact needs an agent name")
	}
	name := h.Agent + handoffSuffix
	if _, err := os.Stat(filepath.Join(s.dir, name)); err == nil {
		return ErrHandoffExists
	}
	if err := s.writeJSON(name, h); err != nil {
		return err
	}
	s.logger.Info("published handoff artifact",
		zap.String("agent", h.Agent),
		zap.Int("cycles_used", h.CyclesUsed),
		zap.Bool("flagged", h.Flagged),
	)
	return nil
}

// ReadHandoff returns the agent's handoff artifact. Absent files are
// ErrNotFound; unparseable or inconsistent files are ErrMalformed, which
// dependency gates treat as not-yet-ready.
func (s *Store) ReadHandoff(agent string) (*HandoffArtifact, error) {
	var h HandoffArtifact
	if err := s.readJSON(agent+handoffSuffix, &h); err != nil {
		return nil, err
	}
	if h.Agent != agent {
		return nil, fmt.Errorf("%w: handoff names agent %q, file is for %q", ErrMalformed, h.Agent, agent)
	}
	return &h, nil
}

// AppendCycle appends one record to the agent's cycle journal (JSONL,
// append-only).
func (s *Store) AppendCycle(agent string, rec any) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal cycle record: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(s.dir, agent+journalSuffix), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open cycle journal: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append cycle record: %w", err)
	}
	return nil
}

// WriteSummary atomically writes the integration summary.
func (s *Store) WriteSummary(sum IntegrationSummary) error {
	return s.writeJSON(summaryFile, sum)
}

// ReadSummary returns the integration summary, ErrNotFound if absent.
func (s *Store) ReadSummary() (*IntegrationSummary, error) {
	var sum IntegrationSummary
	if err := s.readJSON(summaryFile, &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

// RequestCancel drops the operator cancel marker. Agents notice it at their
// next decision point, after the in-flight preserve commit completes.
func (s *Store) RequestCancel() error {
	return s.writeJSON(cancelFile, map[string]string{
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// CancelRequested reports whether the operator cancel marker exists.
func (s *Store) CancelRequested() bool {
	_, err := os.Stat(filepath.Join(s.dir, cancelFile))
	return err == nil
}

// writeJSON writes to a temp file in the artifact directory and renames it
// into place, so readers see either the old or the new content, never a
// partial file.
func (s *Store) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("rename %s into place: %w", name, err)
	}
	return nil
}

func (s *Store) readJSON(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w: %v", name, ErrMalformed, err)
	}
	return nil
}

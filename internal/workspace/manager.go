package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/sergi/go-diff/diffmatchpatch"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/cycled/internal/workspace"

// Commit author identity for preservation commits.
const (
	commitAuthorName  = "cycled"
	commitAuthorEmail = "cycled@localhost"
)

// Manager inspects and commits one agent's git workspace.
type Manager struct {
	path   string
	repo   *git.Repository
	logger *zap.Logger

	tracer        trace.Tracer
	meter         metric.Meter
	commitCounter metric.Int64Counter
}

// Open opens the git repository at path.
func Open(path string, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("open workspace %s: %w", path, err)
	}

	m := &Manager{
		path:   path,
		repo:   repo,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}

	m.commitCounter, err = m.meter.Int64Counter(
		"cycled.workspace.commits_total",
		metric.WithDescription("Total preservation commits"),
		metric.WithUnit("{commit}"),
	)
	if err != nil {
		logger.Warn("failed to create commit counter", zap.Error(err))
	}

	return m, nil
}

// Path returns the workspace root.
func (m *Manager) Path() string { return m.path }

// DiffStats computes the uncommitted-change snapshot. Read-only; no caching.
func (m *Manager) DiffStats(ctx context.Context) (Snapshot, error) {
	_, span := m.tracer.Start(ctx, "workspace.diff_stats")
	defer span.End()

	wt, err := m.repo.Worktree()
	if err != nil {
		return Snapshot{}, fmt.Errorf("worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return Snapshot{}, fmt.Errorf("status: %w", err)
	}

	snap := Snapshot{}
	for file, st := range status {
		switch classify(st) {
		case changeAdded:
			snap.FilesAdded++
			if content, err := os.ReadFile(filepath.Join(m.path, file)); err == nil {
				snap.LinesAdded += countLines(string(content))
			}
		case changeDeleted:
			snap.FilesDeleted++
			if old, ok := m.headContents(file); ok {
				snap.LinesDeleted += countLines(old)
			}
		case changeModified:
			snap.FilesModified++
			old, _ := m.headContents(file)
			current, err := os.ReadFile(filepath.Join(m.path, file))
			if err != nil {
				continue
			}
			added, deleted := lineDelta(old, string(current))
			snap.LinesAdded += added
			snap.LinesDeleted += deleted
		}
	}

	span.SetAttributes(
		attribute.Int("files.modified", snap.FilesModified),
		attribute.Int("files.added", snap.FilesAdded),
		attribute.Int("files.deleted", snap.FilesDeleted),
	)
	return snap, nil
}

// Commit stages everything and commits with the structured message. A clean
// tree returns ErrNoChanges; backend rejections are CommitError.
func (m *Manager) Commit(ctx context.Context, msg CommitMessage) (string, error) {
	_, span := m.tracer.Start(ctx, "workspace.commit")
	defer span.End()

	wt, err := m.repo.Worktree()
	if err != nil {
		return "", &CommitError{Err: err}
	}
	status, err := wt.Status()
	if err != nil {
		return "", &CommitError{Err: err}
	}
	if status.IsClean() {
		return "", ErrNoChanges
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", &CommitError{Err: fmt.Errorf("stage changes: %w", err)}
	}

	hash, err := wt.Commit(msg.Render(), &git.CommitOptions{
		Author: &object.Signature{
			Name:  commitAuthorName,
			Email: commitAuthorEmail,
			When:  msg.Timestamp,
		},
	})
	if err != nil {
		return "", &CommitError{Err: err}
	}

	if m.commitCounter != nil {
		m.commitCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("purpose", msg.Purpose),
		))
	}
	m.logger.Info("committed workspace",
		zap.String("agent", msg.Agent),
		zap.String("purpose", msg.Purpose),
		zap.String("commit", hash.String()),
		zap.Int("modified", msg.Snapshot.FilesModified),
		zap.Int("added", msg.Snapshot.FilesAdded),
		zap.Int("deleted", msg.Snapshot.FilesDeleted),
	)
	span.SetAttributes(attribute.String("commit.id", hash.String()))
	return hash.String(), nil
}

// History returns up to limit most recent commits.
func (m *Manager) History(ctx context.Context, limit int) ([]CommitInfo, error) {
	_, span := m.tracer.Start(ctx, "workspace.history")
	defer span.End()

	iter, err := m.repo.Log(&git.LogOptions{})
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("log: %w", err)
	}
	defer iter.Close()

	var commits []CommitInfo
	err = iter.ForEach(func(c *object.Commit) error {
		if limit > 0 && len(commits) >= limit {
			return errStopIteration
		}
		commits = append(commits, CommitInfo{
			Hash:    c.Hash.String(),
			Message: c.Message,
			When:    c.Author.When,
		})
		return nil
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return nil, fmt.Errorf("walk history: %w", err)
	}
	return commits, nil
}

var errStopIteration = errors.New("stop iteration")

type changeKind int

const (
	changeNone changeKind = iota
	changeModified
	changeAdded
	changeDeleted
)

func classify(st *git.FileStatus) changeKind {
	codes := []git.StatusCode{st.Staging, st.Worktree}
	for _, c := range codes {
		if c == git.Untracked || c == git.Added {
			return changeAdded
		}
	}
	for _, c := range codes {
		if c == git.Deleted {
			return changeDeleted
		}
	}
	for _, c := range codes {
		if c != git.Unmodified {
			return changeModified
		}
	}
	return changeNone
}

// headContents returns the file's content at HEAD, or false when there is no
// HEAD yet or the file is not in it.
func (m *Manager) headContents(file string) (string, bool) {
	head, err := m.repo.Head()
	if err != nil {
		return "", false
	}
	commit, err := m.repo.CommitObject(head.Hash())
	if err != nil {
		return "", false
	}
	tree, err := commit.Tree()
	if err != nil {
		return "", false
	}
	f, err := tree.File(file)
	if err != nil {
		return "", false
	}
	content, err := f.Contents()
	if err != nil {
		return "", false
	}
	return content, true
}

// lineDelta counts inserted and deleted lines between two file versions.
func lineDelta(old, current string) (added, deleted int) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(old, current)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			deleted += countLines(d.Text)
		}
	}
	return added, deleted
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}

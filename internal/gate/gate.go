package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cycled/internal/artifact"
	"github.com/fyrsmithlabs/cycled/internal/config"
)

// ErrDependencyTimeout means the maximum wait elapsed before every
// dependency published its handoff artifact.
var ErrDependencyTimeout = errors.New("dependency wait timed out")

// HandoffReader is the slice of the artifact store the gate needs.
type HandoffReader interface {
	ReadHandoff(agent string) (*artifact.HandoffArtifact, error)
	Dir() string
}

// Gate waits for upstream handoff artifacts.
type Gate struct {
	store        HandoffReader
	pollInterval time.Duration
	maxInterval  time.Duration
	maxWait      time.Duration
	logger       *zap.Logger
}

// New creates a gate against the given artifact store.
func New(store HandoffReader, cfg config.GateConfig, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		store:        store,
		pollInterval: cfg.PollInterval.Duration(),
		maxInterval:  cfg.MaxInterval.Duration(),
		maxWait:      cfg.MaxWait.Duration(),
		logger:       logger,
	}
}

// Wait blocks until every dependency's handoff artifact is present and
// well-formed, the context is canceled, or the maximum wait elapses
// (ErrDependencyTimeout). onBlocked is invoked with the missing dependency
// names on every unsatisfied check, so callers can surface blocked status.
//
// Malformed artifacts do not satisfy the gate: a dependent never starts
// executing against a half-published handoff.
func (g *Gate) Wait(ctx context.Context, deps []string, onBlocked func(missing []string)) error {
	if len(deps) == 0 {
		return nil
	}

	// The cause distinguishes the gate's own deadline from one the caller
	// already carried.
	ctx, cancel := context.WithTimeoutCause(ctx, g.maxWait, ErrDependencyTimeout)
	defer cancel()

	// Watch before the first check so an artifact published between the
	// check and the wait is never missed.
	var events chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err := watcher.Add(g.store.Dir()); err == nil {
			events = make(chan fsnotify.Event, 16)
			go forwardEvents(watcher, events)
		}
		defer watcher.Close()
	} else {
		g.logger.Warn("fsnotify unavailable, polling only", zap.Error(err))
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.pollInterval
	bo.MaxInterval = g.maxInterval

	timer := time.NewTimer(0) // immediate first check
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(context.Cause(ctx), ErrDependencyTimeout) {
				return fmt.Errorf("%w after %s", ErrDependencyTimeout, g.maxWait)
			}
			return ctx.Err()

		case <-timer.C:
			missing := g.missing(deps)
			if len(missing) == 0 {
				return nil
			}
			onBlocked(missing)
			g.logger.Debug("blocked on dependencies", zap.Strings("missing", missing))
			timer.Reset(bo.NextBackOff())

		case <-events:
			missing := g.missing(deps)
			if len(missing) == 0 {
				return nil
			}
			// An unrelated file changed; keep the backoff schedule.
		}
	}
}

// missing returns the dependencies whose handoff artifacts are absent or
// malformed.
func (g *Gate) missing(deps []string) []string {
	var missing []string
	for _, dep := range deps {
		if _, err := g.store.ReadHandoff(dep); err != nil {
			missing = append(missing, dep)
		}
	}
	return missing
}

// forwardEvents drains the watcher into a channel the select loop can treat
// uniformly. The watcher closing ends the goroutine.
func forwardEvents(watcher *fsnotify.Watcher, out chan<- fsnotify.Event) {
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			select {
			case out <- ev:
			default: // coalesce; the poll fallback covers dropped events
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

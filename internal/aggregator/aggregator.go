package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cycled/internal/artifact"
	"github.com/fyrsmithlabs/cycled/internal/config"
	"github.com/fyrsmithlabs/cycled/internal/workspace"
)

const instrumentationName = "github.com/fyrsmithlabs/cycled/internal/aggregator"

// Workspace is the slice of the workspace manager the aggregator needs for
// the final integration commit.
type Workspace interface {
	DiffStats(ctx context.Context) (workspace.Snapshot, error)
	Commit(ctx context.Context, msg workspace.CommitMessage) (string, error)
}

// Aggregator produces the integration summary for a roster.
type Aggregator struct {
	store  *artifact.Store
	roster []config.AgentDescriptor
	ws     Workspace
	logger *zap.Logger
	tracer trace.Tracer
}

// New creates an aggregator. ws may be nil, in which case no final
// integration commit is recorded.
func New(store *artifact.Store, roster []config.AgentDescriptor, ws Workspace, logger *zap.Logger) (*Aggregator, error) {
	if store == nil {
		return nil, errors.New("artifact store is required")
	}
	if len(roster) == 0 {
		return nil, errors.New("roster is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		store:  store,
		roster: roster,
		ws:     ws,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
	}, nil
}

// Aggregate checks the completion barrier, folds every handoff into one
// summary, records the final integration commit, and persists the summary.
func (a *Aggregator) Aggregate(ctx context.Context) (*artifact.IntegrationSummary, error) {
	ctx, span := a.tracer.Start(ctx, "aggregator.aggregate",
		trace.WithAttributes(attribute.Int("roster_size", len(a.roster))))
	defer span.End()

	attributions, err := a.collect()
	if err != nil {
		return nil, err
	}

	var totalTests, totalPassing int
	for _, attr := range attributions {
		totalTests += attr.TestMetrics.Total
		totalPassing += attr.TestMetrics.Passing
	}

	summary := artifact.IntegrationSummary{
		TotalTests:  totalTests,
		Agents:      attributions,
		GeneratedAt: time.Now().UTC(),
	}
	// Weighted by suite size, not a mean of per-agent rates.
	if totalTests > 0 {
		summary.OverallPassRate = float64(totalPassing) / float64(totalTests) * 100
	}

	// The summary is written before the sealing commit so the commit can
	// capture it when the artifact directory lives inside the workspace.
	if err := a.store.WriteSummary(summary); err != nil {
		return nil, &AggregationError{Err: err}
	}

	if a.ws != nil {
		snap, err := a.ws.DiffStats(ctx)
		if err != nil {
			return nil, &AggregationError{Err: fmt.Errorf("final integration diff: %w", err)}
		}
		commitID, err := a.ws.Commit(ctx, workspace.CommitMessage{
			Agent:     "integration",
			Purpose:   workspace.PurposeFinalIntegration,
			Snapshot:  snap,
			RunID:     fmt.Sprintf("aggregate-%d", summary.GeneratedAt.Unix()),
			Timestamp: summary.GeneratedAt,
		})
		switch {
		case errors.Is(err, workspace.ErrNoChanges):
			// Every agent already committed its work; nothing new to seal.
		case err != nil:
			return nil, &AggregationError{Err: fmt.Errorf("final integration commit: %w", err)}
		default:
			summary.CommitID = commitID
			if err := a.store.WriteSummary(summary); err != nil {
				return nil, &AggregationError{Err: err}
			}
		}
	}

	a.logger.Info("integration summary written",
		zap.Float64("overall_pass_rate", summary.OverallPassRate),
		zap.Int("total_tests", summary.TotalTests),
		zap.Int("agents", len(summary.Agents)),
	)
	return &summary, nil
}

// collect enforces the barrier and gathers one attribution per roster agent.
func (a *Aggregator) collect() ([]artifact.Attribution, error) {
	attributions := make([]artifact.Attribution, 0, len(a.roster))
	for _, agent := range a.roster {
		status, err := a.store.ReadStatus(agent.Name)
		if errors.Is(err, artifact.ErrNotFound) {
			return nil, &AggregationError{Agent: agent.Name, Err: errors.New("agent never started")}
		}
		if err != nil {
			return nil, &AggregationError{Agent: agent.Name, Err: err}
		}
		if !status.State.Terminal() {
			return nil, &AggregationError{Agent: agent.Name, Err: fmt.Errorf("still %s, barrier not satisfied", status.State)}
		}

		handoff, err := a.store.ReadHandoff(agent.Name)
		if err != nil {
			return nil, &AggregationError{Agent: agent.Name, Err: fmt.Errorf("handoff: %w", err)}
		}

		attributions = append(attributions, artifact.Attribution{
			Agent:        agent.Name,
			State:        status.State,
			CyclesUsed:   handoff.CyclesUsed,
			PassRate:     handoff.TestMetrics.PassRate(),
			TestMetrics:  handoff.TestMetrics,
			FilesChanged: handoff.FilesChanged,
			Flagged:      handoff.Flagged,
		})
	}
	sort.Slice(attributions, func(i, j int) bool { return attributions[i].Agent < attributions[j].Agent })
	return attributions, nil
}

// Package aggregator folds the handoff artifacts of a finished roster into
// one integration summary with per-agent attribution.
//
// Aggregation is a barrier: it refuses to run until every roster agent has
// reached a terminal state. Agents that ended in ERROR are included with
// their last known metrics and flagged, never silently dropped.
package aggregator

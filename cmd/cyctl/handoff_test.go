package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/cycled/internal/artifact"
	"github.com/fyrsmithlabs/cycled/internal/evaluator"
)

func TestHandoffCommand(t *testing.T) {
	store, dir := seedStore(t)
	require.NoError(t, store.WriteHandoff(artifact.HandoffArtifact{
		Agent:       "builder",
		CyclesUsed:  4,
		TestMetrics: evaluator.TestMetrics{Total: 20, Passing: 18, Failing: 2},
	}))

	out, err := execute(t, "--dir", dir, "handoff", "builder")
	require.NoError(t, err)
	assert.Contains(t, out, `"agent": "builder"`)
	assert.Contains(t, out, `"cycles_used": 4`)
}

func TestHandoffCommand_NotPublished(t *testing.T) {
	_, dir := seedStore(t)

	_, err := execute(t, "--dir", dir, "handoff", "ghost")
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestCancelCommand(t *testing.T) {
	store, dir := seedStore(t)

	out, err := execute(t, "--dir", dir, "cancel")
	require.NoError(t, err)
	assert.Contains(t, out, "cancellation requested")
	assert.True(t, store.CancelRequested())

	out, err = execute(t, "--dir", dir, "cancel")
	require.NoError(t, err)
	assert.Contains(t, out, "already requested")
}

package projections

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOutboxProjectsEventsLeftPending(t *testing.T) {
	h := newHarness(t)
	h.commitPolicy(t, issue)
	h.clock.Advance(time.Minute)
	processor := NewOutboxProcessor(h.projector, DefaultOutboxConfig(), zap.NewNop())

	stats, err := processor.RunOnce(h.ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	_, err = h.readModels.GetPolicySummary(h.ctx, "acme", "policy-1")
	assert.NoError(t, err)
	pending, err := h.store.PendingProjection(h.ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOutboxLeavesFreshEventsToTheirCommand(t *testing.T) {
	h := newHarness(t)
	h.commitPolicy(t, issue)
	processor := NewOutboxProcessor(h.projector, DefaultOutboxConfig(), zap.NewNop())

	stats, err := processor.RunOnce(h.ctx)

	require.NoError(t, err)
	assert.Equal(t, 0, stats.Pending)
}

func TestOutboxDefaultMinAge(t *testing.T) {
	h := newHarness(t)
	h.commitPolicy(t, issue)
	processor := NewOutboxProcessor(h.projector, DefaultOutboxConfig(), zap.NewNop())

	h.clock.Advance(9 * time.Second)
	stats, err := processor.RunOnce(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Pending)

	h.clock.Advance(time.Second)
	stats, err = processor.RunOnce(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending, "picked up once ten seconds old")
}

func TestOutboxRetriesQueuedFailures(t *testing.T) {
	flaky := newFlakyProjection()
	h := newHarness(t, flaky)
	require.NoError(t, h.projector.Project(h.ctx, h.commitPolicy(t, issue)))
	require.NoError(t, h.projector.Project(h.ctx, h.commitPolicy(t, adjust)))
	processor := NewOutboxProcessor(h.projector, OutboxConfig{MaxRetries: 5}, zap.NewNop())

	stats, err := processor.RunOnce(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Retried, "the second failure waits behind the first")
	assert.Equal(t, 0, stats.Recovered)

	flaky.heal()
	stats, err = processor.RunOnce(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Recovered)
	assert.Equal(t, []int{0, 1}, flaky.applied)
	n, err := h.failures.Len(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOutboxFlagsExhaustedFailures(t *testing.T) {
	h := newHarness(t, newFlakyProjection())
	require.NoError(t, h.projector.Project(h.ctx, h.commitPolicy(t, issue)))
	processor := NewOutboxProcessor(h.projector, OutboxConfig{MaxRetries: 3}, zap.NewNop())

	var flagged int
	for i := 0; i < 4; i++ {
		stats, err := processor.RunOnce(h.ctx)
		require.NoError(t, err)
		flagged += stats.Flagged
	}

	assert.Equal(t, 1, flagged)
	queued := h.failures.All()
	require.Len(t, queued, 1)
	assert.True(t, queued[0].Flagged)
	assert.Equal(t, 3, queued[0].Attempts)
	batch, err := h.failures.Batch(h.ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestOutboxStartStop(t *testing.T) {
	h := newHarness(t)
	processor := NewOutboxProcessor(h.projector, OutboxConfig{Interval: 10 * time.Millisecond}, zap.NewNop())

	processor.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	processor.Stop()
	processor.Stop()

	stats, err := processor.GetStats(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats["pending_events"])
}

func TestOutboxStopWithoutStart(t *testing.T) {
	h := newHarness(t)
	processor := NewOutboxProcessor(h.projector, DefaultOutboxConfig(), zap.NewNop())

	processor.Stop()
}

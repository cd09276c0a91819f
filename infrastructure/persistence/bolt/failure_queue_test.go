package bolt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyhub-backend/application/ports"
	"policyhub-backend/domain/events"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func failure(id string, offset time.Duration, sequence int) ports.ProjectionFailure {
	return ports.ProjectionFailure{
		ID:            id,
		Projection:    "policy_summary",
		Event:         events.Record{EventID: "evt-" + id, Sequence: sequence, Data: []byte(`{}`)},
		Attempts:      1,
		FirstFailedAt: base.Add(offset),
		LastFailedAt:  base.Add(offset),
	}
}

func openQueue(t *testing.T, path string) *FailureQueue {
	t.Helper()
	q, err := OpenFailureQueue(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func ids(fs []ports.ProjectionFailure) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.ID
	}
	return out
}

func TestBatchIsOldestFirst(t *testing.T) {
	ctx := context.Background()
	q := openQueue(t, filepath.Join(t.TempDir(), "failures.db"))

	require.NoError(t, q.Enqueue(ctx, failure("c", 2*time.Second, 0)))
	require.NoError(t, q.Enqueue(ctx, failure("b", time.Second, 4)))
	require.NoError(t, q.Enqueue(ctx, failure("a", time.Second, 3)))

	batch, err := q.Batch(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(batch))

	batch, err = q.Batch(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(batch))
}

func TestRequeueAndFlag(t *testing.T) {
	ctx := context.Background()
	q := openQueue(t, filepath.Join(t.TempDir(), "failures.db"))
	require.NoError(t, q.Enqueue(ctx, failure("a", 0, 0)))
	require.NoError(t, q.Enqueue(ctx, failure("b", time.Second, 1)))

	flagged := failure("a", 0, 0)
	flagged.Attempts = 5
	flagged.Flagged = true
	require.NoError(t, q.Requeue(ctx, flagged))

	batch, err := q.Batch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(batch))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	q := openQueue(t, filepath.Join(t.TempDir(), "failures.db"))
	require.NoError(t, q.Enqueue(ctx, failure("a", 0, 0)))

	require.NoError(t, q.Remove(ctx, "a"))
	require.NoError(t, q.Remove(ctx, "missing"))

	batch, err := q.Batch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestFailuresSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "failures.db")

	q, err := OpenFailureQueue(path)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, failure("a", 0, 7)))
	require.NoError(t, q.Close())

	reopened := openQueue(t, path)
	batch, err := reopened.Batch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, 7, batch[0].Event.Sequence)
	assert.Equal(t, []byte(`{}`), batch[0].Event.Data)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := OpenFailureQueue(" ")
	assert.Error(t, err)
}

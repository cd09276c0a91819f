package memory

import (
	"context"
	"sort"
	"sync"

	"policyhub-backend/application/ports"
)

// FailureQueue is a non-durable projection failure queue for tests and dev
type FailureQueue struct {
	mu       sync.Mutex
	failures map[string]ports.ProjectionFailure
}

// NewFailureQueue creates an empty queue
func NewFailureQueue() *FailureQueue {
	return &FailureQueue{failures: make(map[string]ports.ProjectionFailure)}
}

// Enqueue stores a failure
func (q *FailureQueue) Enqueue(ctx context.Context, failure ports.ProjectionFailure) error {
	q.mu.Lock()
	q.failures[failure.ID] = failure
	q.mu.Unlock()
	return nil
}

// Batch returns the oldest unflagged failures
func (q *FailureQueue) Batch(ctx context.Context, limit int) ([]ports.ProjectionFailure, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []ports.ProjectionFailure
	for _, f := range q.failures {
		if !f.Flagged {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return failureBefore(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Remove deletes a failure once it has been applied
func (q *FailureQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	delete(q.failures, id)
	q.mu.Unlock()
	return nil
}

// Requeue replaces a failure with its updated copy
func (q *FailureQueue) Requeue(ctx context.Context, failure ports.ProjectionFailure) error {
	return q.Enqueue(ctx, failure)
}

// Len counts stored failures, flagged ones included
func (q *FailureQueue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.failures), nil
}

// All returns every stored failure, for inspection
func (q *FailureQueue) All() []ports.ProjectionFailure {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]ports.ProjectionFailure, 0, len(q.failures))
	for _, f := range q.failures {
		out = append(out, f)
	}
	return out
}

// failureBefore orders failures by first failure, then by stream position
func failureBefore(a, b ports.ProjectionFailure) bool {
	if !a.FirstFailedAt.Equal(b.FirstFailedAt) {
		return a.FirstFailedAt.Before(b.FirstFailedAt)
	}
	if a.Event.Sequence != b.Event.Sequence {
		return a.Event.Sequence < b.Event.Sequence
	}
	return a.ID < b.ID
}

package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"policyhub-backend/application/ports"
)

var (
	failuresBucket = []byte("projection_failures")
	// orderBucket indexes failures by (first failure, sequence, id) so Batch
	// walks them oldest first
	orderBucket = []byte("projection_failures_order")
)

// FailureQueue keeps projection failures in a BoltDB file so they survive restarts
type FailureQueue struct {
	db *bolt.DB
}

var _ ports.ProjectionFailureQueue = (*FailureQueue)(nil)

// OpenFailureQueue opens or creates the queue file at path
func OpenFailureQueue(path string) (*FailureQueue, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("failure queue path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(cleanPath, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open failure queue: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{failuresBucket, orderBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &FailureQueue{db: db}, nil
}

// Close closes the underlying BoltDB database
func (q *FailureQueue) Close() error {
	if q == nil || q.db == nil {
		return nil
	}
	return q.db.Close()
}

func orderKey(f ports.ProjectionFailure) []byte {
	key := make([]byte, 16, 16+len(f.ID))
	binary.BigEndian.PutUint64(key[:8], uint64(f.FirstFailedAt.UnixNano()))
	binary.BigEndian.PutUint64(key[8:16], uint64(f.Event.Sequence))
	return append(key, f.ID...)
}

func (q *FailureQueue) put(ctx context.Context, failure ports.ProjectionFailure) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if failure.ID == "" {
		return fmt.Errorf("failure id is required")
	}
	payload, err := json.Marshal(failure)
	if err != nil {
		return fmt.Errorf("marshal failure: %w", err)
	}

	return q.db.Update(func(tx *bolt.Tx) error {
		failures, order := tx.Bucket(failuresBucket), tx.Bucket(orderBucket)
		if existing := failures.Get([]byte(failure.ID)); existing != nil {
			var old ports.ProjectionFailure
			if err := json.Unmarshal(existing, &old); err == nil {
				if err := order.Delete(orderKey(old)); err != nil {
					return err
				}
			}
		}
		if err := failures.Put([]byte(failure.ID), payload); err != nil {
			return err
		}
		return order.Put(orderKey(failure), []byte(failure.ID))
	})
}

// Enqueue stores a failure
func (q *FailureQueue) Enqueue(ctx context.Context, failure ports.ProjectionFailure) error {
	return q.put(ctx, failure)
}

// Requeue replaces a failure with its updated copy
func (q *FailureQueue) Requeue(ctx context.Context, failure ports.ProjectionFailure) error {
	return q.put(ctx, failure)
}

// Batch returns up to limit unflagged failures, oldest first
func (q *FailureQueue) Batch(ctx context.Context, limit int) ([]ports.ProjectionFailure, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []ports.ProjectionFailure
	err := q.db.View(func(tx *bolt.Tx) error {
		failures := tx.Bucket(failuresBucket)
		c := tx.Bucket(orderBucket).Cursor()
		for k, id := c.First(); k != nil; k, id = c.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			raw := failures.Get(id)
			if raw == nil {
				continue
			}
			var f ports.ProjectionFailure
			if err := json.Unmarshal(raw, &f); err != nil {
				return fmt.Errorf("decode failure %s: %w", id, err)
			}
			if f.Flagged {
				continue
			}
			out = append(out, f)
		}
		return nil
	})
	return out, err
}

// Remove deletes a failure once it has been applied
func (q *FailureQueue) Remove(ctx context.Context, id string) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		failures := tx.Bucket(failuresBucket)
		raw := failures.Get([]byte(id))
		if raw == nil {
			return nil
		}
		var f ports.ProjectionFailure
		if err := json.Unmarshal(raw, &f); err == nil {
			if err := tx.Bucket(orderBucket).Delete(orderKey(f)); err != nil {
				return err
			}
		}
		return failures.Delete([]byte(id))
	})
}

// Len counts stored failures, flagged ones included
func (q *FailureQueue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(failuresBucket).Stats().KeyN
		return nil
	})
	return n, err
}

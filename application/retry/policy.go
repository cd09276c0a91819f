package retry

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"policyhub-backend/application/ports"
	apperrors "policyhub-backend/pkg/errors"
)

// Operation is one full load-mutate-save cycle. It must rebuild all state
// from scratch on every call because a retry discards the failed attempt.
type Operation func(ctx context.Context) error

// Policy defines how concurrency conflicts are retried
type Policy struct {
	MaxAttempts   int           // Attempts including the first one
	BaseDelay     time.Duration // Delay before the second attempt
	MaxDelay      time.Duration // Cap on a single delay
	BackoffFactor float64       // Exponential backoff multiplier
	JitterFactor  float64       // Spread racing writers apart

	Metrics ports.Metrics
	Logger  *zap.Logger
}

// DefaultPolicy returns 3 attempts starting at 25ms
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   3,
		BaseDelay:     25 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.2,
	}
}

// ExecuteWithRetries runs op with the default backoff and maxAttempts
func ExecuteWithRetries(ctx context.Context, maxAttempts int, op Operation) error {
	p := DefaultPolicy()
	p.MaxAttempts = maxAttempts
	return p.Execute(ctx, op)
}

// Execute runs op and re-runs it only when it reports a concurrency conflict.
// Any other error is returned at once. After MaxAttempts consecutive
// conflicts it returns RETRIES_EXHAUSTED wrapping the last conflict.
func (p Policy) Execute(ctx context.Context, op Operation) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastConflict error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			if attempt > 0 {
				p.logger().Debug("Operation succeeded after conflict retries", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if !apperrors.IsConcurrencyConflict(err) {
			return err
		}

		lastConflict = err
		p.metrics().ConcurrencyConflict(aggregateTypeOf(err), attempt+1)
		p.logger().Info("Concurrency conflict, retrying from scratch",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)

		if attempt == attempts-1 {
			break
		}

		timer := time.NewTimer(p.calculateDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return apperrors.NewRetriesExhausted(attempts, lastConflict)
}

// Do is Execute for operations that produce a value
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := p.Execute(ctx, func(ctx context.Context) error {
		r, err := op(ctx)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// calculateDelay calculates the delay for the given attempt number
func (p Policy) calculateDelay(attempt int) time.Duration {
	backoff := float64(p.BaseDelay) * math.Pow(p.BackoffFactor, float64(attempt))
	jitter := backoff * p.JitterFactor * (rand.Float64() - 0.5) * 2
	delay := time.Duration(backoff + jitter)

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

func (p Policy) metrics() ports.Metrics {
	if p.Metrics == nil {
		return ports.NopMetrics{}
	}
	return p.Metrics
}

func (p Policy) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

func aggregateTypeOf(err error) string {
	appErr := apperrors.GetAppError(err)
	if appErr == nil {
		return "unknown"
	}
	stream, _ := appErr.Details["stream"].(string)
	if parts := strings.Split(stream, "/"); len(parts) == 3 {
		return parts[1]
	}
	return "unknown"
}

package projections

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"policyhub-backend/application/ports"
	"policyhub-backend/domain/events"
	"policyhub-backend/pkg/clock"
)

// OutboxConfig tunes the outbox processor
type OutboxConfig struct {
	BatchSize int
	Interval  time.Duration
	// MaxRetries bounds attempts per queued failure before it is flagged
	MaxRetries int
	// MinAge leaves fresh events to the command that committed them
	MinAge time.Duration
}

// DefaultOutboxConfig returns the standard settings
func DefaultOutboxConfig() OutboxConfig {
	return OutboxConfig{
		BatchSize:  50,
		Interval:   5 * time.Second,
		MaxRetries: 5,
		MinAge:     10 * time.Second,
	}
}

// OutboxStats summarizes one pass
type OutboxStats struct {
	Pending   int `json:"pending"`
	Retried   int `json:"retried"`
	Recovered int `json:"recovered"`
	Flagged   int `json:"flagged"`
}

// OutboxProcessor finishes what a crash or failure left behind: it projects
// events still pending in the store and retries queued projection failures.
type OutboxProcessor struct {
	projector *Projector
	store     ports.EventStore
	failures  ports.ProjectionFailureQueue
	sink      ports.ErrorSink
	metrics   ports.Metrics
	clock     clock.Clock
	logger    *zap.Logger
	config    OutboxConfig

	// Control channels
	stopChan    chan struct{}
	stoppedChan chan struct{}
	started     atomic.Bool
	startOnce   sync.Once
	stopOnce    sync.Once
}

// NewOutboxProcessor creates a new outbox processor over the projector's store and queue
func NewOutboxProcessor(projector *Projector, config OutboxConfig, logger *zap.Logger) *OutboxProcessor {
	defaults := DefaultOutboxConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.MinAge < 0 {
		config.MinAge = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutboxProcessor{
		projector:   projector,
		store:       projector.store,
		failures:    projector.failures,
		sink:        projector.sink,
		metrics:     projector.metrics,
		clock:       projector.clock,
		logger:      logger,
		config:      config,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start begins the background processing loop
func (op *OutboxProcessor) Start(ctx context.Context) {
	op.startOnce.Do(func() {
		op.started.Store(true)
		op.logger.Info("Starting outbox processor",
			zap.Int("batch_size", op.config.BatchSize),
			zap.Duration("interval", op.config.Interval),
		)
		go op.processLoop(ctx)
	})
}

// Stop gracefully stops the outbox processor and waits for the current pass
func (op *OutboxProcessor) Stop() {
	op.stopOnce.Do(func() {
		op.logger.Info("Stopping outbox processor")
		close(op.stopChan)
		if op.started.Load() {
			<-op.stoppedChan
		}
		op.logger.Info("Outbox processor stopped")
	})
}

// processLoop is the main processing loop
func (op *OutboxProcessor) processLoop(ctx context.Context) {
	defer close(op.stoppedChan)

	ticker := time.NewTicker(op.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			op.logger.Info("Context cancelled, stopping outbox processor")
			return
		case <-op.stopChan:
			return
		case <-ticker.C:
			if _, err := op.RunOnce(ctx); err != nil {
				op.logger.Error("Error processing outbox batch", zap.Error(err))
			}
		}
	}
}

// RunOnce makes one pass: pending events first, then queued failures
func (op *OutboxProcessor) RunOnce(ctx context.Context) (OutboxStats, error) {
	var stats OutboxStats

	pending, err := op.processPending(ctx)
	stats.Pending = pending
	if err != nil {
		return stats, err
	}

	retried, recovered, flagged, err := op.retryFailures(ctx)
	stats.Retried, stats.Recovered, stats.Flagged = retried, recovered, flagged
	if err != nil {
		return stats, err
	}

	if stats.Pending > 0 || stats.Retried > 0 {
		op.logger.Debug("Completed outbox pass",
			zap.Int("pending", stats.Pending),
			zap.Int("retried", stats.Retried),
			zap.Int("recovered", stats.Recovered),
			zap.Int("flagged", stats.Flagged),
		)
	}
	return stats, nil
}

// processPending projects events that were committed but never settled
func (op *OutboxProcessor) processPending(ctx context.Context) (int, error) {
	pendingEvents, err := op.store.PendingProjection(ctx, op.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending events: %w", err)
	}
	op.metrics.OutboxBacklog(len(pendingEvents))

	cutoff := op.clock.Now().Add(-op.config.MinAge)
	ready := make([]events.Event, 0, len(pendingEvents))
	for _, evt := range pendingEvents {
		if !evt.Timestamp.After(cutoff) {
			ready = append(ready, evt)
		}
	}
	if len(ready) == 0 {
		return 0, nil
	}

	op.logger.Info("Projecting events left pending", zap.Int("count", len(ready)))
	if err := op.projector.Project(ctx, ready); err != nil {
		return len(ready), fmt.Errorf("project pending events: %w", err)
	}
	return len(ready), nil
}

// retryFailures re-applies queued failures in order. Once a failure for a
// (projection, stream) pair fails again, later ones for the pair wait.
func (op *OutboxProcessor) retryFailures(ctx context.Context) (retried, recovered, flagged int, err error) {
	if op.failures == nil {
		return 0, 0, 0, nil
	}
	batch, err := op.failures.Batch(ctx, op.config.BatchSize)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to read failure queue: %w", err)
	}

	blocked := make(map[string]bool)
	for _, failure := range batch {
		if ctx.Err() != nil {
			return retried, recovered, flagged, ctx.Err()
		}
		pair := failure.Projection + "|" + failure.Event.Stream().String()
		if blocked[pair] {
			continue
		}
		retried++

		applyErr := op.projector.Retry(ctx, failure)
		if applyErr == nil {
			if err := op.failures.Remove(ctx, failure.ID); err != nil {
				return retried, recovered, flagged, fmt.Errorf("remove recovered failure %s: %w", failure.ID, err)
			}
			recovered++
			continue
		}

		blocked[pair] = true
		failure.Attempts++
		failure.LastError = applyErr.Error()
		failure.LastFailedAt = op.clock.Now()
		if failure.Attempts >= op.config.MaxRetries {
			failure.Flagged = true
			flagged++
			op.flag(ctx, failure)
		} else {
			op.logger.Debug("Projection failure kept for retry",
				zap.String("failure_id", failure.ID),
				zap.Int("attempts", failure.Attempts),
				zap.Error(applyErr),
			)
		}
		if err := op.failures.Requeue(ctx, failure); err != nil {
			return retried, recovered, flagged, fmt.Errorf("requeue failure %s: %w", failure.ID, err)
		}
	}
	return retried, recovered, flagged, nil
}

// flag reports a failure that ran out of retries; it stays queued for an operator
func (op *OutboxProcessor) flag(ctx context.Context, failure ports.ProjectionFailure) {
	op.logger.Warn("Projection permanently failed after max retries",
		zap.String("failure_id", failure.ID),
		zap.String("projection", failure.Projection),
		zap.String("event_id", failure.Event.EventID),
		zap.Int("attempts", failure.Attempts),
		zap.String("error", failure.LastError),
	)
	op.sink.Report(ctx, ports.FailureDescriptor{
		Operation:     "projection_retry",
		RequestType:   failure.Projection,
		TenantID:      string(failure.Event.TenantID),
		CorrelationID: failure.Event.CorrelationID,
		ErrorType:     "PROJECTION_FLAGGED",
		Message:       failure.LastError,
		OccurredAt:    failure.LastFailedAt,
		Details: map[string]interface{}{
			"failure_id": failure.ID,
			"event_id":   failure.Event.EventID,
			"attempts":   failure.Attempts,
		},
	})
}

// GetStats returns processing statistics
func (op *OutboxProcessor) GetStats(ctx context.Context) (map[string]interface{}, error) {
	pendingEvents, err := op.store.PendingProjection(ctx, op.config.BatchSize)
	if err != nil {
		return nil, err
	}
	queued := 0
	if op.failures != nil {
		if queued, err = op.failures.Len(ctx); err != nil {
			return nil, err
		}
	}

	return map[string]interface{}{
		"pending_events":      len(pendingEvents),
		"queued_failures":     queued,
		"batch_size":          op.config.BatchSize,
		"processing_interval": op.config.Interval.String(),
		"max_retries":         op.config.MaxRetries,
	}, nil
}

// Package repository loads and saves event-sourced aggregates.
package repository

import (
	"context"
	"time"

	"go.uber.org/zap"

	"policyhub-backend/application/locking"
	"policyhub-backend/application/ports"
	"policyhub-backend/domain/core/aggregates"
	"policyhub-backend/domain/core/valueobjects"
	"policyhub-backend/domain/events"
	"policyhub-backend/pkg/common"
	apperrors "policyhub-backend/pkg/errors"
)

// Projector settles committed events into read models
type Projector interface {
	Project(ctx context.Context, evts []events.Event) error
}

// Factory builds an empty aggregate for a stream
type Factory[A aggregates.Aggregate] func(stream valueobjects.StreamID) A

// Config controls lock scoping
type Config struct {
	// LockTimeout bounds how long Update and Create wait for the aggregate lock
	LockTimeout time.Duration
}

// DefaultConfig returns the standard repository configuration
func DefaultConfig() Config {
	return Config{LockTimeout: 5 * time.Second}
}

// Repository rehydrates aggregates from their history and appends what they raise.
// The version check in the store is authoritative; the lock only narrows contention.
type Repository[A aggregates.Aggregate] struct {
	aggregateType valueobjects.AggregateType
	factory       Factory[A]
	store         ports.EventStore
	locks         *locking.Service
	projector     Projector
	config        Config
	logger        *zap.Logger
}

// New creates a repository. locks and projector may be nil.
func New[A aggregates.Aggregate](
	aggregateType valueobjects.AggregateType,
	factory Factory[A],
	store ports.EventStore,
	locks *locking.Service,
	projector Projector,
	config Config,
	logger *zap.Logger,
) *Repository[A] {
	if config.LockTimeout <= 0 {
		config.LockTimeout = DefaultConfig().LockTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository[A]{
		aggregateType: aggregateType,
		factory:       factory,
		store:         store,
		locks:         locks,
		projector:     projector,
		config:        config,
		logger:        logger,
	}
}

// AggregateType returns the type this repository serves
func (r *Repository[A]) AggregateType() valueobjects.AggregateType { return r.aggregateType }

// StreamFor builds the stream identity of an aggregate in this repository
func (r *Repository[A]) StreamFor(tenant valueobjects.TenantID, id valueobjects.AggregateID) valueobjects.StreamID {
	return valueobjects.NewStreamID(tenant, r.aggregateType, id)
}

// GetByID rehydrates an aggregate, failing with NotFound when it has no history
func (r *Repository[A]) GetByID(ctx context.Context, tenant valueobjects.TenantID, id valueobjects.AggregateID) (A, error) {
	agg, err := r.load(ctx, r.StreamFor(tenant, id))
	if err != nil {
		var zero A
		return zero, err
	}
	if agg.Version() == 0 {
		var zero A
		return zero, apperrors.NewNotFoundError(string(r.aggregateType)).
			WithDetail("stream", r.StreamFor(tenant, id).String())
	}
	return agg, nil
}

// load replays the stream into a fresh aggregate; an empty stream yields version 0
func (r *Repository[A]) load(ctx context.Context, stream valueobjects.StreamID) (A, error) {
	var zero A
	if err := stream.Validate(); err != nil {
		return zero, apperrors.NewValidationError(err.Error())
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	history, err := r.store.Load(ctx, stream)
	if err != nil {
		return zero, apperrors.Wrapf(err, "load %s", stream)
	}
	agg := r.factory(stream)
	for _, evt := range history {
		if err := agg.Apply(evt); err != nil {
			return zero, apperrors.NewInternalError("corrupt history for " + stream.String()).WithCause(err)
		}
	}
	return agg, nil
}

// Save appends the aggregate's uncommitted events at its committed version.
// With a unit of work the events are enlisted for settlement; without one
// they are projected before Save returns.
func (r *Repository[A]) Save(ctx context.Context, uow ports.UnitOfWork, agg A) error {
	pending := agg.Uncommitted()
	if len(pending) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	meta := metadataFrom(ctx)
	for i := range pending {
		pending[i] = pending[i].WithMetadata(meta)
	}

	stream := agg.Stream()
	newVersion, err := r.store.Append(ctx, stream, agg.CommittedVersion(), pending)
	if err != nil {
		if apperrors.IsConcurrencyConflict(err) {
			r.logger.Debug("Concurrent append rejected",
				zap.String("stream", stream.String()),
				zap.Int("expected_version", agg.CommittedVersion()),
			)
		}
		return err
	}
	agg.MarkCommitted(newVersion)

	r.logger.Debug("Events appended",
		zap.String("stream", stream.String()),
		zap.Int("count", len(pending)),
		zap.Int("version", newVersion),
	)

	if uow != nil {
		uow.Enlist(pending...)
		return nil
	}
	if r.projector != nil {
		if err := r.projector.Project(ctx, pending); err != nil {
			// committed; the outbox processor picks up whatever stayed pending
			r.logger.Error("Immediate projection failed",
				zap.String("stream", stream.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Update loads an existing aggregate under its lock, applies mutate and saves
func (r *Repository[A]) Update(ctx context.Context, uow ports.UnitOfWork, tenant valueobjects.TenantID, id valueobjects.AggregateID, mutate func(A) error) (A, error) {
	var zero A
	var result A
	err := r.withLock(ctx, uow, r.StreamFor(tenant, id), func(ctx context.Context) error {
		agg, err := r.GetByID(ctx, tenant, id)
		if err != nil {
			return err
		}
		if err := mutate(agg); err != nil {
			return err
		}
		if err := r.Save(ctx, uow, agg); err != nil {
			return err
		}
		result = agg
		return nil
	})
	if err != nil {
		return zero, err
	}
	return result, nil
}

// Create initializes a new aggregate under its lock. The stream must be empty.
func (r *Repository[A]) Create(ctx context.Context, uow ports.UnitOfWork, tenant valueobjects.TenantID, id valueobjects.AggregateID, init func(A) error) (A, error) {
	var zero A
	var result A
	stream := r.StreamFor(tenant, id)
	err := r.withLock(ctx, uow, stream, func(ctx context.Context) error {
		agg, err := r.load(ctx, stream)
		if err != nil {
			return err
		}
		if agg.Version() > 0 {
			return apperrors.NewInvariantViolation(aggregates.CodeAlreadyExists,
				stream.String()+" already exists")
		}
		if err := init(agg); err != nil {
			return err
		}
		if err := r.Save(ctx, uow, agg); err != nil {
			return err
		}
		result = agg
		return nil
	})
	if err != nil {
		return zero, err
	}
	return result, nil
}

// withLock runs fn under the aggregate lock. When fn succeeds inside a unit
// of work the lock is held until the unit settles, so projections of one
// stream are applied in commit order. A unit that already holds the lock
// runs fn under it.
func (r *Repository[A]) withLock(ctx context.Context, uow ports.UnitOfWork, stream valueobjects.StreamID, fn func(ctx context.Context) error) error {
	if err := stream.Validate(); err != nil {
		return apperrors.NewValidationError(err.Error())
	}
	if r.locks == nil {
		return fn(ctx)
	}

	key := locking.KeyFor(stream)
	if uow != nil && uow.Holds(key.String()) {
		return fn(ctx)
	}

	handle, err := r.locks.AcquireOrThrow(ctx, key, r.config.LockTimeout)
	if err != nil {
		return err
	}
	handedOver := false
	defer func() {
		if !handedOver {
			handle.ReleaseOnExit(ctx)
		}
	}()

	if err := fn(ctx); err != nil {
		return err
	}
	if uow != nil {
		uow.Hold(key.String(), handle.ReleaseOnExit)
		handedOver = true
	}
	return nil
}

// metadataFrom reads correlation, causation and actor from the request context
func metadataFrom(ctx context.Context) events.Metadata {
	var meta events.Metadata
	if id, ok := common.GetCorrelationID(ctx); ok {
		meta.CorrelationID = id
	}
	if id, ok := common.GetCausationID(ctx); ok {
		meta.CausationID = id
	}
	if user, ok := common.GetUserID(ctx); ok {
		meta.Actor = user
	}
	return meta
}

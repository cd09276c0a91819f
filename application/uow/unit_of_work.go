package uow

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"policyhub-backend/application/ports"
	"policyhub-backend/domain/events"
)

// Settler brings read models up to date with committed events
type Settler interface {
	Project(ctx context.Context, evts []events.Event) error
}

// UnitOfWork is the explicit durability boundary of one command. Events are
// already durable (and pending projection) when enlisted; Commit settles them
// through the projector, Rollback leaves them for the outbox processor.
type UnitOfWork struct {
	id       string
	settler  Settler
	logger   *zap.Logger
	mu       sync.Mutex
	events   []events.Event
	deferred []func(ctx context.Context)
	held     map[string]bool
	closed   bool
}

var _ ports.UnitOfWork = (*UnitOfWork)(nil)

// New creates an open unit of work
func New(settler Settler, logger *zap.Logger) *UnitOfWork {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UnitOfWork{id: uuid.New().String(), settler: settler, logger: logger}
}

// ID identifies the unit of work in logs
func (u *UnitOfWork) ID() string { return u.id }

// Enlist records events committed inside this unit of work
func (u *UnitOfWork) Enlist(evts ...events.Event) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.events = append(u.events, evts...)
}

// Defer registers cleanup that runs when the unit of work ends either way
func (u *UnitOfWork) Defer(fn func(ctx context.Context)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.deferred = append(u.deferred, fn)
}

// Hold keeps a lock until the unit settles. Commands sent within the same
// unit reuse it instead of waiting on their own lease.
func (u *UnitOfWork) Hold(key string, release func(ctx context.Context)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.held[key] {
		return
	}
	if u.held == nil {
		u.held = make(map[string]bool)
	}
	u.held[key] = true
	u.deferred = append(u.deferred, release)
}

// Holds reports whether the unit keeps the lock on key
func (u *UnitOfWork) Holds(key string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return !u.closed && u.held[key]
}

// Events returns the enlisted events
func (u *UnitOfWork) Events() []events.Event {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]events.Event, len(u.events))
	copy(out, u.events)
	return out
}

// Commit projects the enlisted events and runs deferred cleanup.
// A projection error leaves the events pending for the outbox processor.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	evts, deferred, err := u.close()
	if err != nil {
		return err
	}
	defer runDeferred(ctx, deferred)

	if len(evts) == 0 || u.settler == nil {
		return nil
	}
	if err := u.settler.Project(ctx, evts); err != nil {
		u.logger.Error("Failed to settle unit of work, events stay pending",
			zap.String("uow_id", u.id),
			zap.Int("events", len(evts)),
			zap.Error(err),
		)
		return fmt.Errorf("settle unit of work %s: %w", u.id, err)
	}
	return nil
}

// Rollback runs deferred cleanup. Events that were already committed cannot
// be withdrawn; they remain pending and the outbox processor projects them.
func (u *UnitOfWork) Rollback(ctx context.Context) {
	evts, deferred, err := u.close()
	if err != nil {
		return
	}
	if len(evts) > 0 {
		u.logger.Warn("Unit of work rolled back after events were committed",
			zap.String("uow_id", u.id),
			zap.Int("events", len(evts)),
		)
	}
	runDeferred(ctx, deferred)
}

func (u *UnitOfWork) close() ([]events.Event, []func(context.Context), error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil, nil, fmt.Errorf("unit of work %s already settled", u.id)
	}
	u.closed = true
	return u.events, u.deferred, nil
}

// runDeferred runs cleanup in reverse registration order, detached from cancellation
func runDeferred(ctx context.Context, deferred []func(context.Context)) {
	ctx = context.WithoutCancel(ctx)
	for i := len(deferred) - 1; i >= 0; i-- {
		deferred[i](ctx)
	}
}

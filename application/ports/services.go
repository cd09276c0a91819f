package ports

import (
	"context"
	"errors"
	"time"

	"policyhub-backend/domain/events"
)

var (
	// ErrLockHeld means another owner holds a valid lease on the key
	ErrLockHeld = errors.New("lock is held by another owner")
	// ErrLockNotHeld means the lease expired or was taken over
	ErrLockNotHeld = errors.New("lock is not held by this owner")
)

// Lease is a granted lock
type Lease struct {
	Key        string
	Owner      string
	Token      string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// LockProvider is a lock backend with leases that expire on their own
type LockProvider interface {
	// TryAcquire makes one attempt and returns ErrLockHeld when the key is taken
	TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (Lease, error)
	Release(ctx context.Context, lease Lease) error
	Renew(ctx context.Context, lease Lease, ttl time.Duration) (Lease, error)
}

// FailureDescriptor is what the error sink learns about an unexpected failure
type FailureDescriptor struct {
	Operation     string                 `json:"operation"`
	RequestType   string                 `json:"request_type"`
	TenantID      string                 `json:"tenant_id,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	ErrorType     string                 `json:"error_type"`
	Message       string                 `json:"message"`
	OccurredAt    time.Time              `json:"occurred_at"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

// ErrorSink receives failure notifications. Report must not block or fail
// the operation that produced the failure.
type ErrorSink interface {
	Report(ctx context.Context, failure FailureDescriptor)
}

// UnitOfWork is the durability boundary of one command. Handlers enlist the
// events they committed and defer cleanup; the owner settles it.
type UnitOfWork interface {
	ID() string
	Enlist(evts ...events.Event)
	Defer(fn func(ctx context.Context))
	// Hold keeps the lock on key until the unit settles, then runs release
	Hold(key string, release func(ctx context.Context))
	// Holds reports whether the unit already keeps the lock on key
	Holds(key string) bool
}

// EventPublisher forwards committed events to the integration bus
type EventPublisher interface {
	Publish(ctx context.Context, evts []events.Event) error
}

// Metrics records the operational counters of the core
type Metrics interface {
	RequestHandled(kind, name, outcome string, duration time.Duration)
	ConcurrencyConflict(aggregateType string, attempt int)
	LockWait(aggregateType string, duration time.Duration, acquired bool)
	ProjectionApplied(projection string, failed bool)
	OutboxBacklog(pending int)
}

// NopMetrics discards everything
type NopMetrics struct{}

func (NopMetrics) RequestHandled(string, string, string, time.Duration) {}
func (NopMetrics) ConcurrencyConflict(string, int)                      {}
func (NopMetrics) LockWait(string, time.Duration, bool)                 {}
func (NopMetrics) ProjectionApplied(string, bool)                       {}
func (NopMetrics) OutboxBacklog(int)                                    {}

// NopErrorSink drops reports
type NopErrorSink struct{}

func (NopErrorSink) Report(context.Context, FailureDescriptor) {}

package ports

import (
	"context"
	"errors"
	"time"

	"policyhub-backend/application/readmodels"
	"policyhub-backend/domain/core/valueobjects"
	"policyhub-backend/domain/events"
	"policyhub-backend/domain/ledger"
)

// ErrStaleWrite means the stored row already reflects the same or a later
// event than the one being written
var ErrStaleWrite = errors.New("read model row is newer than the write")

// EventStore is the append-only home of every aggregate history.
// This is a port in hexagonal architecture - the core doesn't know about the implementation
type EventStore interface {
	// Append writes evts after expectedVersion, all or nothing. It returns the
	// new version, or a CONCURRENCY_CONFLICT error when the stream has moved on.
	Append(ctx context.Context, stream valueobjects.StreamID, expectedVersion int, evts []events.Event) (int, error)

	// Load returns the full history ordered by sequence; empty means not found
	Load(ctx context.Context, stream valueobjects.StreamID) ([]events.Event, error)

	// ListStreams lists the streams of one aggregate type within a tenant
	ListStreams(ctx context.Context, tenant valueobjects.TenantID, aggregateType valueobjects.AggregateType) ([]valueobjects.StreamID, error)

	// PendingProjection returns committed events not yet marked projected
	PendingProjection(ctx context.Context, limit int) ([]events.Event, error)

	// MarkProjected records that evts reached every read model
	MarkProjected(ctx context.Context, evts []events.Event) error
}

// PolicySummaryStore persists policy summaries. Only projections write to it.
type PolicySummaryStore interface {
	GetPolicySummary(ctx context.Context, tenant valueobjects.TenantID, id valueobjects.AggregateID) (*readmodels.PolicySummary, error)
	// PutPolicySummary writes only over a row with a lower LastSequence and
	// returns ErrStaleWrite otherwise
	PutPolicySummary(ctx context.Context, summary *readmodels.PolicySummary) error
	ListPolicySummaries(ctx context.Context, tenant valueobjects.TenantID) ([]*readmodels.PolicySummary, error)
	DeletePolicySummary(ctx context.Context, tenant valueobjects.TenantID, id valueobjects.AggregateID) error
}

// TransactionLedgerStore persists ledger entries keyed by (policy, event sequence)
type TransactionLedgerStore interface {
	// UpsertTransaction writes tx when the stored entry has folded fewer
	// events than tx.Applied(), and returns ErrStaleWrite otherwise
	UpsertTransaction(ctx context.Context, tx *ledger.PolicyTransaction) error
	FindTransaction(ctx context.Context, tenant valueobjects.TenantID, policyID valueobjects.AggregateID, transactionID string) (*ledger.PolicyTransaction, error)
	// ListTransactions returns entries ordered by event sequence
	ListTransactions(ctx context.Context, tenant valueobjects.TenantID, policyID valueobjects.AggregateID) ([]*ledger.PolicyTransaction, error)
	DeleteTransactions(ctx context.Context, tenant valueobjects.TenantID, policyID valueobjects.AggregateID) error
}

// UserSummaryStore persists user summaries
type UserSummaryStore interface {
	GetUserSummary(ctx context.Context, tenant valueobjects.TenantID, id valueobjects.AggregateID) (*readmodels.UserSummary, error)
	// PutUserSummary has the same write condition as PutPolicySummary
	PutUserSummary(ctx context.Context, summary *readmodels.UserSummary) error
	ListUserSummaries(ctx context.Context, tenant valueobjects.TenantID) ([]*readmodels.UserSummary, error)
	DeleteUserSummary(ctx context.Context, tenant valueobjects.TenantID, id valueobjects.AggregateID) error
}

// ProjectionFailure is a (projection, event) pair that still has to be applied
type ProjectionFailure struct {
	ID            string        `json:"id"`
	Projection    string        `json:"projection"`
	Event         events.Record `json:"event"`
	Attempts      int           `json:"attempts"`
	LastError     string        `json:"last_error"`
	FirstFailedAt time.Time     `json:"first_failed_at"`
	LastFailedAt  time.Time     `json:"last_failed_at"`
	// Flagged failures exhausted their retries and wait for an operator
	Flagged bool `json:"flagged"`
}

// ProjectionFailureQueue durably keeps failed projections for retry
type ProjectionFailureQueue interface {
	Enqueue(ctx context.Context, failure ProjectionFailure) error
	// Batch returns up to limit unflagged failures, oldest first
	Batch(ctx context.Context, limit int) ([]ProjectionFailure, error)
	Remove(ctx context.Context, id string) error
	// Requeue stores an updated failure (attempts, error, flag)
	Requeue(ctx context.Context, failure ProjectionFailure) error
	Len(ctx context.Context) (int, error)
}

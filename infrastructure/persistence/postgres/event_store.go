package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"policyhub-backend/application/ports"
	"policyhub-backend/domain/core/valueobjects"
	"policyhub-backend/domain/events"
	apperrors "policyhub-backend/pkg/errors"
)

const uniqueViolation = "23505"

// EventStore implements ports.EventStore on Postgres. The stream row is the
// concurrency guard; the unique (stream, sequence) key backs it up.
type EventStore struct {
	pool     *pgxpool.Pool
	registry *events.Registry
	logger   *zap.Logger
}

var _ ports.EventStore = (*EventStore)(nil)

// NewEventStore creates a Postgres-backed event store
func NewEventStore(pool *pgxpool.Pool, registry *events.Registry, logger *zap.Logger) *EventStore {
	return &EventStore{pool: pool, registry: registry, logger: logger}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Append moves the stream row from expectedVersion and inserts evts in one
// transaction
func (s *EventStore) Append(ctx context.Context, stream valueobjects.StreamID, expectedVersion int, evts []events.Event) (int, error) {
	if len(evts) == 0 {
		return expectedVersion, nil
	}
	records, err := events.ToRecords(s.registry, evts)
	if err != nil {
		return 0, apperrors.Wrap(err, "encode events")
	}
	for i, rec := range records {
		if rec.Sequence != expectedVersion+i || rec.Stream() != stream {
			return 0, apperrors.NewValidationError("events are not a contiguous continuation of " + stream.String())
		}
	}
	newVersion := expectedVersion + len(records)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, apperrors.NewDatabaseError("begin append", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var moved int64
	if expectedVersion == 0 {
		tag, err := tx.Exec(ctx, `
INSERT INTO event_streams (tenant_id, aggregate_type, aggregate_id, version)
VALUES ($1, $2, $3, $4)
ON CONFLICT DO NOTHING`,
			stream.Tenant.String(), stream.Type.String(), stream.ID.String(), newVersion)
		if err != nil {
			return 0, apperrors.NewDatabaseError("create stream", err)
		}
		moved = tag.RowsAffected()
	} else {
		tag, err := tx.Exec(ctx, `
UPDATE event_streams SET version = $4, updated_at = NOW()
WHERE tenant_id = $1 AND aggregate_type = $2 AND aggregate_id = $3 AND version = $5`,
			stream.Tenant.String(), stream.Type.String(), stream.ID.String(), newVersion, expectedVersion)
		if err != nil {
			return 0, apperrors.NewDatabaseError("advance stream", err)
		}
		moved = tag.RowsAffected()
	}
	if moved == 0 {
		return 0, apperrors.NewConcurrencyConflict(stream.String(), expectedVersion, s.version(ctx, stream))
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(`
INSERT INTO events (event_id, tenant_id, aggregate_type, aggregate_id, sequence, kind, data, occurred_at, correlation_id, causation_id, actor)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			rec.EventID, rec.TenantID, rec.AggregateType, rec.AggregateID, rec.Sequence, rec.Kind,
			rec.Data, rec.Timestamp, rec.CorrelationID, rec.CausationID, rec.Actor)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		if isUniqueViolation(err) {
			return 0, apperrors.NewConcurrencyConflict(stream.String(), expectedVersion, s.version(ctx, stream))
		}
		return 0, apperrors.NewDatabaseError("insert events", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return 0, apperrors.NewConcurrencyConflict(stream.String(), expectedVersion, s.version(ctx, stream))
		}
		return 0, apperrors.NewDatabaseError("commit append", err)
	}
	return newVersion, nil
}

// version reads the committed stream version, -1 when it cannot be read
func (s *EventStore) version(ctx context.Context, stream valueobjects.StreamID) int {
	var version int
	err := s.pool.QueryRow(ctx, `
SELECT version FROM event_streams WHERE tenant_id = $1 AND aggregate_type = $2 AND aggregate_id = $3`,
		stream.Tenant.String(), stream.Type.String(), stream.ID.String()).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0
		}
		s.logger.Warn("Failed to read stream version", zap.String("stream", stream.String()), zap.Error(err))
		return -1
	}
	return version
}

const selectEvents = `
SELECT event_id, tenant_id, aggregate_type, aggregate_id, sequence, kind, data, occurred_at, correlation_id, causation_id, actor
FROM events`

func (s *EventStore) scan(rows pgx.Rows) ([]events.Event, error) {
	defer rows.Close()
	var records []events.Record
	for rows.Next() {
		var rec events.Record
		if err := rows.Scan(&rec.EventID, &rec.TenantID, &rec.AggregateType, &rec.AggregateID, &rec.Sequence,
			&rec.Kind, &rec.Data, &rec.Timestamp, &rec.CorrelationID, &rec.CausationID, &rec.Actor); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		rec.Timestamp = rec.Timestamp.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events.FromRecords(s.registry, records)
}

// Load returns the history of stream ordered by sequence
func (s *EventStore) Load(ctx context.Context, stream valueobjects.StreamID) ([]events.Event, error) {
	rows, err := s.pool.Query(ctx, selectEvents+`
WHERE tenant_id = $1 AND aggregate_type = $2 AND aggregate_id = $3
ORDER BY sequence`,
		stream.Tenant.String(), stream.Type.String(), stream.ID.String())
	if err != nil {
		return nil, apperrors.NewDatabaseError("load stream", err)
	}
	return s.scan(rows)
}

// ListStreams lists the streams of one type within a tenant
func (s *EventStore) ListStreams(ctx context.Context, tenant valueobjects.TenantID, aggregateType valueobjects.AggregateType) ([]valueobjects.StreamID, error) {
	rows, err := s.pool.Query(ctx, `
SELECT aggregate_id FROM event_streams
WHERE tenant_id = $1 AND aggregate_type = $2
ORDER BY aggregate_id`, tenant.String(), aggregateType.String())
	if err != nil {
		return nil, apperrors.NewDatabaseError("list streams", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, apperrors.NewDatabaseError("list streams", err)
	}
	out := make([]valueobjects.StreamID, 0, len(ids))
	for _, id := range ids {
		out = append(out, valueobjects.NewStreamID(tenant, aggregateType, valueobjects.AggregateID(id)))
	}
	return out, nil
}

// PendingProjection returns unprojected events in commit order
func (s *EventStore) PendingProjection(ctx context.Context, limit int) ([]events.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, selectEvents+`
WHERE projected_at IS NULL
ORDER BY position
LIMIT $1`, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("read outbox", err)
	}
	return s.scan(rows)
}

// MarkProjected stamps evts as delivered to every read model
func (s *EventStore) MarkProjected(ctx context.Context, evts []events.Event) error {
	if len(evts) == 0 {
		return nil
	}
	ids := make([]string, len(evts))
	for i, e := range evts {
		ids[i] = e.EventID
	}
	if _, err := s.pool.Exec(ctx, `UPDATE events SET projected_at = NOW() WHERE event_id = ANY($1) AND projected_at IS NULL`, ids); err != nil {
		return apperrors.NewDatabaseError("mark projected", err)
	}
	return nil
}

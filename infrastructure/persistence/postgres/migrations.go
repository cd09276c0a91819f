package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"policyhub-backend/infrastructure/persistence/schema"
)

var migrations = []struct {
	description string
	sql         string
}{
	{
		description: "event streams and events",
		sql: `
CREATE TABLE IF NOT EXISTS event_streams (
	tenant_id      TEXT        NOT NULL,
	aggregate_type TEXT        NOT NULL,
	aggregate_id   TEXT        NOT NULL,
	version        INTEGER     NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (tenant_id, aggregate_type, aggregate_id)
);

CREATE TABLE IF NOT EXISTS events (
	position       BIGSERIAL   PRIMARY KEY,
	event_id       TEXT        NOT NULL UNIQUE,
	tenant_id      TEXT        NOT NULL,
	aggregate_type TEXT        NOT NULL,
	aggregate_id   TEXT        NOT NULL,
	sequence       INTEGER     NOT NULL,
	kind           TEXT        NOT NULL,
	data           JSONB       NOT NULL,
	occurred_at    TIMESTAMPTZ NOT NULL,
	correlation_id TEXT        NOT NULL DEFAULT '',
	causation_id   TEXT        NOT NULL DEFAULT '',
	actor          TEXT        NOT NULL DEFAULT '',
	projected_at   TIMESTAMPTZ,
	UNIQUE (tenant_id, aggregate_type, aggregate_id, sequence)
);`,
	},
	{
		description: "outbox index",
		sql:         `CREATE INDEX IF NOT EXISTS events_outbox ON events (position) WHERE projected_at IS NULL;`,
	},
}

// versionTable records applied migrations in schema_migrations
type versionTable struct {
	pool *pgxpool.Pool
}

func (v versionTable) CurrentVersion(ctx context.Context) (int, error) {
	if _, err := v.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version     INTEGER     PRIMARY KEY,
	description TEXT        NOT NULL,
	applied_at  TIMESTAMPTZ NOT NULL
)`); err != nil {
		return 0, err
	}
	var version int
	err := v.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return version, err
}

func (v versionTable) Record(ctx context.Context, sv schema.SchemaVersion) error {
	_, err := v.pool.Exec(ctx,
		`INSERT INTO schema_migrations (version, description, applied_at) VALUES ($1, $2, $3) ON CONFLICT (version) DO NOTHING`,
		sv.Version, sv.Description, sv.AppliedAt)
	return err
}

// Migrate brings the event store schema up to date
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	evolution := schema.NewEvolution(versionTable{pool: pool}, logger)
	for i, m := range migrations {
		sql := m.sql
		if err := evolution.Register(schema.Migration{
			Version:     i + 1,
			Description: m.description,
			Up: func(ctx context.Context) error {
				_, err := pool.Exec(ctx, sql)
				return err
			},
		}); err != nil {
			return err
		}
	}
	_, err := evolution.Migrate(ctx)
	return err
}

package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"policyhub-backend/domain/core/aggregates"
	"policyhub-backend/domain/core/valueobjects"
	"policyhub-backend/domain/events"
	"policyhub-backend/pkg/clock"
	apperrors "policyhub-backend/pkg/errors"
)

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "40001"}))
	assert.False(t, isUniqueViolation(fmt.Errorf("plain")))
}

// testPool connects to POLICYHUB_TEST_DATABASE_URL; the store tests need a
// real server and are skipped without one
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("POLICYHUB_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("POLICYHUB_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := NewPool(ctx, PoolConfig{URL: url}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, Migrate(ctx, pool, zap.NewNop()))
	return pool
}

func TestEventStoreRoundTrip(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	store := NewEventStore(pool, events.DefaultRegistry(), zap.NewNop())

	tenant := valueobjects.TenantID(fmt.Sprintf("t%d", time.Now().UnixNano()))
	stream := valueobjects.NewStreamID(tenant, aggregates.UserType, "user-1")
	user := aggregates.NewUser(stream, clock.System())
	require.NoError(t, user.Initialize("ada@example.com", "Ada"))

	version, err := store.Append(ctx, stream, 0, user.Uncommitted())
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	_, err = store.Append(ctx, stream, 0, user.Uncommitted())
	assert.True(t, apperrors.IsConcurrencyConflict(err))

	loaded, err := store.Load(ctx, stream)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, events.KindUserInitialized, loaded[0].Kind)

	streams, err := store.ListStreams(ctx, tenant, aggregates.UserType)
	require.NoError(t, err)
	assert.Equal(t, []valueobjects.StreamID{stream}, streams)

	require.NoError(t, store.MarkProjected(ctx, loaded))
	pending, err := store.PendingProjection(ctx, 1000)
	require.NoError(t, err)
	for _, e := range pending {
		assert.NotEqual(t, loaded[0].EventID, e.EventID)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	pool := testPool(t)
	require.NoError(t, Migrate(context.Background(), pool, zap.NewNop()))
}

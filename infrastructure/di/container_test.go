package di

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyhub-backend/application/projections"
	"policyhub-backend/infrastructure/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Logging.Level = "error"
	return cfg
}

func TestInitializeContainer_InMemory(t *testing.T) {
	container, cleanup, err := InitializeContainer(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(cleanup)

	assert.NotNil(t, container.Mediator)
	assert.NotNil(t, container.Projector)
	assert.NotNil(t, container.Outbox)
	assert.NotNil(t, container.Router)
	assert.NotNil(t, container.Collector)
	assert.Nil(t, container.CloudWatch)
	assert.NoError(t, container.FlushMetrics(context.Background()))

	var names []string
	for _, s := range container.Projector.Stats() {
		names = append(names, s.ProjectionName)
	}
	assert.Len(t, names, 3, "integration events stay off without a bus")
}

func TestInitializeContainer_BoltFailureQueue(t *testing.T) {
	cfg := testConfig(t)
	cfg.FailureQueue.Backend = config.BackendBolt
	cfg.FailureQueue.Path = filepath.Join(t.TempDir(), "failures.db")

	_, cleanup, err := InitializeContainer(context.Background(), cfg)
	require.NoError(t, err)
	cleanup()

	// the file is released on cleanup, so a second container can open it
	_, cleanup, err = InitializeContainer(context.Background(), cfg)
	require.NoError(t, err)
	cleanup()
}

func TestInitializeContainer_MetricsBackends(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Backend = config.BackendNone

	container, cleanup, err := InitializeContainer(context.Background(), cfg)
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, container.Collector)
	assert.Nil(t, container.CloudWatch)
}

func TestProvideRateLimiter(t *testing.T) {
	cfg := testConfig(t)
	assert.NotNil(t, ProvideRateLimiter(cfg, nil, ProvideClock()))

	cfg.Server.RateLimitPerMinute = 0
	assert.Nil(t, ProvideRateLimiter(cfg, nil, ProvideClock()))
}

func TestProvideJWTValidator(t *testing.T) {
	cfg := testConfig(t)
	v, err := ProvideJWTValidator(cfg)
	require.NoError(t, err)
	assert.Nil(t, v)

	cfg.Auth.Enabled = true
	cfg.Auth.JWTSecret = "secret"
	v, err = ProvideJWTValidator(cfg)
	require.NoError(t, err)
	assert.NotNil(t, v)
}

func TestOutboxDefaultsAgree(t *testing.T) {
	lib := projections.DefaultOutboxConfig()
	bin := config.Default().Outbox

	assert.Equal(t, lib.BatchSize, bin.BatchSize)
	assert.Equal(t, lib.Interval, bin.Interval)
	assert.Equal(t, lib.MaxRetries, bin.MaxRetries)
	assert.Equal(t, lib.MinAge, bin.MinAge)
	assert.Equal(t, 10*time.Second, lib.MinAge)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.EventStore.Backend)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Outbox.MinAge)
}

func TestLoadLayersFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
environment: staging
event_store:
  backend: postgres
  postgres_url: postgres://file/db
retry:
  max_attempts: 5
  base_delay: 50ms
logging:
  level: debug
`)
	t.Setenv("EVENT_STORE_POSTGRES_URL", "postgres://env/db")
	t.Setenv("LOCK_TIMEOUT", "2s")
	t.Setenv("SERVER_CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, BackendPostgres, cfg.EventStore.Backend)
	assert.Equal(t, "postgres://env/db", cfg.EventStore.PostgresURL, "environment wins over the file")
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 2*time.Second, cfg.Locks.Timeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "retry: [")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{
			name:    "unknown event store",
			mutate:  func(c *Config) { c.EventStore.Backend = "cassandra" },
			wantErr: "event_store.backend",
		},
		{
			name:    "postgres without url",
			mutate:  func(c *Config) { c.EventStore.Backend = BackendPostgres },
			wantErr: "postgres_url",
		},
		{
			name:    "redis without url",
			mutate:  func(c *Config) { c.Locks.Backend = BackendRedis },
			wantErr: "redis_url",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: "logging.level",
		},
		{
			name:    "auth without secret",
			mutate:  func(c *Config) { c.Auth.Enabled = true },
			wantErr: "jwt_secret",
		},
		{
			name:    "production without auth",
			mutate:  func(c *Config) { c.Environment = "production" },
			wantErr: "auth must be enabled",
		},
		{
			name:    "zero attempts",
			mutate:  func(c *Config) { c.Retry.MaxAttempts = 0 },
			wantErr: "max_attempts",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "logging:\n  level: info\n")
	initial, err := Load(path)
	require.NoError(t, err)

	w, err := NewWatcher(path, initial, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	levels := make(chan string, 4)
	w.OnChange(func(c *Config) { levels <- c.Logging.Level })

	writeFile(t, path, "logging:\n  level: debug\n")

	select {
	case level := <-levels:
		assert.Equal(t, "debug", level)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
	assert.Equal(t, "debug", w.Current().Logging.Level)
}

func TestWatcherKeepsConfigOnInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "logging:\n  level: info\n")
	initial, err := Load(path)
	require.NoError(t, err)

	w, err := NewWatcher(path, initial, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	writeFile(t, path, "logging:\n  level: loud\n")
	time.Sleep(2 * debounceDelay)
	assert.Equal(t, "info", w.Current().Logging.Level)
}

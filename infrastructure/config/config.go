package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Backend names
const (
	BackendMemory     = "memory"
	BackendDynamoDB   = "dynamodb"
	BackendPostgres   = "postgres"
	BackendRedis      = "redis"
	BackendBolt       = "bolt"
	BackendPrometheus = "prometheus"
	BackendCloudWatch = "cloudwatch"
	BackendNone       = "none"
)

// Config holds all application configuration
type Config struct {
	Environment string `yaml:"environment" env:"ENVIRONMENT"`

	Server       ServerConfig       `yaml:"server" envPrefix:"SERVER_"`
	AWS          AWSConfig          `yaml:"aws" envPrefix:"AWS_"`
	EventStore   EventStoreConfig   `yaml:"event_store" envPrefix:"EVENT_STORE_"`
	Locks        LockConfig         `yaml:"locks" envPrefix:"LOCK_"`
	ReadModels   ReadModelConfig    `yaml:"read_models" envPrefix:"READ_MODEL_"`
	Retry        RetryConfig        `yaml:"retry" envPrefix:"RETRY_"`
	Outbox       OutboxConfig       `yaml:"outbox" envPrefix:"OUTBOX_"`
	FailureQueue FailureQueueConfig `yaml:"failure_queue" envPrefix:"FAILURE_QUEUE_"`
	EventBus     EventBusConfig     `yaml:"event_bus" envPrefix:"EVENT_BUS_"`
	Metrics      MetricsConfig      `yaml:"metrics" envPrefix:"METRICS_"`
	Tracing      TracingConfig      `yaml:"tracing" envPrefix:"TRACING_"`
	Auth         AuthConfig         `yaml:"auth" envPrefix:"AUTH_"`
	Logging      LoggingConfig      `yaml:"logging" envPrefix:"LOG_"`
}

type ServerConfig struct {
	Address         string        `yaml:"address" env:"ADDRESS"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	CORSOrigins     []string      `yaml:"cors_origins" env:"CORS_ORIGINS"`
	// RateLimitPerMinute is each tenant's request budget; 0 disables limiting
	RateLimitPerMinute int `yaml:"rate_limit_per_minute" env:"RATE_LIMIT_PER_MINUTE"`
}

type AWSConfig struct {
	Region string `yaml:"region" env:"REGION"`
	// Endpoint overrides service endpoints, for local stacks
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"`
}

type EventStoreConfig struct {
	Backend      string `yaml:"backend" env:"BACKEND"`
	TableName    string `yaml:"table_name" env:"TABLE_NAME"`
	OutboxIndex  string `yaml:"outbox_index" env:"OUTBOX_INDEX"`
	StreamsIndex string `yaml:"streams_index" env:"STREAMS_INDEX"`
	PostgresURL  string `yaml:"postgres_url" env:"POSTGRES_URL"`
	MaxConns     int32  `yaml:"max_conns" env:"MAX_CONNS"`
}

type LockConfig struct {
	Backend        string        `yaml:"backend" env:"BACKEND"`
	TableName      string        `yaml:"table_name" env:"TABLE_NAME"`
	RedisURL       string        `yaml:"redis_url" env:"REDIS_URL"`
	LeaseTTL       time.Duration `yaml:"lease_ttl" env:"LEASE_TTL"`
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"INITIAL_BACKOFF"`
	MaxBackoff     time.Duration `yaml:"max_backoff" env:"MAX_BACKOFF"`
	// Timeout bounds how long a command waits for an aggregate lock
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type ReadModelConfig struct {
	Backend   string `yaml:"backend" env:"BACKEND"`
	TableName string `yaml:"table_name" env:"TABLE_NAME"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	BaseDelay   time.Duration `yaml:"base_delay" env:"BASE_DELAY"`
	MaxDelay    time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
}

type OutboxConfig struct {
	Enabled    bool          `yaml:"enabled" env:"ENABLED"`
	BatchSize  int           `yaml:"batch_size" env:"BATCH_SIZE"`
	Interval   time.Duration `yaml:"interval" env:"INTERVAL"`
	MaxRetries int           `yaml:"max_retries" env:"MAX_RETRIES"`
	MinAge     time.Duration `yaml:"min_age" env:"MIN_AGE"`
}

type FailureQueueConfig struct {
	Backend string `yaml:"backend" env:"BACKEND"`
	Path    string `yaml:"path" env:"PATH"`
}

type EventBusConfig struct {
	// Name of the integration bus; empty disables publishing
	Name string `yaml:"name" env:"NAME"`
	// ErrorBusName receives failure reports; empty logs them instead
	ErrorBusName string `yaml:"error_bus_name" env:"ERROR_BUS_NAME"`
}

type MetricsConfig struct {
	Backend   string `yaml:"backend" env:"BACKEND"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

type TracingConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

type AuthConfig struct {
	Enabled     bool   `yaml:"enabled" env:"ENABLED"`
	JWTSecret   string `yaml:"jwt_secret" env:"JWT_SECRET"`
	JWTIssuer   string `yaml:"jwt_issuer" env:"JWT_ISSUER"`
	TenantClaim string `yaml:"tenant_claim" env:"TENANT_CLAIM"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// Default returns a configuration that runs entirely in memory
func Default() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Address:            ":8080",
			ReadTimeout:        15 * time.Second,
			WriteTimeout:       15 * time.Second,
			ShutdownTimeout:    30 * time.Second,
			CORSOrigins:        []string{"*"},
			RateLimitPerMinute: 600,
		},
		AWS: AWSConfig{Region: "us-east-1"},
		EventStore: EventStoreConfig{
			Backend:      BackendMemory,
			TableName:    "policyhub-events",
			OutboxIndex:  "OutboxIndex",
			StreamsIndex: "StreamIndex",
			MaxConns:     10,
		},
		Locks: LockConfig{
			Backend:        BackendMemory,
			TableName:      "policyhub-locks",
			LeaseTTL:       30 * time.Second,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     time.Second,
			Timeout:        5 * time.Second,
		},
		ReadModels: ReadModelConfig{Backend: BackendMemory, TableName: "policyhub-read-models"},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   25 * time.Millisecond,
			MaxDelay:    time.Second,
		},
		Outbox: OutboxConfig{
			Enabled:    true,
			BatchSize:  50,
			Interval:   5 * time.Second,
			MaxRetries: 5,
			MinAge:     10 * time.Second,
		},
		FailureQueue: FailureQueueConfig{Backend: BackendMemory, Path: "data/projection-failures.db"},
		Metrics:      MetricsConfig{Backend: BackendPrometheus, Namespace: "policyhub"},
		Auth:         AuthConfig{JWTIssuer: "policyhub", TenantClaim: "tenant_id"},
		Logging:      LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, a .env file and the environment, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	// .env never overrides variables already set
	_ = godotenv.Load(".env")

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %v, got %q", field, allowed, value)
}

// Validate checks backend choices and the settings they require
func (c *Config) Validate() error {
	var errs []error

	if err := oneOf("event_store.backend", c.EventStore.Backend, BackendMemory, BackendDynamoDB, BackendPostgres); err != nil {
		errs = append(errs, err)
	}
	if c.EventStore.Backend == BackendDynamoDB && c.EventStore.TableName == "" {
		errs = append(errs, errors.New("event_store.table_name is required for dynamodb"))
	}
	if c.EventStore.Backend == BackendPostgres && c.EventStore.PostgresURL == "" {
		errs = append(errs, errors.New("event_store.postgres_url is required for postgres"))
	}

	if err := oneOf("locks.backend", c.Locks.Backend, BackendMemory, BackendDynamoDB, BackendRedis); err != nil {
		errs = append(errs, err)
	}
	if c.Locks.Backend == BackendRedis && c.Locks.RedisURL == "" {
		errs = append(errs, errors.New("locks.redis_url is required for redis"))
	}
	if c.Locks.Backend == BackendDynamoDB && c.Locks.TableName == "" {
		errs = append(errs, errors.New("locks.table_name is required for dynamodb"))
	}

	if err := oneOf("read_models.backend", c.ReadModels.Backend, BackendMemory, BackendDynamoDB); err != nil {
		errs = append(errs, err)
	}
	if err := oneOf("failure_queue.backend", c.FailureQueue.Backend, BackendMemory, BackendBolt); err != nil {
		errs = append(errs, err)
	}
	if c.FailureQueue.Backend == BackendBolt && c.FailureQueue.Path == "" {
		errs = append(errs, errors.New("failure_queue.path is required for bolt"))
	}
	if err := oneOf("metrics.backend", c.Metrics.Backend, BackendPrometheus, BackendCloudWatch, BackendNone); err != nil {
		errs = append(errs, err)
	}
	if err := oneOf("logging.format", c.Logging.Format, "json", "console"); err != nil {
		errs = append(errs, err)
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, errors.New("server.rate_limit_per_minute cannot be negative"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required when auth is enabled"))
	}
	if c.IsProduction() && !c.Auth.Enabled {
		errs = append(errs, errors.New("auth must be enabled in production"))
	}

	return errors.Join(errs...)
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

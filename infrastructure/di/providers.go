package di

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscloudwatch "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-xray-sdk-go/instrumentation/awsv2"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"policyhub-backend/application/commands/bus"
	commandhandlers "policyhub-backend/application/commands/handlers"
	"policyhub-backend/application/locking"
	"policyhub-backend/application/mediator"
	"policyhub-backend/application/ports"
	"policyhub-backend/application/projections"
	querybus "policyhub-backend/application/queries/bus"
	queryhandlers "policyhub-backend/application/queries/handlers"
	"policyhub-backend/application/repository"
	"policyhub-backend/application/retry"
	"policyhub-backend/domain/core/aggregates"
	"policyhub-backend/domain/events"
	"policyhub-backend/infrastructure/config"
	"policyhub-backend/infrastructure/messaging/eventbridge"
	"policyhub-backend/infrastructure/observability"
	"policyhub-backend/infrastructure/persistence/bolt"
	"policyhub-backend/infrastructure/persistence/dynamodb"
	"policyhub-backend/infrastructure/persistence/memory"
	"policyhub-backend/infrastructure/persistence/postgres"
	"policyhub-backend/infrastructure/persistence/redis"
	"policyhub-backend/interfaces/http/rest"
	"policyhub-backend/pkg/auth"
	"policyhub-backend/pkg/clock"
	tracing "policyhub-backend/pkg/observability"
)

const serviceName = "policyhub"

// ReadModels is one store serving every read model
type ReadModels interface {
	ports.PolicySummaryStore
	ports.TransactionLedgerStore
	ports.UserSummaryStore
}

// Logging carries the logger and the level the config watcher adjusts
type Logging struct {
	Logger *zap.Logger
	Level  zap.AtomicLevel
}

// ProvideLogging builds the application logger
func ProvideLogging(cfg *config.Config) (Logging, func(), error) {
	logger, level, err := observability.NewLogger(cfg.Environment, cfg.Logging)
	if err != nil {
		return Logging{}, nil, err
	}
	return Logging{Logger: logger, Level: level}, func() { _ = logger.Sync() }, nil
}

// ProvideLogger extracts the logger
func ProvideLogger(l Logging) *zap.Logger {
	return l.Logger
}

func ProvideClock() clock.Clock {
	return clock.System()
}

func ProvideRegistry() *events.Registry {
	return events.DefaultRegistry()
}

// ProvideAWSConfig creates AWS configuration. With tracing enabled every
// SDK call is recorded as an X-Ray subsegment.
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWS.Region),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.Tracing.Enabled {
		awsv2.AWSV2Instrumentor(&awsCfg.APIOptions)
	}
	return awsCfg, nil
}

func endpoint(cfg *config.Config) *string {
	if cfg.AWS.Endpoint == "" {
		return nil
	}
	return aws.String(cfg.AWS.Endpoint)
}

// ProvideDynamoDBClient creates a DynamoDB client
func ProvideDynamoDBClient(awsCfg aws.Config, cfg *config.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
		o.BaseEndpoint = endpoint(cfg)
	})
}

// ProvideEventBridgeClient creates an EventBridge client
func ProvideEventBridgeClient(awsCfg aws.Config, cfg *config.Config) *awseventbridge.Client {
	return awseventbridge.NewFromConfig(awsCfg, func(o *awseventbridge.Options) {
		o.BaseEndpoint = endpoint(cfg)
	})
}

// ProvideCloudWatchClient creates a CloudWatch client
func ProvideCloudWatchClient(awsCfg aws.Config, cfg *config.Config) *awscloudwatch.Client {
	return awscloudwatch.NewFromConfig(awsCfg, func(o *awscloudwatch.Options) {
		o.BaseEndpoint = endpoint(cfg)
	})
}

// ProvidePostgresPool connects and migrates when the event store is postgres.
// Other backends get a nil pool.
func ProvidePostgresPool(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pgxpool.Pool, func(), error) {
	if cfg.EventStore.Backend != config.BackendPostgres {
		return nil, func() {}, nil
	}
	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		URL:             cfg.EventStore.PostgresURL,
		MaxConns:        int(cfg.EventStore.MaxConns),
		MaxConnLifetime: time.Hour,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.Migrate(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pool, pool.Close, nil
}

// ProvideRedisClient connects when locks live in redis. Other backends get
// a nil client.
func ProvideRedisClient(ctx context.Context, cfg *config.Config) (*goredis.Client, func(), error) {
	if cfg.Locks.Backend != config.BackendRedis {
		return nil, func() {}, nil
	}
	client, err := redis.NewClient(ctx, cfg.Locks.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideEventStore selects the configured event store
func ProvideEventStore(
	cfg *config.Config,
	client *awsdynamodb.Client,
	pool *pgxpool.Pool,
	registry *events.Registry,
	clk clock.Clock,
	logger *zap.Logger,
) ports.EventStore {
	switch cfg.EventStore.Backend {
	case config.BackendDynamoDB:
		return dynamodb.NewEventStore(client, dynamodb.EventStoreConfig{
			TableName:    cfg.EventStore.TableName,
			OutboxIndex:  cfg.EventStore.OutboxIndex,
			StreamsIndex: cfg.EventStore.StreamsIndex,
		}, registry, clk, logger)
	case config.BackendPostgres:
		return postgres.NewEventStore(pool, registry, logger)
	default:
		return memory.NewEventStore(registry)
	}
}

// ProvideLockProvider selects the configured lock backend
func ProvideLockProvider(
	cfg *config.Config,
	client *awsdynamodb.Client,
	redisClient *goredis.Client,
	clk clock.Clock,
	logger *zap.Logger,
) ports.LockProvider {
	switch cfg.Locks.Backend {
	case config.BackendDynamoDB:
		return dynamodb.NewLockProvider(client, cfg.Locks.TableName, clk, logger)
	case config.BackendRedis:
		return redis.NewLockProvider(redisClient, serviceName+":lock:", clk, logger)
	default:
		return memory.NewLockProvider(clk)
	}
}

// ProvideReadModels selects the configured read model store
func ProvideReadModels(cfg *config.Config, client *awsdynamodb.Client, logger *zap.Logger) ReadModels {
	if cfg.ReadModels.Backend == config.BackendDynamoDB {
		return dynamodb.NewReadModelStore(client, cfg.ReadModels.TableName, logger)
	}
	return memory.NewReadModelStore()
}

// ProvideFailureQueue selects the projection failure queue
func ProvideFailureQueue(cfg *config.Config, logger *zap.Logger) (ports.ProjectionFailureQueue, func(), error) {
	if cfg.FailureQueue.Backend != config.BackendBolt {
		return memory.NewFailureQueue(), func() {}, nil
	}
	queue, err := bolt.OpenFailureQueue(cfg.FailureQueue.Path)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Projection failure queue opened", zap.String("path", cfg.FailureQueue.Path))
	return queue, func() {
		if err := queue.Close(); err != nil {
			logger.Warn("Failed to close failure queue", zap.Error(err))
		}
	}, nil
}

// ProvideCollector creates the Prometheus collector, nil unless selected
func ProvideCollector(cfg *config.Config) *observability.Collector {
	if cfg.Metrics.Backend != config.BackendPrometheus {
		return nil
	}
	return observability.NewCollector(cfg.Metrics.Namespace)
}

// ProvideCloudWatchMetrics creates the buffered CloudWatch sink, nil unless selected
func ProvideCloudWatchMetrics(cfg *config.Config, client *awscloudwatch.Client, logger *zap.Logger) *observability.CloudWatchMetrics {
	if cfg.Metrics.Backend != config.BackendCloudWatch {
		return nil
	}
	return observability.NewCloudWatchMetrics(cfg.Metrics.Namespace, client, logger)
}

// ProvideMetrics picks whichever metrics backend exists
func ProvideMetrics(collector *observability.Collector, cw *observability.CloudWatchMetrics) ports.Metrics {
	switch {
	case collector != nil:
		return collector
	case cw != nil:
		return cw
	default:
		return ports.NopMetrics{}
	}
}

// ProvideEventPublisher creates the integration event publisher, nil when
// no bus is configured
func ProvideEventPublisher(cfg *config.Config, client *awseventbridge.Client, registry *events.Registry, logger *zap.Logger) ports.EventPublisher {
	if cfg.EventBus.Name == "" {
		return nil
	}
	return eventbridge.NewPublisher(client, cfg.EventBus.Name, registry, logger)
}

// ProvideErrorSink sends failures to the error bus, or logs them
func ProvideErrorSink(cfg *config.Config, client *awseventbridge.Client, logger *zap.Logger) (ports.ErrorSink, func()) {
	if cfg.EventBus.ErrorBusName == "" {
		return observability.NewLogErrorSink(logger), func() {}
	}
	sink := eventbridge.NewErrorSink(client, eventbridge.DefaultErrorSinkConfig(cfg.EventBus.ErrorBusName), logger)
	return sink, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sink.Close(ctx); err != nil {
			logger.Warn("Error sink did not drain", zap.Error(err))
		}
	}
}

func ProvideTracer(cfg *config.Config) *tracing.Tracer {
	return tracing.NewTracer(serviceName, cfg.Tracing.Enabled)
}

// ProvideProjector registers the read model projections and, with a
// publisher, the integration events projection
func ProvideProjector(
	store ports.EventStore,
	failures ports.ProjectionFailureQueue,
	registry *events.Registry,
	sink ports.ErrorSink,
	metrics ports.Metrics,
	clk clock.Clock,
	readModels ReadModels,
	publisher ports.EventPublisher,
	logger *zap.Logger,
) (*projections.Projector, error) {
	projector := projections.NewProjector(store, failures, registry, sink, metrics, clk, logger)

	all := []projections.Projection{
		projections.NewPolicySummaryProjection(readModels),
		projections.NewTransactionLedgerProjection(readModels),
		projections.NewUserSummaryProjection(readModels),
	}
	if publisher != nil {
		all = append(all, projections.NewIntegrationEventsProjection(publisher))
	}
	for _, p := range all {
		if err := projector.Register(p); err != nil {
			return nil, err
		}
	}
	return projector, nil
}

func ProvideLockService(provider ports.LockProvider, cfg *config.Config, metrics ports.Metrics, logger *zap.Logger) *locking.Service {
	lockCfg := locking.DefaultConfig()
	if cfg.Locks.LeaseTTL > 0 {
		lockCfg.LeaseTTL = cfg.Locks.LeaseTTL
	}
	if cfg.Locks.InitialBackoff > 0 {
		lockCfg.InitialBackoff = cfg.Locks.InitialBackoff
	}
	if cfg.Locks.MaxBackoff > 0 {
		lockCfg.MaxBackoff = cfg.Locks.MaxBackoff
	}
	return locking.NewService(provider, lockCfg, metrics, logger)
}

func ProvidePolicyRepository(
	store ports.EventStore,
	locks *locking.Service,
	projector *projections.Projector,
	clk clock.Clock,
	cfg *config.Config,
	logger *zap.Logger,
) *commandhandlers.PolicyRepository {
	return repository.New(aggregates.PolicyType, aggregates.PolicyFactory(clk), store, locks, projector,
		repository.Config{LockTimeout: cfg.Locks.Timeout}, logger)
}

func ProvideUserRepository(
	store ports.EventStore,
	locks *locking.Service,
	projector *projections.Projector,
	clk clock.Clock,
	cfg *config.Config,
	logger *zap.Logger,
) *commandhandlers.UserRepository {
	return repository.New(aggregates.UserType, aggregates.UserFactory(clk), store, locks, projector,
		repository.Config{LockTimeout: cfg.Locks.Timeout}, logger)
}

func ProvideRetryPolicy(cfg *config.Config, metrics ports.Metrics, logger *zap.Logger) retry.Policy {
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.Retry.MaxAttempts
	if cfg.Retry.BaseDelay > 0 {
		policy.BaseDelay = cfg.Retry.BaseDelay
	}
	if cfg.Retry.MaxDelay > 0 {
		policy.MaxDelay = cfg.Retry.MaxDelay
	}
	policy.Metrics = metrics
	policy.Logger = logger
	return policy
}

// ProvideCommandBus registers every command handler
func ProvideCommandBus(
	policies *commandhandlers.PolicyRepository,
	users *commandhandlers.UserRepository,
	retryPolicy retry.Policy,
	logger *zap.Logger,
) (*bus.CommandBus, error) {
	b := bus.NewCommandBus()
	if err := commandhandlers.RegisterAll(b, policies, users, retryPolicy, logger); err != nil {
		return nil, fmt.Errorf("register command handlers: %w", err)
	}
	return b, nil
}

// ProvideQueryBus registers every query handler
func ProvideQueryBus(
	readModels ReadModels,
	store ports.EventStore,
	registry *events.Registry,
	clk clock.Clock,
	logger *zap.Logger,
) (*querybus.QueryBus, error) {
	b := querybus.NewQueryBus()
	if err := queryhandlers.NewPolicyQueryHandlers(readModels, readModels, store, registry, clk, logger).Register(b); err != nil {
		return nil, fmt.Errorf("register policy queries: %w", err)
	}
	if err := queryhandlers.NewUserQueryHandlers(readModels).Register(b); err != nil {
		return nil, fmt.Errorf("register user queries: %w", err)
	}
	return b, nil
}

// ProvideMediator builds the mediator and its behavior pipeline
func ProvideMediator(
	commands *bus.CommandBus,
	queries *querybus.QueryBus,
	projector *projections.Projector,
	sink ports.ErrorSink,
	tracer *tracing.Tracer,
	metrics ports.Metrics,
	logger *zap.Logger,
) *mediator.Mediator {
	m := mediator.NewMediator(commands, queries, projector, sink, tracer, logger)
	m.AddBehavior(mediator.NewValidationBehavior(logger))
	m.AddBehavior(mediator.NewLoggingBehavior(logger))
	m.AddBehavior(mediator.NewMetricsBehavior(metrics))
	m.AddBehavior(mediator.NewPerformanceBehavior(logger, 500*time.Millisecond, 200*time.Millisecond))
	return m
}

func ProvideOutbox(projector *projections.Projector, cfg *config.Config, logger *zap.Logger) *projections.OutboxProcessor {
	return projections.NewOutboxProcessor(projector, projections.OutboxConfig{
		BatchSize:  cfg.Outbox.BatchSize,
		Interval:   cfg.Outbox.Interval,
		MaxRetries: cfg.Outbox.MaxRetries,
		MinAge:     cfg.Outbox.MinAge,
	}, logger)
}

// ProvideRateLimiter limits requests per tenant. Limits are shared through
// redis when a client exists.
func ProvideRateLimiter(cfg *config.Config, client *goredis.Client, clk clock.Clock) auth.RateLimiter {
	if cfg.Server.RateLimitPerMinute == 0 {
		return nil
	}
	if client != nil {
		return auth.NewRedisWindowLimiter(client, cfg.Server.RateLimitPerMinute, time.Minute, clk)
	}
	return auth.NewSlidingWindowLimiter(cfg.Server.RateLimitPerMinute, time.Minute, clk)
}

// ProvideJWTValidator returns nil when authentication is disabled
func ProvideJWTValidator(cfg *config.Config) (*auth.JWTValidator, error) {
	if !cfg.Auth.Enabled {
		return nil, nil
	}
	return auth.NewJWTValidator(auth.JWTConfig{
		SecretKey:   cfg.Auth.JWTSecret,
		Issuer:      cfg.Auth.JWTIssuer,
		TenantClaim: cfg.Auth.TenantClaim,
	})
}

// ProvideRouter builds the HTTP handler
func ProvideRouter(
	cfg *config.Config,
	m *mediator.Mediator,
	projector *projections.Projector,
	outbox *projections.OutboxProcessor,
	validator *auth.JWTValidator,
	limiter auth.RateLimiter,
	collector *observability.Collector,
	logger *zap.Logger,
) http.Handler {
	routerCfg := rest.RouterConfig{
		CORSOrigins: cfg.Server.CORSOrigins,
		Validator:   validator,
		Limiter:     limiter,
		Debug:       cfg.IsDevelopment(),
	}
	if collector != nil {
		routerCfg.MetricsHandler = collector.Handler()
		routerCfg.Recorder = collector
	}
	return rest.NewRouter(m, projector, outbox, routerCfg, logger).Setup()
}

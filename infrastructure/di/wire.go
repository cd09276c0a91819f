//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"policyhub-backend/infrastructure/config"
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogging,
	ProvideLogger,
	ProvideClock,
	ProvideRegistry,
	ProvideAWSConfig,
	ProvideDynamoDBClient,
	ProvideEventBridgeClient,
	ProvideCloudWatchClient,
	ProvidePostgresPool,
	ProvideRedisClient,
	ProvideEventStore,
	ProvideLockProvider,
	ProvideReadModels,
	ProvideFailureQueue,
	ProvideCollector,
	ProvideCloudWatchMetrics,
	ProvideMetrics,
	ProvideEventPublisher,
	ProvideErrorSink,
	ProvideTracer,
	ProvideProjector,
	ProvideLockService,
	ProvidePolicyRepository,
	ProvideUserRepository,
	ProvideRetryPolicy,
	ProvideCommandBus,
	ProvideQueryBus,
	ProvideMediator,
	ProvideOutbox,
	ProvideRateLimiter,
	ProvideJWTValidator,
	ProvideRouter,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	wire.Build(SuperSet)
	return nil, nil, nil // Wire will replace this
}

// Command outbox-sweeper runs one outbox pass per scheduled invocation:
// events committed but not yet projected, then queued projection failures.
package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"policyhub-backend/application/projections"
	"policyhub-backend/infrastructure/config"
	"policyhub-backend/infrastructure/di"
)

var container *di.Container

func init() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg.Outbox.Enabled = false

	container, _, err = di.InitializeContainer(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
}

// Handler is triggered by an EventBridge schedule
func Handler(ctx context.Context, event events.CloudWatchEvent) (projections.OutboxStats, error) {
	logger := container.Logging.Logger

	stats, err := container.Outbox.RunOnce(ctx)
	if flushErr := container.FlushMetrics(ctx); flushErr != nil {
		logger.Warn("Failed to flush metrics", zap.Error(flushErr))
	}
	if err != nil {
		logger.Error("Outbox sweep failed", zap.String("event_id", event.ID), zap.Error(err))
		return stats, err
	}

	logger.Info("Outbox sweep completed",
		zap.String("event_id", event.ID),
		zap.Int("pending", stats.Pending),
		zap.Int("retried", stats.Retried),
		zap.Int("recovered", stats.Recovered),
		zap.Int("flagged", stats.Flagged),
	)
	return stats, nil
}

func main() {
	lambda.Start(Handler)
}

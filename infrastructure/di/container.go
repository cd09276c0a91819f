package di

import (
	"context"
	"net/http"

	"policyhub-backend/application/mediator"
	"policyhub-backend/application/projections"
	"policyhub-backend/infrastructure/config"
	"policyhub-backend/infrastructure/observability"
)

// Container holds all application dependencies
type Container struct {
	Config    *config.Config
	Logging   Logging
	Mediator  *mediator.Mediator
	Projector *projections.Projector
	Outbox    *projections.OutboxProcessor
	Router    http.Handler
	// Collector is nil unless metrics go to Prometheus
	Collector *observability.Collector
	// CloudWatch is nil unless metrics go to CloudWatch
	CloudWatch *observability.CloudWatchMetrics
}

// FlushMetrics pushes buffered CloudWatch metrics. Short-lived processes
// call it before returning.
func (c *Container) FlushMetrics(ctx context.Context) error {
	if c.CloudWatch == nil {
		return nil
	}
	return c.CloudWatch.Flush(ctx)
}

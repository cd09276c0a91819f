package mediator

import (
	"context"
	"time"

	"go.uber.org/zap"

	commandbus "policyhub-backend/application/commands/bus"
	"policyhub-backend/application/ports"
	querybus "policyhub-backend/application/queries/bus"
	apperrors "policyhub-backend/pkg/errors"
)

// Behavior defines the interface for mediator pipeline behaviors
// Behaviors are cross-cutting concerns that apply to all requests
type Behavior interface {
	// PreProcess is called before command execution; an error stops the command
	PreProcess(ctx context.Context, command commandbus.Command) error

	// PostProcess is called after command execution
	PostProcess(ctx context.Context, command commandbus.Command, duration time.Duration, err error)

	// PreProcessQuery is called before query execution
	PreProcessQuery(ctx context.Context, query querybus.Query) error

	// PostProcessQuery is called after query execution
	PostProcessQuery(ctx context.Context, query querybus.Query, result interface{}, duration time.Duration, err error)
}

// LoggingBehavior logs all commands and queries
type LoggingBehavior struct {
	logger *zap.Logger
}

// NewLoggingBehavior creates a new logging behavior
func NewLoggingBehavior(logger *zap.Logger) *LoggingBehavior {
	return &LoggingBehavior{logger: logger}
}

func (b *LoggingBehavior) PreProcess(ctx context.Context, command commandbus.Command) error {
	b.logger.Info("Executing command",
		zap.String("type", commandbus.Name(command)),
		zap.Any("command", command))
	return nil
}

func (b *LoggingBehavior) PostProcess(ctx context.Context, command commandbus.Command, duration time.Duration, err error) {
	fields := []zap.Field{
		zap.String("type", commandbus.Name(command)),
		zap.Duration("duration", duration),
	}
	switch {
	case err == nil:
		b.logger.Info("Command succeeded", fields...)
	case apperrors.IsExpected(err):
		b.logger.Info("Command rejected", append(fields, zap.Error(err))...)
	default:
		b.logger.Error("Command failed", append(fields, zap.Error(err))...)
	}
}

func (b *LoggingBehavior) PreProcessQuery(ctx context.Context, query querybus.Query) error {
	b.logger.Debug("Executing query",
		zap.String("type", querybus.Name(query)),
		zap.Any("query", query))
	return nil
}

func (b *LoggingBehavior) PostProcessQuery(ctx context.Context, query querybus.Query, result interface{}, duration time.Duration, err error) {
	if err != nil && !apperrors.IsExpected(err) {
		b.logger.Error("Query failed",
			zap.String("type", querybus.Name(query)),
			zap.Error(err))
		return
	}
	b.logger.Debug("Query finished",
		zap.String("type", querybus.Name(query)),
		zap.Duration("duration", duration),
		zap.Error(err))
}

// ValidationBehavior validates commands and queries before execution
type ValidationBehavior struct {
	logger *zap.Logger
}

// NewValidationBehavior creates a new validation behavior
func NewValidationBehavior(logger *zap.Logger) *ValidationBehavior {
	return &ValidationBehavior{logger: logger}
}

func (b *ValidationBehavior) PreProcess(ctx context.Context, command commandbus.Command) error {
	if err := command.Validate(); err != nil {
		b.logger.Warn("Command validation failed",
			zap.String("type", commandbus.Name(command)),
			zap.Error(err))
		return err
	}
	return nil
}

func (b *ValidationBehavior) PostProcess(ctx context.Context, command commandbus.Command, duration time.Duration, err error) {
}

func (b *ValidationBehavior) PreProcessQuery(ctx context.Context, query querybus.Query) error {
	if err := query.Validate(); err != nil {
		b.logger.Warn("Query validation failed",
			zap.String("type", querybus.Name(query)),
			zap.Error(err))
		return err
	}
	return nil
}

func (b *ValidationBehavior) PostProcessQuery(ctx context.Context, query querybus.Query, result interface{}, duration time.Duration, err error) {
}

// MetricsBehavior records metrics for commands and queries
type MetricsBehavior struct {
	metrics ports.Metrics
}

// NewMetricsBehavior creates a new metrics behavior
func NewMetricsBehavior(metrics ports.Metrics) *MetricsBehavior {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &MetricsBehavior{metrics: metrics}
}

func (b *MetricsBehavior) PreProcess(ctx context.Context, command commandbus.Command) error {
	return nil
}

func (b *MetricsBehavior) PostProcess(ctx context.Context, command commandbus.Command, duration time.Duration, err error) {
	b.metrics.RequestHandled("command", commandbus.Name(command), outcome(err), duration)
}

func (b *MetricsBehavior) PreProcessQuery(ctx context.Context, query querybus.Query) error {
	return nil
}

func (b *MetricsBehavior) PostProcessQuery(ctx context.Context, query querybus.Query, result interface{}, duration time.Duration, err error) {
	b.metrics.RequestHandled("query", querybus.Name(query), outcome(err), duration)
}

// outcome buckets an error into a low-cardinality label
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return string(apperrors.TypeOf(err))
}

// PerformanceBehavior logs slow commands and queries
type PerformanceBehavior struct {
	logger           *zap.Logger
	commandThreshold time.Duration
	queryThreshold   time.Duration
}

// NewPerformanceBehavior creates a new performance monitoring behavior
func NewPerformanceBehavior(logger *zap.Logger, commandThreshold, queryThreshold time.Duration) *PerformanceBehavior {
	return &PerformanceBehavior{
		logger:           logger,
		commandThreshold: commandThreshold,
		queryThreshold:   queryThreshold,
	}
}

func (b *PerformanceBehavior) PreProcess(ctx context.Context, command commandbus.Command) error {
	return nil
}

func (b *PerformanceBehavior) PostProcess(ctx context.Context, command commandbus.Command, duration time.Duration, err error) {
	if duration > b.commandThreshold {
		b.logger.Warn("Slow command detected",
			zap.String("type", commandbus.Name(command)),
			zap.Duration("duration", duration),
			zap.Duration("threshold", b.commandThreshold))
	}
}

func (b *PerformanceBehavior) PreProcessQuery(ctx context.Context, query querybus.Query) error {
	return nil
}

func (b *PerformanceBehavior) PostProcessQuery(ctx context.Context, query querybus.Query, result interface{}, duration time.Duration, err error) {
	if duration > b.queryThreshold {
		b.logger.Warn("Slow query detected",
			zap.String("type", querybus.Name(query)),
			zap.Duration("duration", duration),
			zap.Duration("threshold", b.queryThreshold))
	}
}

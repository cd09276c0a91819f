package observability

import (
	"context"

	"go.uber.org/zap"

	"policyhub-backend/application/ports"
)

// LogErrorSink reports failures to the log when no error bus is configured
type LogErrorSink struct {
	logger *zap.Logger
}

var _ ports.ErrorSink = (*LogErrorSink)(nil)

func NewLogErrorSink(logger *zap.Logger) *LogErrorSink {
	return &LogErrorSink{logger: logger.Named("failures")}
}

func (s *LogErrorSink) Report(_ context.Context, failure ports.FailureDescriptor) {
	fields := []zap.Field{
		zap.String("operation", failure.Operation),
		zap.String("request_type", failure.RequestType),
		zap.String("tenant_id", failure.TenantID),
		zap.String("correlation_id", failure.CorrelationID),
		zap.String("error_type", failure.ErrorType),
		zap.Time("occurred_at", failure.OccurredAt),
	}
	for k, v := range failure.Details {
		fields = append(fields, zap.Any(k, v))
	}
	s.logger.Error(failure.Message, fields...)
}

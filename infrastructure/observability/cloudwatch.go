package observability

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"

	"policyhub-backend/application/ports"
)

// PutMetricData accepts at most 1000 datums per call
const maxDatums = 1000

// CloudWatchAPI is the part of the CloudWatch client used here
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ CloudWatchAPI = (*cloudwatch.Client)(nil)

// CloudWatchMetrics buffers datums in memory and ships them on Flush. Lambda
// handlers flush once at the end of every invocation.
type CloudWatchMetrics struct {
	namespace string
	client    CloudWatchAPI
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	pending []types.MetricDatum
}

var _ ports.Metrics = (*CloudWatchMetrics)(nil)

// NewCloudWatchMetrics creates a new CloudWatch metrics sink
func NewCloudWatchMetrics(namespace string, client CloudWatchAPI, logger *zap.Logger) *CloudWatchMetrics {
	return &CloudWatchMetrics{namespace: namespace, client: client, logger: logger, now: time.Now}
}

func dim(name, value string) types.Dimension {
	return types.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

func (m *CloudWatchMetrics) add(name string, value float64, unit types.StandardUnit, dims ...types.Dimension) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, types.MetricDatum{
		MetricName: aws.String(name),
		Dimensions: dims,
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(m.now()),
	})
}

func (m *CloudWatchMetrics) RequestHandled(kind, name, outcome string, duration time.Duration) {
	dims := []types.Dimension{dim("Kind", kind), dim("Name", name), dim("Outcome", outcome)}
	m.add("RequestCount", 1, types.StandardUnitCount, dims...)
	m.add("RequestLatency", float64(duration.Milliseconds()), types.StandardUnitMilliseconds, dims...)
}

func (m *CloudWatchMetrics) ConcurrencyConflict(aggregateType string, attempt int) {
	m.add("ConcurrencyConflicts", 1, types.StandardUnitCount,
		dim("AggregateType", aggregateType), dim("Attempt", strconv.Itoa(attempt)))
}

func (m *CloudWatchMetrics) LockWait(aggregateType string, duration time.Duration, acquired bool) {
	m.add("LockWait", float64(duration.Milliseconds()), types.StandardUnitMilliseconds, dim("AggregateType", aggregateType))
	if !acquired {
		m.add("LockTimeouts", 1, types.StandardUnitCount, dim("AggregateType", aggregateType))
	}
}

func (m *CloudWatchMetrics) ProjectionApplied(projection string, failed bool) {
	result := "ok"
	if failed {
		result = "failed"
	}
	m.add("ProjectionsApplied", 1, types.StandardUnitCount, dim("Projection", projection), dim("Result", result))
}

func (m *CloudWatchMetrics) OutboxBacklog(pending int) {
	m.add("OutboxPending", float64(pending), types.StandardUnitCount)
}

// Flush sends the buffered datums. Datums of a failed call are dropped;
// metrics never fail the operation that produced them.
func (m *CloudWatchMetrics) Flush(ctx context.Context) error {
	m.mu.Lock()
	batch := m.pending
	m.pending = nil
	m.mu.Unlock()

	var firstErr error
	for i := 0; i < len(batch); i += maxDatums {
		end := i + maxDatums
		if end > len(batch) {
			end = len(batch)
		}
		_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(m.namespace),
			MetricData: batch[i:end],
		})
		if err != nil {
			m.logger.Warn("Failed to send metrics", zap.Int("datums", end-i), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

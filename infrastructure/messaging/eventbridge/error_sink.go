package eventbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"policyhub-backend/application/ports"
)

// FailureDetailType is the detail type of failure notifications
const FailureDetailType = "policyhub.failure"

// ErrorSinkConfig tunes the asynchronous error sink
type ErrorSinkConfig struct {
	BusName    string
	BufferSize int
	// SendTimeout bounds one delivery attempt
	SendTimeout time.Duration
	// Breaker settings
	FailureThreshold float64
	MinRequests      uint32
	OpenTimeout      time.Duration
}

// DefaultErrorSinkConfig returns a default configuration for the error sink
func DefaultErrorSinkConfig(busName string) ErrorSinkConfig {
	return ErrorSinkConfig{
		BusName:          busName,
		BufferSize:       256,
		SendTimeout:      5 * time.Second,
		FailureThreshold: 0.5,
		MinRequests:      5,
		OpenTimeout:      30 * time.Second,
	}
}

// ErrorSink ships failure descriptors to EventBridge on a background
// goroutine. Report never blocks: when the buffer is full or the breaker
// is open the descriptor is logged and dropped.
type ErrorSink struct {
	client  API
	config  ErrorSinkConfig
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger

	queue chan ports.FailureDescriptor
	done  chan struct{}
	once  sync.Once
	// guards queue against sends after Close
	mu     sync.RWMutex
	closed bool
}

var _ ports.ErrorSink = (*ErrorSink)(nil)

// NewErrorSink starts the delivery goroutine; call Close to drain it
func NewErrorSink(client API, config ErrorSinkConfig, logger *zap.Logger) *ErrorSink {
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 5 * time.Second
	}
	s := &ErrorSink{
		client: client,
		config: config,
		logger: logger,
		queue:  make(chan ports.FailureDescriptor, config.BufferSize),
		done:   make(chan struct{}),
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "error-sink",
		Timeout: config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < config.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= config.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	go s.run()
	return s
}

// Report enqueues the failure for delivery
func (s *ErrorSink) Report(_ context.Context, failure ports.FailureDescriptor) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.Warn("Error sink closed, dropping failure", zap.String("operation", failure.Operation))
		return
	}
	select {
	case s.queue <- failure:
	default:
		s.logger.Warn("Error sink buffer full, dropping failure",
			zap.String("operation", failure.Operation),
			zap.String("errorType", failure.ErrorType),
		)
	}
}

// State exposes the breaker state
func (s *ErrorSink) State() gobreaker.State {
	return s.breaker.State()
}

func (s *ErrorSink) run() {
	defer close(s.done)
	for failure := range s.queue {
		_, err := s.breaker.Execute(func() (interface{}, error) {
			return nil, s.send(failure)
		})
		if err != nil {
			s.logger.Error("Failed to deliver failure report",
				zap.String("operation", failure.Operation),
				zap.String("requestType", failure.RequestType),
				zap.String("message", failure.Message),
				zap.Error(err),
			)
		}
	}
}

func (s *ErrorSink) send(failure ports.FailureDescriptor) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.SendTimeout)
	defer cancel()

	body, err := json.Marshal(failure)
	if err != nil {
		return err
	}
	out, err := s.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{{
			EventBusName: aws.String(s.config.BusName),
			Source:       aws.String(Source),
			DetailType:   aws.String(FailureDetailType),
			Detail:       aws.String(string(body)),
			Time:         aws.Time(failure.OccurredAt),
		}},
	})
	if err != nil {
		return err
	}
	if out.FailedEntryCount > 0 {
		return fmt.Errorf("failure report rejected")
	}
	return nil
}

// Close stops accepting reports and waits for queued ones to be delivered
func (s *ErrorSink) Close(ctx context.Context) error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
	})
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package eventbridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"policyhub-backend/application/ports"
	"policyhub-backend/domain/core/valueobjects"
	"policyhub-backend/domain/events"
)

type mockAPI struct {
	mock.Mock
	mu    sync.Mutex
	calls []*eventbridge.PutEventsInput
}

func (m *mockAPI) PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	m.mu.Lock()
	m.calls = append(m.calls, in)
	m.mu.Unlock()
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*eventbridge.PutEventsOutput)
	return out, args.Error(1)
}

func (m *mockAPI) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func userEvents(n int) []events.Event {
	stream := valueobjects.NewStreamID("acme", "user", "user-1")
	out := make([]events.Event, n)
	for i := range out {
		out[i] = events.Event{
			EventID:   "evt-" + string(rune('a'+i)),
			Stream:    stream,
			Sequence:  i,
			Kind:      events.KindUserBlocked,
			Payload:   events.UserBlocked{Reason: "fraud"},
			Timestamp: time.Date(2025, 1, 1, 0, 0, i, 0, time.UTC),
		}
	}
	return out
}

func TestPublishBatchesByTen(t *testing.T) {
	api := &mockAPI{}
	api.On("PutEvents", mock.Anything, mock.Anything).Return(&eventbridge.PutEventsOutput{}, nil)
	p := NewPublisher(api, "bus", events.DefaultRegistry(), zap.NewNop())

	require.NoError(t, p.Publish(context.Background(), userEvents(23)))

	require.Len(t, api.calls, 3)
	assert.Len(t, api.calls[0].Entries, 10)
	assert.Len(t, api.calls[2].Entries, 3)

	entry := api.calls[0].Entries[0]
	assert.Equal(t, "bus", aws.ToString(entry.EventBusName))
	assert.Equal(t, Source, aws.ToString(entry.Source))
	assert.Equal(t, "UserBlocked", aws.ToString(entry.DetailType))
	assert.Equal(t, []string{"acme/user/user-1"}, entry.Resources)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(entry.Detail)), &body))
	assert.Equal(t, "acme", body["tenant_id"])
	assert.Equal(t, map[string]interface{}{"reason": "fraud"}, body["data"])
}

func TestPublishNothing(t *testing.T) {
	api := &mockAPI{}
	p := NewPublisher(api, "bus", events.DefaultRegistry(), zap.NewNop())
	require.NoError(t, p.Publish(context.Background(), nil))
	assert.Zero(t, api.callCount())
}

func TestPublishFailures(t *testing.T) {
	tests := []struct {
		name string
		out  *eventbridge.PutEventsOutput
		err  error
	}{
		{name: "transport error", err: errors.New("boom")},
		{
			name: "rejected entries",
			out: &eventbridge.PutEventsOutput{
				FailedEntryCount: 1,
				Entries:          []types.PutEventsResultEntry{{ErrorCode: aws.String("ThrottlingException")}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockAPI{}
			api.On("PutEvents", mock.Anything, mock.Anything).Return(tt.out, tt.err)
			p := NewPublisher(api, "bus", events.DefaultRegistry(), zap.NewNop())
			assert.Error(t, p.Publish(context.Background(), userEvents(1)))
		})
	}
}

func TestErrorSinkDeliversAsynchronously(t *testing.T) {
	api := &mockAPI{}
	api.On("PutEvents", mock.Anything, mock.Anything).Return(&eventbridge.PutEventsOutput{}, nil)
	sink := NewErrorSink(api, DefaultErrorSinkConfig("errors"), zap.NewNop())

	sink.Report(context.Background(), ports.FailureDescriptor{
		Operation:   "command",
		RequestType: "IssuePolicyCommand",
		TenantID:    "acme",
		ErrorType:   "INTERNAL_ERROR",
		Message:     "boom",
	})
	require.NoError(t, sink.Close(context.Background()))

	require.Equal(t, 1, api.callCount())
	entry := api.calls[0].Entries[0]
	assert.Equal(t, FailureDetailType, aws.ToString(entry.DetailType))
	assert.Contains(t, aws.ToString(entry.Detail), "IssuePolicyCommand")

	// reports after close are dropped
	sink.Report(context.Background(), ports.FailureDescriptor{Operation: "late"})
	assert.Equal(t, 1, api.callCount())
}

func TestErrorSinkBreakerOpens(t *testing.T) {
	api := &mockAPI{}
	api.On("PutEvents", mock.Anything, mock.Anything).Return(nil, errors.New("unavailable"))
	cfg := DefaultErrorSinkConfig("errors")
	cfg.MinRequests = 2
	cfg.OpenTimeout = time.Hour
	sink := NewErrorSink(api, cfg, zap.NewNop())

	for i := 0; i < 5; i++ {
		sink.Report(context.Background(), ports.FailureDescriptor{Operation: "command"})
	}
	require.NoError(t, sink.Close(context.Background()))

	assert.Equal(t, 2, api.callCount(), "open breaker short-circuits delivery")
	assert.Equal(t, "open", sink.State().String())
}

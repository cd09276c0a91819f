package uow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"policyhub-backend/domain/events"
)

type mockSettler struct {
	mock.Mock
}

func (m *mockSettler) Project(ctx context.Context, evts []events.Event) error {
	return m.Called(ctx, evts).Error(0)
}

func TestCommitProjectsEnlistedEventsThenRunsDeferred(t *testing.T) {
	// Arrange
	settler := new(mockSettler)
	u := New(settler, zap.NewNop())
	evts := []events.Event{{EventID: "e-1"}, {EventID: "e-2"}}
	settler.On("Project", mock.Anything, evts).Return(nil).Once()

	var order []string
	u.Defer(func(ctx context.Context) { order = append(order, "first") })
	u.Defer(func(ctx context.Context) { order = append(order, "second") })
	u.Enlist(evts[0])
	u.Enlist(evts[1])

	// Act
	err := u.Commit(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "first"}, order)
	settler.AssertExpectations(t)
}

func TestCommitReportsSettleFailure(t *testing.T) {
	settler := new(mockSettler)
	u := New(settler, zap.NewNop())
	u.Enlist(events.Event{EventID: "e-1"})
	settler.On("Project", mock.Anything, mock.Anything).Return(errors.New("queue unavailable"))
	cleaned := false
	u.Defer(func(ctx context.Context) { cleaned = true })

	err := u.Commit(context.Background())

	assert.Error(t, err)
	assert.True(t, cleaned)
}

func TestCommitWithoutEventsSkipsProjection(t *testing.T) {
	settler := new(mockSettler)
	u := New(settler, zap.NewNop())

	require.NoError(t, u.Commit(context.Background()))
	settler.AssertNotCalled(t, "Project", mock.Anything, mock.Anything)
}

func TestRollbackRunsDeferredWithoutProjecting(t *testing.T) {
	settler := new(mockSettler)
	u := New(settler, zap.NewNop())
	u.Enlist(events.Event{EventID: "e-1"})
	cleaned := false
	u.Defer(func(ctx context.Context) { cleaned = true })

	u.Rollback(context.Background())

	assert.True(t, cleaned)
	settler.AssertNotCalled(t, "Project", mock.Anything, mock.Anything)
}

func TestSettleOnlyOnce(t *testing.T) {
	u := New(nil, zap.NewNop())
	require.NoError(t, u.Commit(context.Background()))

	assert.Error(t, u.Commit(context.Background()))
	u.Rollback(context.Background())
}

func TestDeferredRunsEvenIfContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	u := New(nil, zap.NewNop())
	var seen error
	u.Defer(func(ctx context.Context) { seen = ctx.Err() })

	u.Rollback(ctx)

	assert.NoError(t, seen)
}

func TestHoldKeepsOneReleasePerKey(t *testing.T) {
	u := New(nil, zap.NewNop())
	released := 0
	release := func(ctx context.Context) { released++ }

	assert.False(t, u.Holds("lock:acme:policy:p-1"))
	u.Hold("lock:acme:policy:p-1", release)
	u.Hold("lock:acme:policy:p-1", release)
	assert.True(t, u.Holds("lock:acme:policy:p-1"))
	assert.False(t, u.Holds("lock:acme:policy:p-2"))

	require.NoError(t, u.Commit(context.Background()))
	assert.Equal(t, 1, released)
	assert.False(t, u.Holds("lock:acme:policy:p-1"), "a settled unit holds nothing")
}

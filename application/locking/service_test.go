package locking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"policyhub-backend/application/ports"
	"policyhub-backend/infrastructure/persistence/memory"
	"policyhub-backend/pkg/clock"
	apperrors "policyhub-backend/pkg/errors"
)

var policyKey = Key{Tenant: "acme", Type: "policy", ID: "policy-a"}

func fastConfig(lease time.Duration) Config {
	return Config{LeaseTTL: lease, InitialBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond, BackoffFactor: 1.5}
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "lock:acme:policy:policy-a", policyKey.String())
}

func TestAcquireOrThrowMutualExclusion(t *testing.T) {
	// Arrange
	svc := NewService(memory.NewLockProvider(nil), fastConfig(5*time.Second), nil, zap.NewNop())
	ctx := context.Background()

	first, err := svc.AcquireOrThrow(ctx, policyKey, time.Second)
	require.NoError(t, err)

	var inside int32
	acquired := make(chan time.Time, 1)

	// Act
	go func() {
		second, err := svc.AcquireOrThrow(ctx, policyKey, 2*time.Second)
		if err != nil {
			return
		}
		atomic.AddInt32(&inside, 1)
		acquired <- time.Now()
		_ = second.Release(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&inside), "second caller must wait while the first holds the lock")
	released := time.Now()
	require.NoError(t, first.Release(ctx))

	// Assert
	select {
	case at := <-acquired:
		assert.False(t, at.Before(released))
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never acquired the lock")
	}
}

func TestAcquireOrThrowTimesOut(t *testing.T) {
	svc := NewService(memory.NewLockProvider(nil), fastConfig(5*time.Second), nil, zap.NewNop())
	ctx := context.Background()
	holder, err := svc.AcquireOrThrow(ctx, policyKey, time.Second)
	require.NoError(t, err)
	defer holder.ReleaseOnExit(ctx)

	start := time.Now()
	_, err = svc.AcquireOrThrow(ctx, policyKey, 60*time.Millisecond)

	require.Error(t, err)
	assert.True(t, apperrors.IsLockTimeout(err))
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestAcquireOrThrowHonorsCancellation(t *testing.T) {
	svc := NewService(memory.NewLockProvider(nil), fastConfig(5*time.Second), nil, zap.NewNop())
	holder, err := svc.AcquireOrThrow(context.Background(), policyKey, time.Second)
	require.NoError(t, err)
	defer holder.ReleaseOnExit(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = svc.AcquireOrThrow(ctx, policyKey, 5*time.Second)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExpiredLeaseCanBeTakenOver(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := NewService(memory.NewLockProvider(clk), fastConfig(5*time.Second), nil, zap.NewNop())
	ctx := context.Background()
	crashed, err := svc.AcquireOrThrow(ctx, policyKey, time.Second)
	require.NoError(t, err)

	clk.Advance(6 * time.Second)
	next, err := svc.AcquireOrThrow(ctx, policyKey, 50*time.Millisecond)
	require.NoError(t, err)

	// the crashed holder's late release must not free the new holder's lock
	assert.NoError(t, crashed.Release(ctx))
	_, err = svc.AcquireOrThrow(ctx, policyKey, 30*time.Millisecond)
	assert.True(t, apperrors.IsLockTimeout(err))
	assert.NoError(t, next.Release(ctx))
}

func TestWithLockReleasesOnError(t *testing.T) {
	svc := NewService(memory.NewLockProvider(nil), fastConfig(5*time.Second), nil, zap.NewNop())
	ctx := context.Background()
	boom := errors.New("boom")

	err := svc.WithLock(ctx, policyKey, time.Second, func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	h, err := svc.AcquireOrThrow(ctx, policyKey, 30*time.Millisecond)
	require.NoError(t, err, "lock must be free after WithLock returns")
	require.NoError(t, h.Release(ctx))
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	svc := NewService(memory.NewLockProvider(nil), fastConfig(5*time.Second), nil, zap.NewNop())
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = svc.WithLock(ctx, policyKey, time.Second, func(ctx context.Context) error { panic("handler bug") })
	})

	h, err := svc.AcquireOrThrow(ctx, policyKey, 30*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, h.Release(ctx))
}

func TestHandleReleaseIsIdempotentAndRenewAfterReleaseFails(t *testing.T) {
	svc := NewService(memory.NewLockProvider(nil), fastConfig(time.Second), nil, zap.NewNop())
	ctx := context.Background()
	h, err := svc.AcquireOrThrow(ctx, policyKey, time.Second)
	require.NoError(t, err)

	require.NoError(t, h.Renew(ctx, 10*time.Second))
	require.NoError(t, h.Release(ctx))
	require.NoError(t, h.Release(ctx))
	assert.ErrorIs(t, h.Renew(ctx, time.Second), ports.ErrLockNotHeld)
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (ports.Lease, error) {
	args := m.Called(ctx, key, owner, ttl)
	return args.Get(0).(ports.Lease), args.Error(1)
}

func (m *mockProvider) Release(ctx context.Context, lease ports.Lease) error {
	return m.Called(ctx, lease).Error(0)
}

func (m *mockProvider) Renew(ctx context.Context, lease ports.Lease, ttl time.Duration) (ports.Lease, error) {
	args := m.Called(ctx, lease, ttl)
	return args.Get(0).(ports.Lease), args.Error(1)
}

func TestBackendErrorsAreNotRetried(t *testing.T) {
	provider := new(mockProvider)
	outage := errors.New("table not found")
	provider.On("TryAcquire", mock.Anything, policyKey.String(), mock.Anything, 5*time.Second).
		Return(ports.Lease{}, outage).Once()
	svc := NewService(provider, fastConfig(5*time.Second), nil, zap.NewNop())

	_, err := svc.AcquireOrThrow(context.Background(), policyKey, time.Second)

	assert.ErrorIs(t, err, outage)
	assert.False(t, apperrors.IsLockTimeout(err))
	provider.AssertExpectations(t)
}

func TestConcurrentWithLockNeverOverlaps(t *testing.T) {
	svc := NewService(memory.NewLockProvider(nil), fastConfig(5*time.Second), nil, zap.NewNop())
	ctx := context.Background()
	var active, maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = svc.WithLock(ctx, policyKey, 5*time.Second, func(ctx context.Context) error {
				n := atomic.AddInt32(&active, 1)
				for {
					m := atomic.LoadInt32(&maxActive)
					if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
}

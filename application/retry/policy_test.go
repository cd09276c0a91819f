package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "policyhub-backend/pkg/errors"
)

func quickPolicy(attempts int) Policy {
	p := DefaultPolicy()
	p.MaxAttempts = attempts
	p.BaseDelay = time.Millisecond
	return p
}

func conflict() error {
	return apperrors.NewConcurrencyConflict("acme/policy/p-1", 1, 2)
}

func TestExecuteRetriesOnlyConflicts(t *testing.T) {
	tests := []struct {
		name         string
		errs         []error
		wantCalls    int
		wantErr      func(error) bool
		wantExhausts bool
	}{
		{"succeeds first time", []error{nil}, 1, nil, false},
		{"converges on third attempt", []error{conflict(), conflict(), nil}, 3, nil, false},
		{"invariant is not retried", []error{apperrors.NewInvariantViolation("POLICY_ALREADY_CANCELLED", "x")}, 1, apperrors.IsInvariantViolation, false},
		{"lock timeout is not retried", []error{apperrors.NewLockTimeout("k", time.Second)}, 1, apperrors.IsLockTimeout, false},
		{"conflict then invariant", []error{conflict(), apperrors.NewInvariantViolation("POLICY_ALREADY_CANCELLED", "x")}, 2, apperrors.IsInvariantViolation, false},
		{"three conflicts exhaust", []error{conflict(), conflict(), conflict()}, 3, apperrors.IsRetriesExhausted, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := quickPolicy(3).Execute(context.Background(), func(ctx context.Context) error {
				err := tt.errs[calls]
				calls++
				return err
			})

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, tt.wantErr(err))
			if tt.wantExhausts {
				assert.True(t, apperrors.IsConcurrencyConflict(errors.Unwrap(err)), "last conflict is kept as the cause")
			}
		})
	}
}

func TestExecuteWithRetries(t *testing.T) {
	calls := 0
	err := ExecuteWithRetries(context.Background(), 2, func(ctx context.Context) error {
		calls++
		return conflict()
	})

	assert.True(t, apperrors.IsRetriesExhausted(err))
	assert.Equal(t, 2, calls)
}

func TestExecuteStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := quickPolicy(5)
	p.BaseDelay = 50 * time.Millisecond

	err := p.Execute(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return conflict()
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoReturnsValue(t *testing.T) {
	attempt := 0
	v, err := Do(context.Background(), quickPolicy(3), func(ctx context.Context) (int, error) {
		attempt++
		if attempt == 1 {
			return 0, conflict()
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestCalculateDelayIsCapped(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 150 * time.Millisecond, BackoffFactor: 2}

	assert.Equal(t, 100*time.Millisecond, p.calculateDelay(0))
	assert.Equal(t, 150*time.Millisecond, p.calculateDelay(3))
}

func TestAggregateTypeOf(t *testing.T) {
	assert.Equal(t, "policy", aggregateTypeOf(conflict()))
	assert.Equal(t, "unknown", aggregateTypeOf(errors.New("x")))
}

package aggregates

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyhub-backend/domain/core/valueobjects"
	"policyhub-backend/domain/events"
	"policyhub-backend/pkg/clock"
)

// Every kind registered for an aggregate type must be folded by that aggregate,
// and no aggregate may silently accept another type's events.
func TestApplyHandlesEveryRegisteredKind(t *testing.T) {
	reg := events.DefaultRegistry()
	clk := clock.NewManual(testNow)

	appliers := map[valueobjects.AggregateType]func() func(events.Payload) error{
		PolicyType: func() func(events.Payload) error {
			return NewPolicy(valueobjects.NewStreamID("acme", PolicyType, "p"), clk).apply
		},
		UserType: func() func(events.Payload) error {
			return NewUser(valueobjects.NewStreamID("acme", UserType, "u"), clk).apply
		},
	}

	for aggType, newApply := range appliers {
		owned := reg.KindsFor(aggType)
		require.NotEmpty(t, owned)

		for _, kind := range reg.Kinds() {
			sample, err := reg.Sample(kind)
			require.NoError(t, err)

			err = newApply()(sample)

			if contains(owned, kind) {
				assert.NoError(t, err, "%s should handle %s", aggType, kind)
			} else {
				assert.True(t, errors.Is(err, ErrUnhandledEvent), "%s should reject %s", aggType, kind)
			}
		}
	}
}

func contains(kinds []events.Kind, k events.Kind) bool {
	for _, c := range kinds {
		if c == k {
			return true
		}
	}
	return false
}

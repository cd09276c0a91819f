package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualClock(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManual(start)

	assert.Equal(t, start, c.Now())

	c.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), c.Now())

	later := start.AddDate(1, 0, 0)
	c.Set(later)
	assert.Equal(t, later, c.Now())
}

func TestSystemClockIsUTC(t *testing.T) {
	assert.Equal(t, time.UTC, System().Now().Location())
}

func TestRFC3339RoundTrip(t *testing.T) {
	ts := time.Date(2025, 3, 9, 14, 30, 15, 123000000, time.FixedZone("EST", -5*3600))

	parsed, err := ParseRFC3339(FormatRFC3339(ts))

	require.NoError(t, err)
	assert.True(t, ts.Equal(parsed))
}

package valueobjects

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamIDRoundTrip(t *testing.T) {
	id := NewStreamID("acme", "policy", NewAggregateID())

	parsed, err := ParseStreamID(id.String())

	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestStreamIDValidate(t *testing.T) {
	tests := []struct {
		name    string
		id      StreamID
		wantErr bool
	}{
		{"valid", NewStreamID("acme", "policy", "p-1"), false},
		{"missing tenant", NewStreamID("", "policy", "p-1"), true},
		{"missing type", NewStreamID("acme", "", "p-1"), true},
		{"missing id", NewStreamID("acme", "policy", ""), true},
		{"reserved char in tenant", NewStreamID("ac#me", "policy", "p-1"), true},
		{"reserved char in id", NewStreamID("acme", "policy", "p/1"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.id.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseStreamIDRejectsMalformed(t *testing.T) {
	_, err := ParseStreamID("acme/policy")
	assert.Error(t, err)
}

func TestLocalDateTimeIn(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	l := NewLocalDateTime(2025, time.July, 1, 0, 0, 0)

	instant := l.In(ny)

	assert.Equal(t, time.Date(2025, time.July, 1, 4, 0, 0, 0, time.UTC), instant.UTC())
	assert.Equal(t, l, LocalDateTimeOf(instant))
}

func TestLocalDateTimeJSON(t *testing.T) {
	type wrapper struct {
		At LocalDateTime `json:"at"`
	}
	in := wrapper{At: NewLocalDateTime(2025, time.March, 9, 2, 30, 0)}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"at":"2025-03-09T02:30:00"}`, string(data))

	var out wrapper
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestLocalDateTimeBefore(t *testing.T) {
	a := NewLocalDateTime(2025, time.January, 1, 0, 0, 0)
	b := NewLocalDateTime(2025, time.January, 1, 0, 0, 1)

	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
	assert.False(t, a.Before(a))
}

package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeStatus(t *testing.T) {
	eff := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	exp := eff.AddDate(1, 0, 0)

	tests := []struct {
		name   string
		txType TransactionType
		expiry *time.Time
		now    time.Time
		want   Status
	}{
		{"new business before effective", NewBusiness, &exp, eff.Add(-time.Second), StatusPending},
		{"new business at effective", NewBusiness, &exp, eff, StatusActive},
		{"new business mid term", NewBusiness, &exp, eff.AddDate(0, 6, 0), StatusActive},
		{"new business just before expiry", NewBusiness, &exp, exp.Add(-time.Nanosecond), StatusActive},
		{"new business at expiry", NewBusiness, &exp, exp, StatusComplete},
		{"renewal after expiry", Renewal, &exp, exp.AddDate(0, 1, 0), StatusComplete},
		{"adjustment mid term", Adjustment, &exp, eff.Add(time.Hour), StatusActive},
		{"cancellation before effective", Cancellation, nil, eff.Add(-time.Hour), StatusPending},
		{"cancellation at effective", Cancellation, nil, eff, StatusComplete},
		{"cancellation with expiry is never active", Cancellation, &exp, eff.Add(time.Hour), StatusComplete},
		{"new business without expiry", NewBusiness, nil, eff.Add(time.Hour), StatusVoid},
		{"adjustment without expiry", Adjustment, nil, eff, StatusVoid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeStatus(tt.txType, eff, tt.expiry, tt.now))
		})
	}
}

func TestStatusBoundaryOneYearTerm(t *testing.T) {
	// Arrange
	T := time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC)
	exp := T.AddDate(1, 0, 0)
	tx := PolicyTransaction{Type: NewBusiness, EffectiveTimestamp: T, ExpiryTimestamp: &exp}

	// Act & Assert
	assert.Equal(t, StatusPending, tx.StatusAt(T.Add(-time.Second), BasisInstant, nil))
	assert.Equal(t, StatusActive, tx.StatusAt(T, BasisInstant, nil))
	assert.Equal(t, StatusComplete, tx.StatusAt(exp, BasisInstant, nil))
}

package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// TransactionType is the kind of policy transaction in the ledger
type TransactionType string

const (
	NewBusiness  TransactionType = "NewBusiness"
	Renewal      TransactionType = "Renewal"
	Adjustment   TransactionType = "Adjustment"
	Cancellation TransactionType = "Cancellation"
)

// Valid reports whether t is one of the known transaction types
func (t TransactionType) Valid() bool {
	switch t {
	case NewBusiness, Renewal, Adjustment, Cancellation:
		return true
	}
	return false
}

// Status is computed at query time and never stored
type Status string

const (
	StatusPending  Status = "Pending"
	StatusActive   Status = "Active"
	StatusComplete Status = "Complete"
	// StatusVoid means the dates do not describe a consistent state
	StatusVoid Status = "Void"
)

// CalculationResult is the rating snapshot captured with a transaction
type CalculationResult struct {
	Premium   decimal.Decimal            `json:"premium"`
	Tax       decimal.Decimal            `json:"tax"`
	Total     decimal.Decimal            `json:"total"`
	Currency  string                     `json:"currency"`
	Breakdown map[string]decimal.Decimal `json:"breakdown,omitempty"`
}

// NewCalculationResult builds a result whose total is premium plus tax
func NewCalculationResult(premium, tax decimal.Decimal, currency string) CalculationResult {
	return CalculationResult{
		Premium:  premium,
		Tax:      tax,
		Total:    premium.Add(tax),
		Currency: currency,
	}
}

// Validate checks the snapshot is internally consistent
func (c CalculationResult) Validate() error {
	if c.Currency == "" {
		return fmt.Errorf("calculation currency is required")
	}
	if c.Premium.IsNegative() || c.Tax.IsNegative() {
		return fmt.Errorf("premium and tax must not be negative")
	}
	if !c.Premium.Add(c.Tax).Equal(c.Total) {
		return fmt.Errorf("total %s does not equal premium %s plus tax %s", c.Total, c.Premium, c.Tax)
	}
	return nil
}

// Difference returns c minus other, used for adjustment deltas
func (c CalculationResult) Difference(other CalculationResult) decimal.Decimal {
	return c.Total.Sub(other.Total)
}

package aggregates

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"policyhub-backend/domain/core/valueobjects"
	"policyhub-backend/domain/ledger"
	"policyhub-backend/pkg/clock"
)

var testNow = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

func newTestPolicy() (*Policy, *clock.Manual) {
	clk := clock.NewManual(testNow)
	stream := valueobjects.NewStreamID("acme", PolicyType, "policy-a")
	return NewPolicy(stream, clk), clk
}

func calc(premium int64) ledger.CalculationResult {
	return ledger.NewCalculationResult(decimal.NewFromInt(premium), decimal.NewFromInt(premium/10), "USD")
}

func issueTerms() IssueTerms {
	return IssueTerms{
		TransactionID: "tx-nb",
		PolicyNumber:  "POL-1",
		CustomerID:    "cust-1",
		ProductCode:   "AUTO",
		TimeZone:      "America/Chicago",
		Effective:     valueobjects.NewLocalDateTime(2025, time.February, 1, 0, 0, 0),
		Expiry:        valueobjects.NewLocalDateTime(2026, time.February, 1, 0, 0, 0),
		FormData:      json.RawMessage(`{"vehicles":1}`),
		Calculation:   calc(1000),
	}
}

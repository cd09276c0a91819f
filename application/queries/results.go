package queries

import (
	"encoding/json"
	"time"

	"policyhub-backend/domain/ledger"
)

// TransactionView is a ledger entry with its status at the requested moment
type TransactionView struct {
	ledger.PolicyTransaction
	Status ledger.Status `json:"status"`
}

// ListPolicyTransactionsResult is the ledger of one policy
type ListPolicyTransactionsResult struct {
	PolicyID     string             `json:"policy_id"`
	At           time.Time          `json:"at"`
	Basis        ledger.StatusBasis `json:"basis"`
	TimeZone     string             `json:"time_zone"`
	Transactions []TransactionView  `json:"transactions"`
}

// HistoryEntry is one stored event as it was appended
type HistoryEntry struct {
	EventID       string          `json:"event_id"`
	Sequence      int             `json:"sequence"`
	Kind          string          `json:"kind"`
	Data          json.RawMessage `json:"data"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CausationID   string          `json:"causation_id,omitempty"`
	Actor         string          `json:"actor,omitempty"`
}

// GetPolicyHistoryResult is the full event history of one policy
type GetPolicyHistoryResult struct {
	PolicyID string         `json:"policy_id"`
	Version  int            `json:"version"`
	Events   []HistoryEntry `json:"events"`
}

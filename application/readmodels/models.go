package readmodels

import (
	"time"

	"policyhub-backend/domain/core/valueobjects"
	"policyhub-backend/domain/ledger"
)

// PolicySummary is the denormalized view of one policy.
// LastSequence is the sequence of the newest event folded in and makes
// re-delivery of older events a no-op.
type PolicySummary struct {
	TenantID          valueobjects.TenantID      `json:"tenant_id"`
	PolicyID          valueobjects.AggregateID   `json:"policy_id"`
	PolicyNumber      string                     `json:"policy_number"`
	CustomerID        string                     `json:"customer_id"`
	ProductCode       string                     `json:"product_code"`
	TimeZone          string                     `json:"time_zone"`
	StatusBasis       ledger.StatusBasis         `json:"status_basis"`
	Status            string                     `json:"status"`
	TermEffective     valueobjects.LocalDateTime `json:"term_effective"`
	TermEffectiveAt   time.Time                  `json:"term_effective_at"`
	TermExpiry        valueobjects.LocalDateTime `json:"term_expiry"`
	TermExpiryAt      time.Time                  `json:"term_expiry_at"`
	Calculation       ledger.CalculationResult   `json:"calculation"`
	TransactionCount  int                        `json:"transaction_count"`
	Cancelled         bool                       `json:"cancelled"`
	CancellationAt    *time.Time                 `json:"cancellation_at,omitempty"`
	Deleted           bool                       `json:"deleted"`
	LastSequence      int                        `json:"last_sequence"`
	LastEventAt       time.Time                  `json:"last_event_at"`
	LastTransactionID string                     `json:"last_transaction_id"`
}

// Summary lifecycle labels
const (
	PolicyStatusInForce   = "in_force"
	PolicyStatusCancelled = "cancelled"
	PolicyStatusDeleted   = "deleted"
)

// NewPolicySummary creates an empty summary that has seen no events
func NewPolicySummary(tenant valueobjects.TenantID, id valueobjects.AggregateID) *PolicySummary {
	return &PolicySummary{TenantID: tenant, PolicyID: id, LastSequence: -1}
}

// Seen reports whether the event at sequence is already reflected
func (s *PolicySummary) Seen(sequence int) bool {
	return sequence <= s.LastSequence
}

// UserSummary is the denormalized view of one user
type UserSummary struct {
	TenantID      valueobjects.TenantID    `json:"tenant_id"`
	UserID        valueobjects.AggregateID `json:"user_id"`
	Email         string                   `json:"email"`
	Name          string                   `json:"name"`
	Status        string                   `json:"status"`
	BlockedReason string                   `json:"blocked_reason,omitempty"`
	Deleted       bool                     `json:"deleted"`
	RegisteredAt  time.Time                `json:"registered_at"`
	LastSequence  int                      `json:"last_sequence"`
	LastEventAt   time.Time                `json:"last_event_at"`
}

// NewUserSummary creates an empty summary that has seen no events
func NewUserSummary(tenant valueobjects.TenantID, id valueobjects.AggregateID) *UserSummary {
	return &UserSummary{TenantID: tenant, UserID: id, LastSequence: -1}
}

// Seen reports whether the event at sequence is already reflected
func (s *UserSummary) Seen(sequence int) bool {
	return sequence <= s.LastSequence
}

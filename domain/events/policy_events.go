package events

import (
	"encoding/json"
	"time"

	"policyhub-backend/domain/core/valueobjects"
	"policyhub-backend/domain/ledger"
)

// Policy event kinds
const (
	KindPolicyIssued               Kind = "PolicyIssued"
	KindPolicyRenewed              Kind = "PolicyRenewed"
	KindPolicyAdjusted             Kind = "PolicyAdjusted"
	KindPolicyCancelled            Kind = "PolicyCancelled"
	KindPolicyTransactionCorrected Kind = "PolicyTransactionCorrected"
	KindPolicyMarkedAsDeleted      Kind = "PolicyMarkedAsDeleted"
)

// PolicyIssued starts a policy's history with its NewBusiness transaction
type PolicyIssued struct {
	TransactionID      string                     `json:"transaction_id"`
	PolicyNumber       string                     `json:"policy_number"`
	CustomerID         string                     `json:"customer_id"`
	ProductCode        string                     `json:"product_code"`
	TimeZone           string                     `json:"time_zone"`
	StatusBasis        ledger.StatusBasis         `json:"status_basis"`
	EffectiveDateTime  valueobjects.LocalDateTime `json:"effective_date_time"`
	EffectiveTimestamp time.Time                  `json:"effective_timestamp"`
	ExpiryDateTime     valueobjects.LocalDateTime `json:"expiry_date_time"`
	ExpiryTimestamp    time.Time                  `json:"expiry_timestamp"`
	FormData           json.RawMessage            `json:"form_data,omitempty"`
	Calculation        ledger.CalculationResult   `json:"calculation"`
}

// PolicyRenewed opens a new term
type PolicyRenewed struct {
	TransactionID      string                     `json:"transaction_id"`
	EffectiveDateTime  valueobjects.LocalDateTime `json:"effective_date_time"`
	EffectiveTimestamp time.Time                  `json:"effective_timestamp"`
	ExpiryDateTime     valueobjects.LocalDateTime `json:"expiry_date_time"`
	ExpiryTimestamp    time.Time                  `json:"expiry_timestamp"`
	FormData           json.RawMessage            `json:"form_data,omitempty"`
	Calculation        ledger.CalculationResult   `json:"calculation"`
}

// PolicyAdjusted changes cover mid-term. The term expiry is copied in so
// the ledger entry is self contained.
type PolicyAdjusted struct {
	TransactionID      string                     `json:"transaction_id"`
	EffectiveDateTime  valueobjects.LocalDateTime `json:"effective_date_time"`
	EffectiveTimestamp time.Time                  `json:"effective_timestamp"`
	ExpiryDateTime     valueobjects.LocalDateTime `json:"expiry_date_time"`
	ExpiryTimestamp    time.Time                  `json:"expiry_timestamp"`
	FormData           json.RawMessage            `json:"form_data,omitempty"`
	Calculation        ledger.CalculationResult   `json:"calculation"`
}

// PolicyCancelled ends cover at the effective moment
type PolicyCancelled struct {
	TransactionID      string                     `json:"transaction_id"`
	EffectiveDateTime  valueobjects.LocalDateTime `json:"effective_date_time"`
	EffectiveTimestamp time.Time                  `json:"effective_timestamp"`
	Reason             string                     `json:"reason"`
	FormData           json.RawMessage            `json:"form_data,omitempty"`
	Calculation        ledger.CalculationResult   `json:"calculation"`
}

// PolicyTransactionCorrected patches the snapshot of an earlier transaction
type PolicyTransactionCorrected struct {
	TransactionID string                    `json:"transaction_id"`
	Reason        string                    `json:"reason"`
	FormData      json.RawMessage           `json:"form_data,omitempty"`
	Calculation   *ledger.CalculationResult `json:"calculation,omitempty"`
}

// PolicyMarkedAsDeleted removes the policy from active views
type PolicyMarkedAsDeleted struct {
	Reason string `json:"reason,omitempty"`
}

func (PolicyIssued) Kind() Kind               { return KindPolicyIssued }
func (PolicyRenewed) Kind() Kind              { return KindPolicyRenewed }
func (PolicyAdjusted) Kind() Kind             { return KindPolicyAdjusted }
func (PolicyCancelled) Kind() Kind            { return KindPolicyCancelled }
func (PolicyTransactionCorrected) Kind() Kind { return KindPolicyTransactionCorrected }
func (PolicyMarkedAsDeleted) Kind() Kind      { return KindPolicyMarkedAsDeleted }

func (PolicyIssued) isPayload()               {}
func (PolicyRenewed) isPayload()              {}
func (PolicyAdjusted) isPayload()             {}
func (PolicyCancelled) isPayload()            {}
func (PolicyTransactionCorrected) isPayload() {}
func (PolicyMarkedAsDeleted) isPayload()      {}

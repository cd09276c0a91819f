package queries

import (
	"time"

	"policyhub-backend/pkg/utils"
)

// GetPolicyQuery fetches one policy summary
type GetPolicyQuery struct {
	TenantID string `json:"tenant_id" validate:"required,keysafe"`
	PolicyID string `json:"policy_id" validate:"required,keysafe"`
}

// Validate validates the GetPolicyQuery
func (q GetPolicyQuery) Validate() error {
	return utils.ValidateStruct(q)
}

// ListPoliciesQuery lists a tenant's policies ordered by policy number
type ListPoliciesQuery struct {
	TenantID       string `json:"tenant_id" validate:"required,keysafe"`
	IncludeDeleted bool   `json:"include_deleted"`
	Page           int    `json:"page" validate:"gte=0"`
	PageSize       int    `json:"page_size" validate:"gte=0,lte=100"`
}

// Validate validates the ListPoliciesQuery
func (q ListPoliciesQuery) Validate() error {
	return utils.ValidateStruct(q)
}

// ListPolicyTransactionsQuery returns a policy's ledger with each entry's
// status computed at At. Basis and TimeZone override the policy's own.
type ListPolicyTransactionsQuery struct {
	TenantID string    `json:"tenant_id" validate:"required,keysafe"`
	PolicyID string    `json:"policy_id" validate:"required,keysafe"`
	At       time.Time `json:"at"`
	Basis    string    `json:"basis" validate:"omitempty,oneof=instant local_time"`
	TimeZone string    `json:"time_zone" validate:"omitempty,timezone"`
}

// Validate validates the ListPolicyTransactionsQuery
func (q ListPolicyTransactionsQuery) Validate() error {
	return utils.ValidateStruct(q)
}

// GetPolicyHistoryQuery returns the raw event history of a policy
type GetPolicyHistoryQuery struct {
	TenantID string `json:"tenant_id" validate:"required,keysafe"`
	PolicyID string `json:"policy_id" validate:"required,keysafe"`
}

// Validate validates the GetPolicyHistoryQuery
func (q GetPolicyHistoryQuery) Validate() error {
	return utils.ValidateStruct(q)
}

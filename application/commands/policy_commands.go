package commands

import (
	"encoding/json"

	"policyhub-backend/domain/core/valueobjects"
	apperrors "policyhub-backend/pkg/errors"
)

// IssuePolicyCommand issues a new policy with its NewBusiness transaction.
// PolicyID and TransactionID are generated when empty.
type IssuePolicyCommand struct {
	TenantID      string                     `json:"tenant_id" validate:"required,keysafe"`
	PolicyID      string                     `json:"policy_id" validate:"omitempty,keysafe,max=64"`
	TransactionID string                     `json:"transaction_id" validate:"omitempty,keysafe,max=64"`
	PolicyNumber  string                     `json:"policy_number" validate:"required,max=64"`
	CustomerID    string                     `json:"customer_id" validate:"required,max=64"`
	ProductCode   string                     `json:"product_code" validate:"required,max=32"`
	TimeZone      string                     `json:"time_zone" validate:"required,timezone"`
	StatusBasis   string                     `json:"status_basis" validate:"omitempty,oneof=instant local_time"`
	Effective     valueobjects.LocalDateTime `json:"effective"`
	Expiry        valueobjects.LocalDateTime `json:"expiry"`
	FormData      json.RawMessage            `json:"form_data,omitempty"`
	Calculation   CalculationInput           `json:"calculation"`
}

// Validate checks the command
func (c IssuePolicyCommand) Validate() error {
	return validate(c, func(errs *apperrors.ValidationErrors) {
		requireDate(errs, "effective", c.Effective)
		requireDate(errs, "expiry", c.Expiry)
		checkAmounts(errs, "calculation", c.Calculation)
	})
}

// RenewPolicyCommand opens the next term of a policy
type RenewPolicyCommand struct {
	TenantID      string                     `json:"tenant_id" validate:"required,keysafe"`
	PolicyID      string                     `json:"policy_id" validate:"required,keysafe"`
	TransactionID string                     `json:"transaction_id" validate:"omitempty,keysafe,max=64"`
	Effective     valueobjects.LocalDateTime `json:"effective"`
	Expiry        valueobjects.LocalDateTime `json:"expiry"`
	FormData      json.RawMessage            `json:"form_data,omitempty"`
	Calculation   CalculationInput           `json:"calculation"`
}

// Validate checks the command
func (c RenewPolicyCommand) Validate() error {
	return validate(c, func(errs *apperrors.ValidationErrors) {
		requireDate(errs, "effective", c.Effective)
		requireDate(errs, "expiry", c.Expiry)
		checkAmounts(errs, "calculation", c.Calculation)
	})
}

// AdjustPolicyCommand changes cover within the current term
type AdjustPolicyCommand struct {
	TenantID      string                     `json:"tenant_id" validate:"required,keysafe"`
	PolicyID      string                     `json:"policy_id" validate:"required,keysafe"`
	TransactionID string                     `json:"transaction_id" validate:"omitempty,keysafe,max=64"`
	Effective     valueobjects.LocalDateTime `json:"effective"`
	FormData      json.RawMessage            `json:"form_data,omitempty"`
	Calculation   CalculationInput           `json:"calculation"`
}

// Validate checks the command
func (c AdjustPolicyCommand) Validate() error {
	return validate(c, func(errs *apperrors.ValidationErrors) {
		requireDate(errs, "effective", c.Effective)
		checkAmounts(errs, "calculation", c.Calculation)
	})
}

// CancelPolicyCommand ends cover from the effective moment
type CancelPolicyCommand struct {
	TenantID      string                     `json:"tenant_id" validate:"required,keysafe"`
	PolicyID      string                     `json:"policy_id" validate:"required,keysafe"`
	TransactionID string                     `json:"transaction_id" validate:"omitempty,keysafe,max=64"`
	Effective     valueobjects.LocalDateTime `json:"effective"`
	Reason        string                     `json:"reason" validate:"required,max=500"`
	FormData      json.RawMessage            `json:"form_data,omitempty"`
	Calculation   CalculationInput           `json:"calculation"`
}

// Validate checks the command
func (c CancelPolicyCommand) Validate() error {
	return validate(c, func(errs *apperrors.ValidationErrors) {
		requireDate(errs, "effective", c.Effective)
		checkAmounts(errs, "calculation", c.Calculation)
	})
}

// CorrectPolicyTransactionCommand patches the snapshot of a recorded transaction
type CorrectPolicyTransactionCommand struct {
	TenantID      string            `json:"tenant_id" validate:"required,keysafe"`
	PolicyID      string            `json:"policy_id" validate:"required,keysafe"`
	TransactionID string            `json:"transaction_id" validate:"required,keysafe"`
	Reason        string            `json:"reason" validate:"required,max=500"`
	FormData      json.RawMessage   `json:"form_data,omitempty"`
	Calculation   *CalculationInput `json:"calculation,omitempty"`
}

// Validate checks the command
func (c CorrectPolicyTransactionCommand) Validate() error {
	return validate(c, func(errs *apperrors.ValidationErrors) {
		if len(c.FormData) == 0 && c.Calculation == nil {
			errs.Add("calculation", "form_data or calculation is required")
		}
		if c.Calculation != nil {
			checkAmounts(errs, "calculation", *c.Calculation)
		}
	})
}

// DeletePolicyCommand marks a policy as deleted
type DeletePolicyCommand struct {
	TenantID string `json:"tenant_id" validate:"required,keysafe"`
	PolicyID string `json:"policy_id" validate:"required,keysafe"`
	Reason   string `json:"reason" validate:"max=500"`
}

// Validate checks the command
func (c DeletePolicyCommand) Validate() error {
	return validate(c, nil)
}

package commands

import (
	"github.com/shopspring/decimal"

	"policyhub-backend/domain/core/valueobjects"
	"policyhub-backend/domain/ledger"
	apperrors "policyhub-backend/pkg/errors"
	"policyhub-backend/pkg/utils"
)

// CalculationInput is the rating result a caller attaches to a transaction.
// The total is derived, never trusted from input.
type CalculationInput struct {
	Premium   decimal.Decimal            `json:"premium"`
	Tax       decimal.Decimal            `json:"tax"`
	Currency  string                     `json:"currency" validate:"required,len=3,uppercase"`
	Breakdown map[string]decimal.Decimal `json:"breakdown,omitempty"`
}

// Result converts the input into the snapshot stored on the event
func (c CalculationInput) Result() ledger.CalculationResult {
	result := ledger.NewCalculationResult(c.Premium, c.Tax, c.Currency)
	if len(c.Breakdown) > 0 {
		result.Breakdown = make(map[string]decimal.Decimal, len(c.Breakdown))
		for k, v := range c.Breakdown {
			result.Breakdown[k] = v
		}
	}
	return result
}

// validate runs the struct tags, then the checks tags cannot express
func validate(cmd interface{}, extra func(errs *apperrors.ValidationErrors)) error {
	if err := utils.ValidateStruct(cmd); err != nil {
		return err
	}
	if extra == nil {
		return nil
	}
	errs := apperrors.NewValidationErrors()
	extra(errs)
	if errs.HasErrors() {
		return errs.AsError()
	}
	return nil
}

func requireDate(errs *apperrors.ValidationErrors, field string, value valueobjects.LocalDateTime) {
	if value.IsZero() {
		errs.Add(field, field+" is required")
	}
}

func checkAmounts(errs *apperrors.ValidationErrors, field string, c CalculationInput) {
	if c.Premium.IsNegative() || c.Tax.IsNegative() {
		errs.Add(field, "premium and tax must not be negative")
	}
}

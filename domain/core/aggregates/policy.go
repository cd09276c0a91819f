package aggregates

import (
	"encoding/json"
	"time"

	"policyhub-backend/domain/core/valueobjects"
	"policyhub-backend/domain/events"
	"policyhub-backend/domain/ledger"
	"policyhub-backend/pkg/clock"
	apperrors "policyhub-backend/pkg/errors"
)

// PolicyType is the aggregate type of policies
const PolicyType = valueobjects.PolicyAggregate

// Policy invariant codes
const (
	CodePolicyAlreadyIssued      = "POLICY_ALREADY_ISSUED"
	CodePolicyAlreadyCancelled   = "POLICY_ALREADY_CANCELLED"
	CodePolicyAlreadyDeleted     = "POLICY_ALREADY_DELETED"
	CodePolicyDeleted            = "POLICY_DELETED"
	CodeInvalidTerm              = "POLICY_INVALID_TERM"
	CodeRenewalBeforeExpiry      = "POLICY_RENEWAL_BEFORE_EXPIRY"
	CodeAdjustmentOutsideTerm    = "POLICY_ADJUSTMENT_OUTSIDE_TERM"
	CodeCancellationBeforeStart  = "POLICY_CANCELLATION_BEFORE_INCEPTION"
	CodeUnknownTransaction       = "POLICY_UNKNOWN_TRANSACTION"
	CodeDuplicateTransaction     = "POLICY_DUPLICATE_TRANSACTION"
	CodeCorrectionReasonRequired = "POLICY_CORRECTION_REASON_REQUIRED"
	CodeEmptyCorrection          = "POLICY_EMPTY_CORRECTION"
	CodeInvalidCalculation       = "POLICY_INVALID_CALCULATION"
)

// IssueTerms are the inputs of a NewBusiness transaction
type IssueTerms struct {
	TransactionID string
	PolicyNumber  string
	CustomerID    string
	ProductCode   string
	TimeZone      string
	StatusBasis   ledger.StatusBasis
	Effective     valueobjects.LocalDateTime
	Expiry        valueobjects.LocalDateTime
	FormData      json.RawMessage
	Calculation   ledger.CalculationResult
}

// RenewalTerms are the inputs of a Renewal transaction
type RenewalTerms struct {
	TransactionID string
	Effective     valueobjects.LocalDateTime
	Expiry        valueobjects.LocalDateTime
	FormData      json.RawMessage
	Calculation   ledger.CalculationResult
}

// AdjustmentTerms are the inputs of an Adjustment transaction
type AdjustmentTerms struct {
	TransactionID string
	Effective     valueobjects.LocalDateTime
	FormData      json.RawMessage
	Calculation   ledger.CalculationResult
}

// CancellationTerms are the inputs of a Cancellation transaction
type CancellationTerms struct {
	TransactionID string
	Effective     valueobjects.LocalDateTime
	Reason        string
	FormData      json.RawMessage
	Calculation   ledger.CalculationResult
}

// CorrectionTerms patch the snapshot of an earlier transaction
type CorrectionTerms struct {
	TransactionID string
	Reason        string
	FormData      json.RawMessage
	Calculation   *ledger.CalculationResult
}

// PolicyState is the folded state of a policy, exposed for read paths and tests
type PolicyState struct {
	Issued        bool
	PolicyNumber  string
	CustomerID    string
	ProductCode   string
	TimeZone      string
	StatusBasis   ledger.StatusBasis
	Inception     time.Time
	TermEffective valueobjects.LocalDateTime
	TermStart     time.Time
	TermExpiry    valueobjects.LocalDateTime
	TermEnd       time.Time
	Calculation   ledger.CalculationResult
	Transactions  map[string]ledger.TransactionType
	LatestTx      string
	Cancelled     bool
	CancelledFrom time.Time
	Deleted       bool
}

// Policy is the aggregate root of an insurance policy
type Policy struct {
	Root
	state PolicyState
}

// NewPolicy creates an empty policy ready for replay or issuance
func NewPolicy(stream valueobjects.StreamID, clk clock.Clock) *Policy {
	p := &Policy{state: PolicyState{Transactions: make(map[string]ledger.TransactionType)}}
	p.Root = newRoot(stream, clk, p.apply)
	return p
}

// PolicyFactory binds a clock for repositories that build policies by stream id
func PolicyFactory(clk clock.Clock) func(valueobjects.StreamID) *Policy {
	return func(stream valueobjects.StreamID) *Policy {
		return NewPolicy(stream, clk)
	}
}

// State returns a copy of the folded state
func (p *Policy) State() PolicyState {
	s := p.state
	s.Transactions = make(map[string]ledger.TransactionType, len(p.state.Transactions))
	for k, v := range p.state.Transactions {
		s.Transactions[k] = v
	}
	return s
}

// IsCancelled reports whether a cancellation has been recorded
func (p *Policy) IsCancelled() bool { return p.state.Cancelled }

// IsDeleted reports whether the policy has been marked as deleted
func (p *Policy) IsDeleted() bool { return p.state.Deleted }

// Issue records the NewBusiness transaction
func (p *Policy) Issue(terms IssueTerms) error {
	if p.Exists() {
		return violation(CodePolicyAlreadyIssued, "policy %s has already been issued", p.ID())
	}
	if terms.PolicyNumber == "" {
		return apperrors.NewValidationError("policy number is required")
	}
	loc, err := valueobjects.LoadLocation(terms.TimeZone)
	if err != nil {
		return apperrors.NewValidationError("unknown time zone " + terms.TimeZone)
	}
	if err := checkCalculation(terms.Calculation); err != nil {
		return err
	}
	effectiveAt, expiryAt := terms.Effective.In(loc), terms.Expiry.In(loc)
	if !effectiveAt.Before(expiryAt) {
		return violation(CodeInvalidTerm, "expiry %s must be after effective %s", terms.Expiry, terms.Effective)
	}
	basis := terms.StatusBasis
	if basis == "" {
		basis = ledger.BasisInstant
	}

	return p.raise(events.PolicyIssued{
		TransactionID:      terms.TransactionID,
		PolicyNumber:       terms.PolicyNumber,
		CustomerID:         terms.CustomerID,
		ProductCode:        terms.ProductCode,
		TimeZone:           loc.String(),
		StatusBasis:        basis,
		EffectiveDateTime:  terms.Effective,
		EffectiveTimestamp: effectiveAt.UTC(),
		ExpiryDateTime:     terms.Expiry,
		ExpiryTimestamp:    expiryAt.UTC(),
		FormData:           terms.FormData,
		Calculation:        terms.Calculation,
	})
}

// Renew opens the next term, which may not start before the current one ends
func (p *Policy) Renew(terms RenewalTerms) error {
	if err := p.checkWritable(terms.TransactionID); err != nil {
		return err
	}
	if err := checkCalculation(terms.Calculation); err != nil {
		return err
	}
	loc := p.location()
	effectiveAt, expiryAt := terms.Effective.In(loc), terms.Expiry.In(loc)
	if effectiveAt.Before(p.state.TermEnd) {
		return violation(CodeRenewalBeforeExpiry, "renewal effective %s is before current expiry %s", terms.Effective, p.state.TermExpiry)
	}
	if !effectiveAt.Before(expiryAt) {
		return violation(CodeInvalidTerm, "expiry %s must be after effective %s", terms.Expiry, terms.Effective)
	}

	return p.raise(events.PolicyRenewed{
		TransactionID:      terms.TransactionID,
		EffectiveDateTime:  terms.Effective,
		EffectiveTimestamp: effectiveAt.UTC(),
		ExpiryDateTime:     terms.Expiry,
		ExpiryTimestamp:    expiryAt.UTC(),
		FormData:           terms.FormData,
		Calculation:        terms.Calculation,
	})
}

// Adjust changes cover inside the current term
func (p *Policy) Adjust(terms AdjustmentTerms) error {
	if err := p.checkWritable(terms.TransactionID); err != nil {
		return err
	}
	if err := checkCalculation(terms.Calculation); err != nil {
		return err
	}
	effectiveAt := terms.Effective.In(p.location())
	if effectiveAt.Before(p.state.TermStart) || !effectiveAt.Before(p.state.TermEnd) {
		return violation(CodeAdjustmentOutsideTerm, "adjustment effective %s is outside the term %s to %s",
			terms.Effective, p.state.TermEffective, p.state.TermExpiry)
	}

	return p.raise(events.PolicyAdjusted{
		TransactionID:      terms.TransactionID,
		EffectiveDateTime:  terms.Effective,
		EffectiveTimestamp: effectiveAt.UTC(),
		ExpiryDateTime:     p.state.TermExpiry,
		ExpiryTimestamp:    p.state.TermEnd,
		FormData:           terms.FormData,
		Calculation:        terms.Calculation,
	})
}

// Cancel ends cover. A policy can only be cancelled once.
func (p *Policy) Cancel(terms CancellationTerms) error {
	if err := p.checkWritable(terms.TransactionID); err != nil {
		return err
	}
	if err := checkCalculation(terms.Calculation); err != nil {
		return err
	}
	effectiveAt := terms.Effective.In(p.location())
	if effectiveAt.Before(p.state.Inception) {
		return violation(CodeCancellationBeforeStart, "cancellation effective %s is before inception", terms.Effective)
	}

	return p.raise(events.PolicyCancelled{
		TransactionID:      terms.TransactionID,
		EffectiveDateTime:  terms.Effective,
		EffectiveTimestamp: effectiveAt.UTC(),
		Reason:             terms.Reason,
		FormData:           terms.FormData,
		Calculation:        terms.Calculation,
	})
}

// CorrectTransaction records an audited patch of an earlier transaction snapshot
func (p *Policy) CorrectTransaction(terms CorrectionTerms) error {
	if !p.Exists() {
		return violation(CodeNotInitialized, "policy %s has not been issued", p.ID())
	}
	if p.state.Deleted {
		return violation(CodePolicyDeleted, "policy %s has been deleted", p.ID())
	}
	if _, ok := p.state.Transactions[terms.TransactionID]; !ok {
		return violation(CodeUnknownTransaction, "transaction %s does not belong to policy %s", terms.TransactionID, p.ID())
	}
	if terms.Reason == "" {
		return violation(CodeCorrectionReasonRequired, "a correction needs a reason")
	}
	if len(terms.FormData) == 0 && terms.Calculation == nil {
		return violation(CodeEmptyCorrection, "a correction must change form data or calculation")
	}
	if terms.Calculation != nil {
		if err := checkCalculation(*terms.Calculation); err != nil {
			return err
		}
	}

	return p.raise(events.PolicyTransactionCorrected{
		TransactionID: terms.TransactionID,
		Reason:        terms.Reason,
		FormData:      terms.FormData,
		Calculation:   terms.Calculation,
	})
}

// MarkAsDeleted hides the policy from active views; history is kept
func (p *Policy) MarkAsDeleted(reason string) error {
	if !p.Exists() {
		return violation(CodeNotInitialized, "policy %s has not been issued", p.ID())
	}
	if p.state.Deleted {
		return violation(CodePolicyAlreadyDeleted, "policy %s is already deleted", p.ID())
	}
	return p.raise(events.PolicyMarkedAsDeleted{Reason: reason})
}

func (p *Policy) checkWritable(transactionID string) error {
	if !p.Exists() {
		return violation(CodeNotInitialized, "policy %s has not been issued", p.ID())
	}
	if p.state.Deleted {
		return violation(CodePolicyDeleted, "policy %s has been deleted", p.ID())
	}
	if p.state.Cancelled {
		return violation(CodePolicyAlreadyCancelled, "policy %s is already cancelled", p.ID())
	}
	if _, dup := p.state.Transactions[transactionID]; dup {
		return violation(CodeDuplicateTransaction, "transaction %s already recorded", transactionID)
	}
	return nil
}

func (p *Policy) location() *time.Location {
	loc, err := valueobjects.LoadLocation(p.state.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func checkCalculation(c ledger.CalculationResult) error {
	if err := c.Validate(); err != nil {
		return violation(CodeInvalidCalculation, "%s", err.Error())
	}
	return nil
}

// apply folds one payload into state. It must stay free of I/O and clock reads.
func (p *Policy) apply(payload events.Payload) error {
	switch e := payload.(type) {
	case events.PolicyIssued:
		p.state.Issued = true
		p.state.PolicyNumber = e.PolicyNumber
		p.state.CustomerID = e.CustomerID
		p.state.ProductCode = e.ProductCode
		p.state.TimeZone = e.TimeZone
		p.state.StatusBasis = e.StatusBasis
		p.state.Inception = e.EffectiveTimestamp
		p.state.TermEffective = e.EffectiveDateTime
		p.state.TermStart = e.EffectiveTimestamp
		p.state.TermExpiry = e.ExpiryDateTime
		p.state.TermEnd = e.ExpiryTimestamp
		p.state.Calculation = e.Calculation
		p.state.Transactions[e.TransactionID] = ledger.NewBusiness
		p.state.LatestTx = e.TransactionID
	case events.PolicyRenewed:
		p.state.TermEffective = e.EffectiveDateTime
		p.state.TermStart = e.EffectiveTimestamp
		p.state.TermExpiry = e.ExpiryDateTime
		p.state.TermEnd = e.ExpiryTimestamp
		p.state.Calculation = e.Calculation
		p.state.Transactions[e.TransactionID] = ledger.Renewal
		p.state.LatestTx = e.TransactionID
	case events.PolicyAdjusted:
		p.state.Calculation = e.Calculation
		p.state.Transactions[e.TransactionID] = ledger.Adjustment
		p.state.LatestTx = e.TransactionID
	case events.PolicyCancelled:
		p.state.Cancelled = true
		p.state.CancelledFrom = e.EffectiveTimestamp
		p.state.Calculation = e.Calculation
		p.state.Transactions[e.TransactionID] = ledger.Cancellation
		p.state.LatestTx = e.TransactionID
	case events.PolicyTransactionCorrected:
		if e.Calculation != nil && e.TransactionID == p.state.LatestTx {
			p.state.Calculation = *e.Calculation
		}
	case events.PolicyMarkedAsDeleted:
		p.state.Deleted = true
	default:
		return unhandled(payload)
	}
	return nil
}

package projections

import (
	"context"
	"fmt"

	"policyhub-backend/application/ports"
	"policyhub-backend/application/readmodels"
	"policyhub-backend/domain/core/valueobjects"
	"policyhub-backend/domain/events"
	apperrors "policyhub-backend/pkg/errors"
)

// PolicySummaryProjectionName names the policy summary projection
const PolicySummaryProjectionName = "policy_summary"

// PolicySummaryProjection folds policy events into one summary row per policy
type PolicySummaryProjection struct {
	BaseProjection
	store ports.PolicySummaryStore
}

// NewPolicySummaryProjection creates the projection
func NewPolicySummaryProjection(store ports.PolicySummaryStore) *PolicySummaryProjection {
	return &PolicySummaryProjection{
		BaseProjection: NewBaseProjection(PolicySummaryProjectionName,
			events.KindPolicyIssued,
			events.KindPolicyRenewed,
			events.KindPolicyAdjusted,
			events.KindPolicyCancelled,
			events.KindPolicyTransactionCorrected,
			events.KindPolicyMarkedAsDeleted,
		),
		store: store,
	}
}

// Apply folds evt into the summary. Events already reflected are skipped.
// The store only accepts the write over an older row, so when another
// applier gets there first the event already counts as applied.
func (p *PolicySummaryProjection) Apply(ctx context.Context, evt events.Event) error {
	summary, err := p.load(ctx, evt.Stream)
	if err != nil {
		return err
	}
	if summary.Seen(evt.Sequence) {
		return nil
	}
	if evt.Sequence != summary.LastSequence+1 {
		return outOfOrder(evt, summary.LastSequence)
	}

	switch e := evt.Payload.(type) {
	case events.PolicyIssued:
		summary.PolicyNumber = e.PolicyNumber
		summary.CustomerID = e.CustomerID
		summary.ProductCode = e.ProductCode
		summary.TimeZone = e.TimeZone
		summary.StatusBasis = e.StatusBasis
		summary.Status = readmodels.PolicyStatusInForce
		summary.TermEffective = e.EffectiveDateTime
		summary.TermEffectiveAt = e.EffectiveTimestamp
		summary.TermExpiry = e.ExpiryDateTime
		summary.TermExpiryAt = e.ExpiryTimestamp
		summary.Calculation = e.Calculation
		summary.TransactionCount++
		summary.LastTransactionID = e.TransactionID
	case events.PolicyRenewed:
		summary.TermEffective = e.EffectiveDateTime
		summary.TermEffectiveAt = e.EffectiveTimestamp
		summary.TermExpiry = e.ExpiryDateTime
		summary.TermExpiryAt = e.ExpiryTimestamp
		summary.Calculation = e.Calculation
		summary.TransactionCount++
		summary.LastTransactionID = e.TransactionID
	case events.PolicyAdjusted:
		summary.Calculation = e.Calculation
		summary.TransactionCount++
		summary.LastTransactionID = e.TransactionID
	case events.PolicyCancelled:
		at := e.EffectiveTimestamp
		summary.Cancelled = true
		summary.CancellationAt = &at
		summary.Status = readmodels.PolicyStatusCancelled
		summary.Calculation = e.Calculation
		summary.TransactionCount++
		summary.LastTransactionID = e.TransactionID
	case events.PolicyTransactionCorrected:
		if e.Calculation != nil && e.TransactionID == summary.LastTransactionID {
			summary.Calculation = *e.Calculation
		}
	case events.PolicyMarkedAsDeleted:
		summary.Deleted = true
		summary.Status = readmodels.PolicyStatusDeleted
	default:
		return fmt.Errorf("policy summary cannot fold %s", evt.Kind)
	}

	summary.LastSequence = evt.Sequence
	summary.LastEventAt = evt.Timestamp
	return settled(p.store.PutPolicySummary(ctx, summary))
}

// Reset drops the summary of one policy
func (p *PolicySummaryProjection) Reset(ctx context.Context, stream valueobjects.StreamID) error {
	err := p.store.DeletePolicySummary(ctx, stream.Tenant, stream.ID)
	if err != nil && !apperrors.IsNotFound(err) {
		return err
	}
	return nil
}

func (p *PolicySummaryProjection) load(ctx context.Context, stream valueobjects.StreamID) (*readmodels.PolicySummary, error) {
	summary, err := p.store.GetPolicySummary(ctx, stream.Tenant, stream.ID)
	if apperrors.IsNotFound(err) {
		return readmodels.NewPolicySummary(stream.Tenant, stream.ID), nil
	}
	return summary, err
}

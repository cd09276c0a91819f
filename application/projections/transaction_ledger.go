package projections

import (
	"context"
	"errors"
	"fmt"

	"policyhub-backend/application/ports"
	"policyhub-backend/domain/core/valueobjects"
	"policyhub-backend/domain/events"
	"policyhub-backend/domain/ledger"
	apperrors "policyhub-backend/pkg/errors"
)

// TransactionLedgerProjectionName names the ledger projection
const TransactionLedgerProjectionName = "transaction_ledger"

const maxCorrectionAttempts = 3

// TransactionLedgerProjection writes one ledger entry per transaction event,
// keyed by the event's position. Corrections patch an existing entry and
// are recorded on it.
//
// Entries are independent of each other, so unlike the summaries the ledger
// does not gate on the stream's previous sequence: a later transaction may
// land while an earlier one waits in the failure queue, and ListTransactions
// still orders them by sequence. Within one entry the store write is guarded
// by the number of events folded in, and a correction older than one already
// applied only joins the audit trail.
type TransactionLedgerProjection struct {
	BaseProjection
	store ports.TransactionLedgerStore
}

// NewTransactionLedgerProjection creates the projection
func NewTransactionLedgerProjection(store ports.TransactionLedgerStore) *TransactionLedgerProjection {
	return &TransactionLedgerProjection{
		BaseProjection: NewBaseProjection(TransactionLedgerProjectionName,
			events.KindPolicyIssued,
			events.KindPolicyRenewed,
			events.KindPolicyAdjusted,
			events.KindPolicyCancelled,
			events.KindPolicyTransactionCorrected,
		),
		store: store,
	}
}

// Apply records or corrects a ledger entry
func (p *TransactionLedgerProjection) Apply(ctx context.Context, evt events.Event) error {
	if e, ok := evt.Payload.(events.PolicyTransactionCorrected); ok {
		return p.correct(ctx, evt, e)
	}

	tx := &ledger.PolicyTransaction{
		TenantID:      evt.Stream.Tenant,
		PolicyID:      evt.Stream.ID,
		EventSequence: evt.Sequence,
		RecordedAt:    evt.Timestamp,
	}
	switch e := evt.Payload.(type) {
	case events.PolicyIssued:
		tx.TransactionID = e.TransactionID
		tx.Type = ledger.NewBusiness
		tx.TimeZone = e.TimeZone
		tx.EffectiveDateTime = e.EffectiveDateTime
		tx.EffectiveTimestamp = e.EffectiveTimestamp
		exp, at := e.ExpiryDateTime, e.ExpiryTimestamp
		tx.ExpiryDateTime, tx.ExpiryTimestamp = &exp, &at
		tx.FormData = e.FormData
		tx.Calculation = e.Calculation
	case events.PolicyRenewed:
		tx.TransactionID = e.TransactionID
		tx.Type = ledger.Renewal
		tx.EffectiveDateTime = e.EffectiveDateTime
		tx.EffectiveTimestamp = e.EffectiveTimestamp
		exp, at := e.ExpiryDateTime, e.ExpiryTimestamp
		tx.ExpiryDateTime, tx.ExpiryTimestamp = &exp, &at
		tx.FormData = e.FormData
		tx.Calculation = e.Calculation
	case events.PolicyAdjusted:
		tx.TransactionID = e.TransactionID
		tx.Type = ledger.Adjustment
		tx.EffectiveDateTime = e.EffectiveDateTime
		tx.EffectiveTimestamp = e.EffectiveTimestamp
		exp, at := e.ExpiryDateTime, e.ExpiryTimestamp
		tx.ExpiryDateTime, tx.ExpiryTimestamp = &exp, &at
		tx.FormData = e.FormData
		tx.Calculation = e.Calculation
	case events.PolicyCancelled:
		tx.TransactionID = e.TransactionID
		tx.Type = ledger.Cancellation
		tx.EffectiveDateTime = e.EffectiveDateTime
		tx.EffectiveTimestamp = e.EffectiveTimestamp
		tx.FormData = e.FormData
		tx.Calculation = e.Calculation
	default:
		return fmt.Errorf("transaction ledger cannot record %s", evt.Kind)
	}

	existing, err := p.store.FindTransaction(ctx, tx.TenantID, tx.PolicyID, tx.TransactionID)
	switch {
	case err == nil && existing.EventSequence == evt.Sequence:
		// already recorded; keep any corrections applied since
		return nil
	case err == nil:
		return fmt.Errorf("transaction %s already recorded at sequence %d", tx.TransactionID, existing.EventSequence)
	case !apperrors.IsNotFound(err):
		return err
	}

	if tx.TimeZone == "" {
		zone, err := p.policyTimeZone(ctx, evt)
		if err != nil {
			return err
		}
		tx.TimeZone = zone
	}
	if err := p.store.UpsertTransaction(ctx, tx); !errors.Is(err, ports.ErrStaleWrite) {
		return err
	}
	// recorded by a concurrent applier
	return nil
}

func (p *TransactionLedgerProjection) correct(ctx context.Context, evt events.Event, e events.PolicyTransactionCorrected) error {
	var err error
	for attempt := 0; attempt < maxCorrectionAttempts; attempt++ {
		var tx *ledger.PolicyTransaction
		tx, err = p.store.FindTransaction(ctx, evt.Stream.Tenant, evt.Stream.ID, e.TransactionID)
		if apperrors.IsNotFound(err) {
			return fmt.Errorf("%w: correction of unrecorded transaction %s", ErrOutOfOrder, e.TransactionID)
		}
		if err != nil {
			return err
		}
		applied := tx.ApplyCorrection(ledger.Correction{
			EventSequence: evt.Sequence,
			Reason:        e.Reason,
			Actor:         evt.Actor,
			FormData:      e.FormData,
			Calculation:   e.Calculation,
			AppliedAt:     evt.Timestamp,
		})
		if !applied {
			return nil
		}
		// another correction landed since the read; reload and fold again
		if err = p.store.UpsertTransaction(ctx, tx); !errors.Is(err, ports.ErrStaleWrite) {
			return err
		}
	}
	return fmt.Errorf("correct transaction %s: %w", e.TransactionID, err)
}

// policyTimeZone reads the zone from the policy's NewBusiness entry
func (p *TransactionLedgerProjection) policyTimeZone(ctx context.Context, evt events.Event) (string, error) {
	txs, err := p.store.ListTransactions(ctx, evt.Stream.Tenant, evt.Stream.ID)
	if err != nil {
		return "", err
	}
	for _, tx := range txs {
		if tx.Type == ledger.NewBusiness {
			return tx.TimeZone, nil
		}
	}
	return "", fmt.Errorf("%w: %s has no new business entry before sequence %d", ErrOutOfOrder, evt.Stream, evt.Sequence)
}

// Reset drops every ledger entry of one policy
func (p *TransactionLedgerProjection) Reset(ctx context.Context, stream valueobjects.StreamID) error {
	return p.store.DeleteTransactions(ctx, stream.Tenant, stream.ID)
}

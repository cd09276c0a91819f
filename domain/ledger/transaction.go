package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"policyhub-backend/domain/core/valueobjects"
)

// PolicyTransaction is one immutable entry in a policy's ledger.
// It is created once when its event is projected; the only permitted
// change afterwards is an audited Correction.
type PolicyTransaction struct {
	TransactionID      string                      `json:"transaction_id"`
	TenantID           valueobjects.TenantID       `json:"tenant_id"`
	PolicyID           valueobjects.AggregateID    `json:"policy_id"`
	Type               TransactionType             `json:"type"`
	EffectiveDateTime  valueobjects.LocalDateTime  `json:"effective_date_time"`
	EffectiveTimestamp time.Time                   `json:"effective_timestamp"`
	ExpiryDateTime     *valueobjects.LocalDateTime `json:"expiry_date_time,omitempty"`
	ExpiryTimestamp    *time.Time                  `json:"expiry_timestamp,omitempty"`
	TimeZone           string                      `json:"time_zone"`
	EventSequence      int                         `json:"event_sequence"`
	FormData           json.RawMessage             `json:"form_data,omitempty"`
	Calculation        CalculationResult           `json:"calculation"`
	Corrections        []Correction                `json:"corrections,omitempty"`
	RecordedAt         time.Time                   `json:"recorded_at"`
}

// Correction is an audited patch to a transaction's embedded snapshot
type Correction struct {
	EventSequence int                `json:"event_sequence"`
	Reason        string             `json:"reason"`
	Actor         string             `json:"actor,omitempty"`
	FormData      json.RawMessage    `json:"form_data,omitempty"`
	Calculation   *CalculationResult `json:"calculation,omitempty"`
	AppliedAt     time.Time          `json:"applied_at"`
}

// ApplyCorrection records the correction and patches the snapshot.
// Re-applying a correction from the same event is a no-op. A correction
// older than one already recorded only joins the audit trail, so the
// snapshot always carries the latest correction's values.
func (t *PolicyTransaction) ApplyCorrection(c Correction) bool {
	latest := -1
	for _, existing := range t.Corrections {
		if existing.EventSequence == c.EventSequence {
			return false
		}
		if existing.EventSequence > latest {
			latest = existing.EventSequence
		}
	}
	if c.EventSequence > latest {
		if len(c.FormData) > 0 {
			t.FormData = c.FormData
		}
		if c.Calculation != nil {
			t.Calculation = *c.Calculation
		}
	}
	t.Corrections = append(t.Corrections, c)
	sort.SliceStable(t.Corrections, func(i, j int) bool {
		return t.Corrections[i].EventSequence < t.Corrections[j].EventSequence
	})
	return true
}

// Applied counts the events folded into the entry: the recording event
// plus every correction
func (t *PolicyTransaction) Applied() int {
	return 1 + len(t.Corrections)
}

// StatusAt computes the status at now under the given basis.
// loc is only consulted for BasisLocalTime; nil falls back to the
// transaction's own time zone.
func (t *PolicyTransaction) StatusAt(now time.Time, basis StatusBasis, loc *time.Location) Status {
	if basis == BasisLocalTime {
		if loc == nil {
			var err error
			if loc, err = valueobjects.LoadLocation(t.TimeZone); err != nil {
				return StatusVoid
			}
		}
		effective := t.EffectiveDateTime.In(loc)
		var expiry *time.Time
		if t.ExpiryDateTime != nil {
			e := t.ExpiryDateTime.In(loc)
			expiry = &e
		}
		return ComputeStatus(t.Type, effective, expiry, now)
	}

	if t.EffectiveTimestamp.IsZero() {
		return StatusVoid
	}
	return ComputeStatus(t.Type, t.EffectiveTimestamp, t.ExpiryTimestamp, now)
}

// Key is the stable identity of the entry within the ledger
func (t *PolicyTransaction) Key() string {
	return fmt.Sprintf("%s#%010d", t.PolicyID, t.EventSequence)
}

// SortBySequence orders transactions the only way the ledger may be read
func SortBySequence(txs []PolicyTransaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].EventSequence < txs[j].EventSequence
	})
}

// ValidateHistory checks a policy's transactions form a legal history:
// strictly increasing sequence numbers, one policy, NewBusiness first and only once.
func ValidateHistory(txs []PolicyTransaction) error {
	if len(txs) == 0 {
		return nil
	}
	if txs[0].Type != NewBusiness {
		return fmt.Errorf("ledger for policy %s starts with %s, expected %s", txs[0].PolicyID, txs[0].Type, NewBusiness)
	}
	for i := 1; i < len(txs); i++ {
		prev, cur := txs[i-1], txs[i]
		if cur.PolicyID != txs[0].PolicyID {
			return fmt.Errorf("ledger mixes policies %s and %s", txs[0].PolicyID, cur.PolicyID)
		}
		if cur.EventSequence <= prev.EventSequence {
			return fmt.Errorf("ledger for policy %s is out of order at sequence %d", cur.PolicyID, cur.EventSequence)
		}
		if cur.Type == NewBusiness {
			return fmt.Errorf("ledger for policy %s has a second %s at sequence %d", cur.PolicyID, NewBusiness, cur.EventSequence)
		}
		if !cur.Type.Valid() {
			return fmt.Errorf("unknown transaction type %q at sequence %d", cur.Type, cur.EventSequence)
		}
	}
	return nil
}

package ledger

import (
	"time"
)

// StatusBasis selects which representation of the transaction dates is authoritative
type StatusBasis string

const (
	// BasisInstant uses the precomputed zone-aware timestamps
	BasisInstant StatusBasis = "instant"
	// BasisLocalTime re-interprets the wall-clock dates in the policy's time zone.
	// Used for legacy data whose instants are not trustworthy.
	BasisLocalTime StatusBasis = "local_time"
)

// Valid reports whether b is a known basis
func (b StatusBasis) Valid() bool {
	return b == BasisInstant || b == BasisLocalTime
}

// ComputeStatus derives the status of a transaction at now.
//
//	now < effective                                   -> Pending
//	effective <= now < expiry (not a cancellation)    -> Active
//	now >= expiry, or cancellation and effective <= now -> Complete
//	anything else                                     -> Void
func ComputeStatus(txType TransactionType, effective time.Time, expiry *time.Time, now time.Time) Status {
	if now.Before(effective) {
		return StatusPending
	}
	if txType != Cancellation && expiry != nil && now.Before(*expiry) {
		return StatusActive
	}
	if expiry != nil && !now.Before(*expiry) {
		return StatusComplete
	}
	if txType == Cancellation {
		return StatusComplete
	}
	return StatusVoid
}

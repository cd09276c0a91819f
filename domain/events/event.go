package events

import (
	"time"

	"policyhub-backend/domain/core/valueobjects"
)

// Kind is the discriminating tag of an event
type Kind string

// String returns the string representation
func (k Kind) String() string { return string(k) }

// Payload is the kind-specific body of an event. The unexported marker
// keeps the set of payloads closed to this package, so every switch over
// payload types can be checked against the registry.
type Payload interface {
	Kind() Kind
	isPayload()
}

// Event is the envelope stored in an aggregate's history
type Event struct {
	EventID string                `json:"event_id"`
	Stream  valueobjects.StreamID `json:"stream"`
	// Sequence is 0-based and equals the aggregate version before the append
	Sequence      int       `json:"sequence"`
	Kind          Kind      `json:"kind"`
	Payload       Payload   `json:"-"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	CausationID   string    `json:"causation_id,omitempty"`
	Actor         string    `json:"actor,omitempty"`
}

// Metadata is the request context stamped onto events before they are stored
type Metadata struct {
	CorrelationID string
	CausationID   string
	Actor         string
}

// WithMetadata returns a copy of e carrying m
func (e Event) WithMetadata(m Metadata) Event {
	e.CorrelationID = m.CorrelationID
	e.CausationID = m.CausationID
	e.Actor = m.Actor
	return e
}

// Version returns the aggregate version once this event is applied
func (e Event) Version() int {
	return e.Sequence + 1
}

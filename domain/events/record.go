package events

import (
	"fmt"
	"time"

	"policyhub-backend/domain/core/valueobjects"
)

// Record is the storage form of an event: the payload is kept as bytes
// so stores never need to know payload types.
type Record struct {
	EventID       string    `json:"event_id"`
	TenantID      string    `json:"tenant_id"`
	AggregateType string    `json:"aggregate_type"`
	AggregateID   string    `json:"aggregate_id"`
	Sequence      int       `json:"sequence"`
	Kind          string    `json:"kind"`
	Data          []byte    `json:"data"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	CausationID   string    `json:"causation_id,omitempty"`
	Actor         string    `json:"actor,omitempty"`
}

// Stream returns the identity of the stream the record belongs to
func (r Record) Stream() valueobjects.StreamID {
	return valueobjects.NewStreamID(
		valueobjects.TenantID(r.TenantID),
		valueobjects.AggregateType(r.AggregateType),
		valueobjects.AggregateID(r.AggregateID),
	)
}

// ToRecord encodes an event for storage
func ToRecord(reg *Registry, evt Event) (Record, error) {
	if evt.Payload == nil {
		return Record{}, fmt.Errorf("event %s has no payload", evt.EventID)
	}
	if evt.Kind != evt.Payload.Kind() {
		return Record{}, fmt.Errorf("event %s kind %s does not match payload %s", evt.EventID, evt.Kind, evt.Payload.Kind())
	}
	data, err := reg.Encode(evt.Payload)
	if err != nil {
		return Record{}, err
	}
	return Record{
		EventID:       evt.EventID,
		TenantID:      evt.Stream.Tenant.String(),
		AggregateType: evt.Stream.Type.String(),
		AggregateID:   evt.Stream.ID.String(),
		Sequence:      evt.Sequence,
		Kind:          evt.Kind.String(),
		Data:          data,
		Timestamp:     evt.Timestamp,
		CorrelationID: evt.CorrelationID,
		CausationID:   evt.CausationID,
		Actor:         evt.Actor,
	}, nil
}

// FromRecord decodes a stored record back into an event
func FromRecord(reg *Registry, rec Record) (Event, error) {
	payload, err := reg.Decode(Kind(rec.Kind), rec.Data)
	if err != nil {
		return Event{}, fmt.Errorf("event %s: %w", rec.EventID, err)
	}
	return Event{
		EventID:       rec.EventID,
		Stream:        rec.Stream(),
		Sequence:      rec.Sequence,
		Kind:          Kind(rec.Kind),
		Payload:       payload,
		Timestamp:     rec.Timestamp,
		CorrelationID: rec.CorrelationID,
		CausationID:   rec.CausationID,
		Actor:         rec.Actor,
	}, nil
}

// ToRecords encodes a batch
func ToRecords(reg *Registry, evts []Event) ([]Record, error) {
	records := make([]Record, 0, len(evts))
	for _, e := range evts {
		rec, err := ToRecord(reg, e)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// FromRecords decodes a batch
func FromRecords(reg *Registry, recs []Record) ([]Event, error) {
	evts := make([]Event, 0, len(recs))
	for _, r := range recs {
		e, err := FromRecord(reg, r)
		if err != nil {
			return nil, err
		}
		evts = append(evts, e)
	}
	return evts, nil
}

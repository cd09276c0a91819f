package memory

import (
	"context"
	"sort"
	"sync"

	"policyhub-backend/application/ports"
	"policyhub-backend/domain/core/valueobjects"
	"policyhub-backend/domain/events"
	apperrors "policyhub-backend/pkg/errors"
)

type storedEvent struct {
	record    events.Record
	projected bool
}

// EventStore keeps streams in memory. Events pass through their storage
// record form so payloads are decoded exactly as a real store would.
type EventStore struct {
	mu       sync.RWMutex
	registry *events.Registry
	streams  map[valueobjects.StreamID][]*storedEvent
	order    []*storedEvent
}

// NewEventStore creates an empty store
func NewEventStore(registry *events.Registry) *EventStore {
	return &EventStore{
		registry: registry,
		streams:  make(map[valueobjects.StreamID][]*storedEvent),
	}
}

var _ ports.EventStore = (*EventStore)(nil)

// Append writes evts if the stream is still at expectedVersion
func (s *EventStore) Append(ctx context.Context, stream valueobjects.StreamID, expectedVersion int, evts []events.Event) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	records, err := events.ToRecords(s.registry, evts)
	if err != nil {
		return 0, apperrors.Wrap(err, "encode events")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := len(s.streams[stream])
	if current != expectedVersion {
		return 0, apperrors.NewConcurrencyConflict(stream.String(), expectedVersion, current)
	}
	for i, rec := range records {
		if rec.Sequence != expectedVersion+i || rec.Stream() != stream {
			return 0, apperrors.NewValidationError("events are not a contiguous continuation of " + stream.String())
		}
	}

	for _, rec := range records {
		se := &storedEvent{record: rec}
		s.streams[stream] = append(s.streams[stream], se)
		s.order = append(s.order, se)
	}
	return expectedVersion + len(records), nil
}

// Load returns the history of stream
func (s *EventStore) Load(ctx context.Context, stream valueobjects.StreamID) ([]events.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	stored := s.streams[stream]
	records := make([]events.Record, len(stored))
	for i, se := range stored {
		records[i] = se.record
	}
	s.mu.RUnlock()

	return events.FromRecords(s.registry, records)
}

// ListStreams lists streams of one type within a tenant
func (s *EventStore) ListStreams(ctx context.Context, tenant valueobjects.TenantID, aggregateType valueobjects.AggregateType) ([]valueobjects.StreamID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []valueobjects.StreamID
	for id := range s.streams {
		if id.Tenant == tenant && id.Type == aggregateType {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].ID < ids[j].ID })
	return ids, nil
}

// PendingProjection returns unprojected events in commit order
func (s *EventStore) PendingProjection(ctx context.Context, limit int) ([]events.Event, error) {
	s.mu.RLock()
	var records []events.Record
	for _, se := range s.order {
		if se.projected {
			continue
		}
		records = append(records, se.record)
		if limit > 0 && len(records) >= limit {
			break
		}
	}
	s.mu.RUnlock()

	return events.FromRecords(s.registry, records)
}

// MarkProjected flags evts as delivered to every read model
func (s *EventStore) MarkProjected(ctx context.Context, evts []events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range evts {
		stored := s.streams[e.Stream]
		if e.Sequence >= 0 && e.Sequence < len(stored) {
			stored[e.Sequence].projected = true
		}
	}
	return nil
}

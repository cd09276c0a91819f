package projections

import (
	"context"
	"errors"
	"fmt"
	"time"

	"policyhub-backend/application/ports"
	"policyhub-backend/domain/core/valueobjects"
	"policyhub-backend/domain/events"
)

// Projection listens to committed events and keeps one read model current.
// Apply must be idempotent: the outbox may deliver an event more than once.
type Projection interface {
	Name() string
	Handles(kind events.Kind) bool
	Apply(ctx context.Context, evt events.Event) error
	// Reset clears what the projection holds for one stream before a rebuild
	Reset(ctx context.Context, stream valueobjects.StreamID) error
}

var (
	// ErrOutOfOrder means an event arrived before its predecessor was applied
	ErrOutOfOrder = errors.New("event arrived out of order")
	// ErrNotRebuildable is returned by Reset on projections with external side effects
	ErrNotRebuildable = errors.New("projection cannot be rebuilt")
)

// BaseProjection provides the name and kind filter shared by projections
type BaseProjection struct {
	name  string
	kinds map[events.Kind]bool
}

// NewBaseProjection creates a base for a projection handling kinds.
// No kinds means every kind.
func NewBaseProjection(name string, kinds ...events.Kind) BaseProjection {
	set := make(map[events.Kind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return BaseProjection{name: name, kinds: set}
}

// Name returns the projection's name
func (p BaseProjection) Name() string { return p.name }

// Handles checks if this projection handles the kind
func (p BaseProjection) Handles(kind events.Kind) bool {
	if len(p.kinds) == 0 {
		return true
	}
	return p.kinds[kind]
}

// outOfOrder builds the error for an event whose predecessor is missing
// settled maps a rejected stale write to success. Summaries only advance
// one sequence at a time, so a row that is already as new has folded the event.
func settled(err error) error {
	if errors.Is(err, ports.ErrStaleWrite) {
		return nil
	}
	return err
}

func outOfOrder(evt events.Event, last int) error {
	return fmt.Errorf("%w: %s sequence %d after %d", ErrOutOfOrder, evt.Stream, evt.Sequence, last)
}

// ProjectionStats provides metrics about projection processing
type ProjectionStats struct {
	ProjectionName  string    `json:"projection_name"`
	EventsProcessed int64     `json:"events_processed"`
	ErrorCount      int64     `json:"error_count"`
	LastEventTime   time.Time `json:"last_event_time"`
}

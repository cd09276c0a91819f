package aggregates

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"policyhub-backend/domain/core/valueobjects"
	"policyhub-backend/domain/events"
	"policyhub-backend/pkg/clock"
	apperrors "policyhub-backend/pkg/errors"
)

// ErrUnhandledEvent is returned when an aggregate is asked to apply a kind it does not own
var ErrUnhandledEvent = errors.New("event kind not handled by aggregate")

// Aggregate is what the repository needs from any event-sourced aggregate
type Aggregate interface {
	Stream() valueobjects.StreamID
	// Version counts committed events plus events raised in this operation
	Version() int
	// CommittedVersion is the version the aggregate was loaded or last saved at
	CommittedVersion() int
	Uncommitted() []events.Event
	MarkCommitted(newVersion int)
	// Apply replays one committed event
	Apply(evt events.Event) error
}

// Root carries the identity, version and pending events shared by every aggregate.
// Concrete aggregates embed it and hand it their apply function.
type Root struct {
	stream      valueobjects.StreamID
	clock       clock.Clock
	version     int
	committed   int
	uncommitted []events.Event
	apply       func(events.Payload) error
}

func newRoot(stream valueobjects.StreamID, clk clock.Clock, apply func(events.Payload) error) Root {
	if clk == nil {
		clk = clock.System()
	}
	return Root{stream: stream, clock: clk, apply: apply}
}

// Stream returns the aggregate identity
func (r *Root) Stream() valueobjects.StreamID { return r.stream }

// ID returns the aggregate id
func (r *Root) ID() valueobjects.AggregateID { return r.stream.ID }

// Version returns the current version
func (r *Root) Version() int { return r.version }

// CommittedVersion returns the version at load or last save
func (r *Root) CommittedVersion() int { return r.committed }

// Exists reports whether the aggregate has any history
func (r *Root) Exists() bool { return r.version > 0 }

// Uncommitted returns a copy of the events raised since the last save
func (r *Root) Uncommitted() []events.Event {
	out := make([]events.Event, len(r.uncommitted))
	copy(out, r.uncommitted)
	return out
}

// MarkCommitted clears pending events after a successful append
func (r *Root) MarkCommitted(newVersion int) {
	r.uncommitted = nil
	r.committed = newVersion
	r.version = newVersion
}

// Apply replays a committed event. Sequence numbers must be contiguous.
func (r *Root) Apply(evt events.Event) error {
	if evt.Stream != r.stream {
		return fmt.Errorf("event %s belongs to %s, not %s", evt.EventID, evt.Stream, r.stream)
	}
	if evt.Sequence != r.version {
		return fmt.Errorf("event %s has sequence %d, expected %d", evt.EventID, evt.Sequence, r.version)
	}
	if err := r.apply(evt.Payload); err != nil {
		return fmt.Errorf("apply %s at sequence %d: %w", evt.Kind, evt.Sequence, err)
	}
	r.version++
	r.committed = r.version
	return nil
}

// raise validates nothing: callers check invariants first. It stamps the
// envelope, folds the payload into state and buffers the event.
func (r *Root) raise(p events.Payload) error {
	evt := events.Event{
		EventID:   uuid.New().String(),
		Stream:    r.stream,
		Sequence:  r.version,
		Kind:      p.Kind(),
		Payload:   p,
		Timestamp: r.clock.Now(),
	}
	if err := r.apply(p); err != nil {
		return err
	}
	r.version++
	r.uncommitted = append(r.uncommitted, evt)
	return nil
}

// Invariant codes shared by every aggregate
const (
	CodeAlreadyExists  = "AGGREGATE_ALREADY_EXISTS"
	CodeNotInitialized = "AGGREGATE_NOT_INITIALIZED"
)

func violation(code, format string, args ...interface{}) error {
	return apperrors.NewInvariantViolation(code, fmt.Sprintf(format, args...))
}

func unhandled(p events.Payload) error {
	if p == nil {
		return fmt.Errorf("%w: nil payload", ErrUnhandledEvent)
	}
	return fmt.Errorf("%w: %s", ErrUnhandledEvent, p.Kind())
}

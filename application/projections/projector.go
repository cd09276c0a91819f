package projections

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"policyhub-backend/application/ports"
	"policyhub-backend/domain/core/valueobjects"
	"policyhub-backend/domain/events"
	"policyhub-backend/pkg/clock"
	apperrors "policyhub-backend/pkg/errors"
)

// Projector routes committed events to every projection that handles them.
// A failing projection never blocks the others: its (projection, event)
// pair goes to the durable failure queue and the outbox processor retries it.
type Projector struct {
	mu          sync.RWMutex
	projections []Projection
	byName      map[string]Projection
	stats       map[string]*ProjectionStats

	store    ports.EventStore
	failures ports.ProjectionFailureQueue
	registry *events.Registry
	sink     ports.ErrorSink
	metrics  ports.Metrics
	clock    clock.Clock
	logger   *zap.Logger
}

// NewProjector creates a projector. sink, metrics and clk may be nil.
func NewProjector(
	store ports.EventStore,
	failures ports.ProjectionFailureQueue,
	registry *events.Registry,
	sink ports.ErrorSink,
	metrics ports.Metrics,
	clk clock.Clock,
	logger *zap.Logger,
) *Projector {
	if sink == nil {
		sink = ports.NopErrorSink{}
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projector{
		byName:   make(map[string]Projection),
		stats:    make(map[string]*ProjectionStats),
		store:    store,
		failures: failures,
		registry: registry,
		sink:     sink,
		metrics:  metrics,
		clock:    clk,
		logger:   logger,
	}
}

// Register adds a projection. Names must be unique.
func (p *Projector) Register(projection Projection) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	name := projection.Name()
	if _, exists := p.byName[name]; exists {
		return fmt.Errorf("projection '%s' already registered", name)
	}
	p.projections = append(p.projections, projection)
	p.byName[name] = projection
	p.stats[name] = &ProjectionStats{ProjectionName: name}

	p.logger.Info("Registered projection", zap.String("name", name))
	return nil
}

// Project applies evts in stream order. Events are marked projected once
// each interested projection either applied them or had the failure queued.
// The returned error covers only what could not be applied or queued.
func (p *Projector) Project(ctx context.Context, evts []events.Event) error {
	if len(evts) == 0 {
		return nil
	}
	ordered := inStreamOrder(evts)

	var errs []error
	settled := make([]events.Event, 0, len(ordered))
	for _, evt := range ordered {
		ok := true
		for _, projection := range p.interested(evt.Kind) {
			err := p.apply(ctx, projection, evt)
			if err == nil {
				continue
			}
			if qerr := p.enqueueFailure(ctx, projection, evt, err); qerr != nil {
				ok = false
				errs = append(errs, qerr)
			}
		}
		if ok {
			settled = append(settled, evt)
		}
	}

	if len(settled) > 0 && p.store != nil {
		if err := p.store.MarkProjected(ctx, settled); err != nil {
			errs = append(errs, fmt.Errorf("mark projected: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Retry applies one queued failure again
func (p *Projector) Retry(ctx context.Context, failure ports.ProjectionFailure) error {
	p.mu.RLock()
	projection, ok := p.byName[failure.Projection]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("projection '%s' is not registered", failure.Projection)
	}
	evt, err := events.FromRecord(p.registry, failure.Event)
	if err != nil {
		return fmt.Errorf("decode queued event %s: %w", failure.Event.EventID, err)
	}
	return p.apply(ctx, projection, evt)
}

// Rebuild resets every rebuildable projection for stream and replays its history
func (p *Projector) Rebuild(ctx context.Context, stream valueobjects.StreamID) error {
	history, err := p.store.Load(ctx, stream)
	if err != nil {
		return apperrors.Wrapf(err, "load %s for rebuild", stream)
	}

	for _, projection := range p.all() {
		if err := projection.Reset(ctx, stream); err != nil {
			if errors.Is(err, ErrNotRebuildable) {
				continue
			}
			return fmt.Errorf("reset %s for %s: %w", projection.Name(), stream, err)
		}
		for _, evt := range history {
			if !projection.Handles(evt.Kind) {
				continue
			}
			if err := p.apply(ctx, projection, evt); err != nil {
				return fmt.Errorf("rebuild %s for %s: %w", projection.Name(), stream, err)
			}
		}
	}

	p.logger.Info("Rebuilt read models",
		zap.String("stream", stream.String()),
		zap.Int("events", len(history)))
	return nil
}

// RebuildAll rebuilds every stream of one aggregate type, continuing past
// streams that fail. It returns how many streams were rebuilt.
func (p *Projector) RebuildAll(ctx context.Context, tenant valueobjects.TenantID, aggregateType valueobjects.AggregateType) (int, error) {
	streams, err := p.store.ListStreams(ctx, tenant, aggregateType)
	if err != nil {
		return 0, apperrors.Wrapf(err, "list %s streams", aggregateType)
	}

	rebuilt := 0
	var errs []error
	for _, stream := range streams {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := p.Rebuild(ctx, stream); err != nil {
			p.logger.Error("Rebuild failed, continuing",
				zap.String("stream", stream.String()),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		rebuilt++
	}
	return rebuilt, errors.Join(errs...)
}

// Stats returns a snapshot of per-projection counters
func (p *Projector) Stats() []ProjectionStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ProjectionStats, 0, len(p.projections))
	for _, projection := range p.projections {
		out = append(out, *p.stats[projection.Name()])
	}
	return out
}

func (p *Projector) all() []Projection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Projection, len(p.projections))
	copy(out, p.projections)
	return out
}

func (p *Projector) interested(kind events.Kind) []Projection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Projection
	for _, projection := range p.projections {
		if projection.Handles(kind) {
			out = append(out, projection)
		}
	}
	return out
}

// apply runs one projection on one event and keeps the counters
func (p *Projector) apply(ctx context.Context, projection Projection, evt events.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("projection %s panicked: %v", projection.Name(), r)
		}
		p.record(projection.Name(), evt, err)
	}()
	return projection.Apply(ctx, evt)
}

func (p *Projector) record(name string, evt events.Event, err error) {
	p.mu.Lock()
	if stats, ok := p.stats[name]; ok {
		stats.EventsProcessed++
		stats.LastEventTime = p.clock.Now()
		if err != nil {
			stats.ErrorCount++
		}
	}
	p.mu.Unlock()
	p.metrics.ProjectionApplied(name, err != nil)
}

// enqueueFailure logs, reports and durably queues a failed application
func (p *Projector) enqueueFailure(ctx context.Context, projection Projection, evt events.Event, cause error) error {
	failureErr := apperrors.NewProjectionFailure(projection.Name(), evt.EventID, evt.Kind.String(), cause)
	p.logger.Error("Projection failed",
		zap.String("projection", projection.Name()),
		zap.String("event_id", evt.EventID),
		zap.String("kind", evt.Kind.String()),
		zap.String("stream", evt.Stream.String()),
		zap.Int("sequence", evt.Sequence),
		zap.Error(cause))
	p.sink.Report(ctx, ports.FailureDescriptor{
		Operation:     "projection",
		RequestType:   projection.Name(),
		TenantID:      string(evt.Stream.Tenant),
		CorrelationID: evt.CorrelationID,
		ErrorType:     string(apperrors.ErrorTypeProjection),
		Message:       failureErr.Error(),
		OccurredAt:    p.clock.Now(),
		Details:       failureErr.Details,
	})

	if p.failures == nil {
		return failureErr
	}
	rec, err := events.ToRecord(p.registry, evt)
	if err != nil {
		return fmt.Errorf("encode failed event %s: %w", evt.EventID, err)
	}
	now := p.clock.Now()
	failure := ports.ProjectionFailure{
		ID:            FailureID(projection.Name(), evt.EventID),
		Projection:    projection.Name(),
		Event:         rec,
		Attempts:      1,
		LastError:     cause.Error(),
		FirstFailedAt: now,
		LastFailedAt:  now,
	}
	if err := p.failures.Enqueue(ctx, failure); err != nil {
		return fmt.Errorf("queue failed projection %s: %w", failure.ID, err)
	}
	return nil
}

// FailureID is the queue key of a (projection, event) pair
func FailureID(projection, eventID string) string {
	return projection + ":" + eventID
}

// inStreamOrder sorts by sequence within each stream and keeps streams in
// the order they first appear
func inStreamOrder(evts []events.Event) []events.Event {
	first := make(map[valueobjects.StreamID]int)
	for i, evt := range evts {
		if _, ok := first[evt.Stream]; !ok {
			first[evt.Stream] = i
		}
	}
	out := make([]events.Event, len(evts))
	copy(out, evts)
	sort.SliceStable(out, func(i, j int) bool {
		fi, fj := first[out[i].Stream], first[out[j].Stream]
		if fi != fj {
			return fi < fj
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out
}

package projections

import (
	"context"

	"policyhub-backend/application/ports"
	"policyhub-backend/domain/core/valueobjects"
	"policyhub-backend/domain/events"
)

// IntegrationEventsProjectionName names the integration publisher
const IntegrationEventsProjectionName = "integration_events"

// IntegrationEventsProjection forwards committed events to the integration bus.
// Delivery is at least once; consumers deduplicate on event id.
type IntegrationEventsProjection struct {
	BaseProjection
	publisher ports.EventPublisher
}

// NewIntegrationEventsProjection creates the projection for the given kinds,
// or for every kind when none are listed
func NewIntegrationEventsProjection(publisher ports.EventPublisher, kinds ...events.Kind) *IntegrationEventsProjection {
	return &IntegrationEventsProjection{
		BaseProjection: NewBaseProjection(IntegrationEventsProjectionName, kinds...),
		publisher:      publisher,
	}
}

// Apply publishes evt
func (p *IntegrationEventsProjection) Apply(ctx context.Context, evt events.Event) error {
	return p.publisher.Publish(ctx, []events.Event{evt})
}

// Reset refuses: published events cannot be recalled
func (p *IntegrationEventsProjection) Reset(ctx context.Context, stream valueobjects.StreamID) error {
	return ErrNotRebuildable
}

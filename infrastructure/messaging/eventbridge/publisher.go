package eventbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/zap"

	"policyhub-backend/application/ports"
	"policyhub-backend/domain/events"
)

// Source is the EventBridge source of everything this service emits
const Source = "policyhub.core"

// EventBridge limits PutEvents to 10 entries
const maxEntries = 10

// API is the part of the EventBridge client used here
type API interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

var _ API = (*eventbridge.Client)(nil)

// Publisher forwards committed domain events to an EventBridge bus
type Publisher struct {
	client   API
	busName  string
	registry *events.Registry
	logger   *zap.Logger
}

var _ ports.EventPublisher = (*Publisher)(nil)

// NewPublisher creates a new EventBridge publisher
func NewPublisher(client API, busName string, registry *events.Registry, logger *zap.Logger) *Publisher {
	return &Publisher{client: client, busName: busName, registry: registry, logger: logger}
}

// Publish sends events in batches of ten. A batch with failed entries
// fails the whole call so the projector retries it.
func (p *Publisher) Publish(ctx context.Context, evts []events.Event) error {
	for i := 0; i < len(evts); i += maxEntries {
		end := i + maxEntries
		if end > len(evts) {
			end = len(evts)
		}
		if err := p.publishBatch(ctx, evts[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publishBatch(ctx context.Context, evts []events.Event) error {
	entries := make([]types.PutEventsRequestEntry, 0, len(evts))
	for _, evt := range evts {
		rec, err := events.ToRecord(p.registry, evt)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", evt.EventID, err)
		}
		body, err := json.Marshal(integrationDetail(rec))
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", evt.EventID, err)
		}
		entries = append(entries, types.PutEventsRequestEntry{
			EventBusName: aws.String(p.busName),
			Source:       aws.String(Source),
			DetailType:   aws.String(rec.Kind),
			Detail:       aws.String(string(body)),
			Time:         aws.Time(rec.Timestamp),
			Resources:    []string{evt.Stream.String()},
		})
	}

	out, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: entries})
	if err != nil {
		return fmt.Errorf("failed to publish events to EventBridge: %w", err)
	}
	if out.FailedEntryCount > 0 {
		for i, entry := range out.Entries {
			if entry.ErrorCode != nil && i < len(evts) {
				p.logger.Error("Failed to publish event",
					zap.String("eventId", evts[i].EventID),
					zap.String("kind", evts[i].Kind.String()),
					zap.String("errorCode", aws.ToString(entry.ErrorCode)),
					zap.String("errorMessage", aws.ToString(entry.ErrorMessage)),
				)
			}
		}
		return fmt.Errorf("%d events failed to publish", out.FailedEntryCount)
	}

	p.logger.Debug("Events published to EventBridge",
		zap.Int("count", len(entries)),
		zap.String("eventBus", p.busName),
	)
	return nil
}

type detail struct {
	EventID       string          `json:"event_id"`
	TenantID      string          `json:"tenant_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Sequence      int             `json:"sequence"`
	Kind          string          `json:"kind"`
	Data          json.RawMessage `json:"data"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CausationID   string          `json:"causation_id,omitempty"`
	Actor         string          `json:"actor,omitempty"`
}

// payloads are JSON already, so they are embedded rather than base64'd
func integrationDetail(rec events.Record) detail {
	return detail{
		EventID:       rec.EventID,
		TenantID:      rec.TenantID,
		AggregateType: rec.AggregateType,
		AggregateID:   rec.AggregateID,
		Sequence:      rec.Sequence,
		Kind:          rec.Kind,
		Data:          json.RawMessage(rec.Data),
		CorrelationID: rec.CorrelationID,
		CausationID:   rec.CausationID,
		Actor:         rec.Actor,
	}
}

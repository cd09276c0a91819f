package dynamodb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"policyhub-backend/application/ports"
	"policyhub-backend/domain/core/valueobjects"
	"policyhub-backend/domain/events"
	"policyhub-backend/pkg/clock"
	apperrors "policyhub-backend/pkg/errors"
)

// ProjectionStatus tracks an event through the outbox
type ProjectionStatus string

const (
	ProjectionStatusPending   ProjectionStatus = "pending"   // Committed, not yet in every read model
	ProjectionStatusProjected ProjectionStatus = "projected" // Applied or durably queued everywhere

	headSK         = "HEAD"
	eventSKPrefix  = "EVENT#"
	outboxPending  = "OUTBOX#PENDING"
	defaultOutbox  = "OutboxIndex"
	defaultStreams = "StreamIndex"
)

// EventItem is how one event is stored. A stream's events share its PK and
// are ordered by SK. OutboxPK/OutboxSK only exist while the event is pending,
// which keeps the outbox index sparse.
type EventItem struct {
	PK            string `dynamodbav:"PK"` // STREAM#<tenant>#<type>#<id>
	SK            string `dynamodbav:"SK"` // EVENT#<zero padded sequence>
	EventID       string `dynamodbav:"EventID"`
	TenantID      string `dynamodbav:"TenantID"`
	AggregateType string `dynamodbav:"AggregateType"`
	AggregateID   string `dynamodbav:"AggregateID"`
	Sequence      int    `dynamodbav:"Sequence"`
	Kind          string `dynamodbav:"Kind"`
	Data          string `dynamodbav:"Data"`
	Timestamp     string `dynamodbav:"Timestamp"`
	CorrelationID string `dynamodbav:"CorrelationID,omitempty"`
	CausationID   string `dynamodbav:"CausationID,omitempty"`
	Actor         string `dynamodbav:"Actor,omitempty"`

	ProjectionStatus string `dynamodbav:"ProjectionStatus"`
	ProjectedAt      string `dynamodbav:"ProjectedAt,omitempty"`
	OutboxPK         string `dynamodbav:"OutboxPK,omitempty"`
	OutboxSK         string `dynamodbav:"OutboxSK,omitempty"` // <timestamp>#<event id>
}

// HeadItem holds the current version of a stream. Every append rewrites it
// under a condition on the version the writer loaded.
type HeadItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Version   int    `dynamodbav:"Version"`
	StreamPK  string `dynamodbav:"StreamPK"` // STREAMS#<tenant>#<type>
	StreamSK  string `dynamodbav:"StreamSK"` // <aggregate id>
	UpdatedAt string `dynamodbav:"UpdatedAt"`
}

// EventStoreConfig names the table and its indexes
type EventStoreConfig struct {
	TableName    string
	OutboxIndex  string
	StreamsIndex string
}

// EventStore implements ports.EventStore on a single DynamoDB table
type EventStore struct {
	client   API
	config   EventStoreConfig
	registry *events.Registry
	clock    clock.Clock
	logger   *zap.Logger
}

var _ ports.EventStore = (*EventStore)(nil)

// NewEventStore creates a new DynamoDB event store
func NewEventStore(client API, config EventStoreConfig, registry *events.Registry, clk clock.Clock, logger *zap.Logger) *EventStore {
	if config.OutboxIndex == "" {
		config.OutboxIndex = defaultOutbox
	}
	if config.StreamsIndex == "" {
		config.StreamsIndex = defaultStreams
	}
	if clk == nil {
		clk = clock.System()
	}
	return &EventStore{client: client, config: config, registry: registry, clock: clk, logger: logger}
}

func streamPK(stream valueobjects.StreamID) string {
	return fmt.Sprintf("STREAM#%s#%s#%s", stream.Tenant, stream.Type, stream.ID)
}

func eventSK(sequence int) string {
	return fmt.Sprintf("%s%010d", eventSKPrefix, sequence)
}

func streamsPK(tenant valueobjects.TenantID, aggregateType valueobjects.AggregateType) string {
	return fmt.Sprintf("STREAMS#%s#%s", tenant, aggregateType)
}

func toItem(rec events.Record) EventItem {
	ts := rec.Timestamp.UTC().Format(time.RFC3339Nano)
	return EventItem{
		PK:               streamPK(rec.Stream()),
		SK:               eventSK(rec.Sequence),
		EventID:          rec.EventID,
		TenantID:         rec.TenantID,
		AggregateType:    rec.AggregateType,
		AggregateID:      rec.AggregateID,
		Sequence:         rec.Sequence,
		Kind:             rec.Kind,
		Data:             string(rec.Data),
		Timestamp:        ts,
		CorrelationID:    rec.CorrelationID,
		CausationID:      rec.CausationID,
		Actor:            rec.Actor,
		ProjectionStatus: string(ProjectionStatusPending),
		OutboxPK:         outboxPending,
		OutboxSK:         ts + "#" + rec.EventID,
	}
}

func (i EventItem) record() (events.Record, error) {
	ts, err := time.Parse(time.RFC3339Nano, i.Timestamp)
	if err != nil {
		return events.Record{}, fmt.Errorf("event %s has a bad timestamp: %w", i.EventID, err)
	}
	return events.Record{
		EventID:       i.EventID,
		TenantID:      i.TenantID,
		AggregateType: i.AggregateType,
		AggregateID:   i.AggregateID,
		Sequence:      i.Sequence,
		Kind:          i.Kind,
		Data:          []byte(i.Data),
		Timestamp:     ts,
		CorrelationID: i.CorrelationID,
		CausationID:   i.CausationID,
		Actor:         i.Actor,
	}, nil
}

// Append writes the head update and every event in one transaction. The
// head condition rejects writers whose expectedVersion is stale.
func (s *EventStore) Append(ctx context.Context, stream valueobjects.StreamID, expectedVersion int, evts []events.Event) (int, error) {
	if len(evts) == 0 {
		return expectedVersion, nil
	}
	if len(evts) >= maxTransactItems {
		return 0, apperrors.NewValidationError(fmt.Sprintf("cannot append %d events in one commit", len(evts)))
	}
	records, err := events.ToRecords(s.registry, evts)
	if err != nil {
		return 0, apperrors.Wrap(err, "encode events")
	}
	for i, rec := range records {
		if rec.Sequence != expectedVersion+i || rec.Stream() != stream {
			return 0, apperrors.NewValidationError("events are not a contiguous continuation of " + stream.String())
		}
	}

	newVersion := expectedVersion + len(records)
	headWrite, err := s.headWrite(stream, expectedVersion, newVersion)
	if err != nil {
		return 0, err
	}
	writes := []types.TransactWriteItem{headWrite}
	for _, rec := range records {
		item, err := attributevalue.MarshalMap(toItem(rec))
		if err != nil {
			return 0, fmt.Errorf("failed to marshal event record: %w", err)
		}
		writes = append(writes, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(s.config.TableName),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			},
		})
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes})
	if err != nil {
		if isConditionFailed(err) {
			actual, readErr := s.currentVersion(ctx, stream)
			if readErr != nil {
				s.logger.Warn("Failed to read stream head after conflict",
					zap.String("stream", stream.String()),
					zap.Error(readErr))
				actual = -1
			}
			return 0, apperrors.NewConcurrencyConflict(stream.String(), expectedVersion, actual)
		}
		return 0, apperrors.NewDatabaseError("append events", err)
	}

	s.logger.Debug("Events appended",
		zap.String("stream", stream.String()),
		zap.Int("from_version", expectedVersion),
		zap.Int("to_version", newVersion))
	return newVersion, nil
}

// headWrite creates the head for a new stream, or moves it forward from
// exactly expectedVersion
func (s *EventStore) headWrite(stream valueobjects.StreamID, expectedVersion, newVersion int) (types.TransactWriteItem, error) {
	now := s.clock.Now().UTC().Format(time.RFC3339Nano)
	if expectedVersion == 0 {
		item, err := attributevalue.MarshalMap(HeadItem{
			PK:        streamPK(stream),
			SK:        headSK,
			Version:   newVersion,
			StreamPK:  streamsPK(stream.Tenant, stream.Type),
			StreamSK:  stream.ID.String(),
			UpdatedAt: now,
		})
		if err != nil {
			return types.TransactWriteItem{}, fmt.Errorf("failed to marshal stream head: %w", err)
		}
		return types.TransactWriteItem{Put: &types.Put{
			TableName:           aws.String(s.config.TableName),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		}}, nil
	}

	expr, err := expression.NewBuilder().
		WithUpdate(expression.Set(expression.Name("Version"), expression.Value(newVersion)).
			Set(expression.Name("UpdatedAt"), expression.Value(now))).
		WithCondition(expression.Name("Version").Equal(expression.Value(expectedVersion))).
		Build()
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("failed to build head update: %w", err)
	}
	return types.TransactWriteItem{Update: &types.Update{
		TableName:                 aws.String(s.config.TableName),
		Key:                       map[string]types.AttributeValue{"PK": stringAttr(streamPK(stream)), "SK": stringAttr(headSK)},
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}}, nil
}

func (s *EventStore) currentVersion(ctx context.Context, stream valueobjects.StreamID) (int, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.TableName),
		Key:            map[string]types.AttributeValue{"PK": stringAttr(streamPK(stream)), "SK": stringAttr(headSK)},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, err
	}
	if out.Item == nil {
		return 0, nil
	}
	var head HeadItem
	if err := attributevalue.UnmarshalMap(out.Item, &head); err != nil {
		return 0, err
	}
	return head.Version, nil
}

// Load returns the history of stream ordered by sequence
func (s *EventStore) Load(ctx context.Context, stream valueobjects.StreamID) ([]events.Event, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(streamPK(stream))).
		And(expression.Key("SK").BeginsWith(eventSKPrefix))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	items, err := queryAll(ctx, s.client, &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.TableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(true),
		ScanIndexForward:          aws.Bool(true),
	}, 0)
	if err != nil {
		return nil, apperrors.NewDatabaseError("load stream", err)
	}
	return s.decode(items)
}

func (s *EventStore) decode(items []map[string]types.AttributeValue) ([]events.Event, error) {
	records := make([]events.Record, 0, len(items))
	for _, raw := range items {
		var item EventItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event record: %w", err)
		}
		rec, err := item.record()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return events.FromRecords(s.registry, records)
}

// ListStreams lists the streams of one type within a tenant
func (s *EventStore) ListStreams(ctx context.Context, tenant valueobjects.TenantID, aggregateType valueobjects.AggregateType) ([]valueobjects.StreamID, error) {
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key("StreamPK").Equal(expression.Value(streamsPK(tenant, aggregateType)))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	items, err := queryAll(ctx, s.client, &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.TableName),
		IndexName:                 aws.String(s.config.StreamsIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}, 0)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list streams", err)
	}

	ids := make([]valueobjects.StreamID, 0, len(items))
	for _, raw := range items {
		var head HeadItem
		if err := attributevalue.UnmarshalMap(raw, &head); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stream head: %w", err)
		}
		ids = append(ids, valueobjects.NewStreamID(tenant, aggregateType, valueobjects.AggregateID(head.StreamSK)))
	}
	return ids, nil
}

// PendingProjection reads the sparse outbox index oldest first
func (s *EventStore) PendingProjection(ctx context.Context, limit int) ([]events.Event, error) {
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key("OutboxPK").Equal(expression.Value(outboxPending))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.TableName),
		IndexName:                 aws.String(s.config.OutboxIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(true),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}
	items, err := queryAll(ctx, s.client, input, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("read outbox", err)
	}
	return s.decode(items)
}

// MarkProjected takes evts out of the outbox index
func (s *EventStore) MarkProjected(ctx context.Context, evts []events.Event) error {
	now := s.clock.Now().UTC().Format(time.RFC3339Nano)
	expr, err := expression.NewBuilder().
		WithUpdate(expression.Set(expression.Name("ProjectionStatus"), expression.Value(string(ProjectionStatusProjected))).
			Set(expression.Name("ProjectedAt"), expression.Value(now)).
			Remove(expression.Name("OutboxPK")).
			Remove(expression.Name("OutboxSK"))).
		WithCondition(expression.AttributeExists(expression.Name("PK"))).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	var failed []string
	for _, evt := range evts {
		_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(s.config.TableName),
			Key:                       map[string]types.AttributeValue{"PK": stringAttr(streamPK(evt.Stream)), "SK": stringAttr(eventSK(evt.Sequence))},
			UpdateExpression:          expr.Update(),
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		})
		if err != nil {
			s.logger.Error("Failed to mark event as projected",
				zap.String("event_id", evt.EventID),
				zap.String("stream", evt.Stream.String()),
				zap.Error(err))
			failed = append(failed, evt.EventID)
		}
	}
	if len(failed) > 0 {
		return apperrors.NewDatabaseError("mark projected", fmt.Errorf("events %s", strings.Join(failed, ", ")))
	}
	return nil
}

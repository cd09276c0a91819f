package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"policyhub-backend/application/ports"
	"policyhub-backend/application/readmodels"
	"policyhub-backend/domain/core/valueobjects"
	"policyhub-backend/domain/ledger"
	apperrors "policyhub-backend/pkg/errors"
)

// ReadModelItem is the stored form of every read model row. The row itself
// travels as JSON in Data; the other attributes exist for keys and filters.
type ReadModelItem struct {
	PK            string `dynamodbav:"PK"`
	SK            string `dynamodbav:"SK"`
	EntityType    string `dynamodbav:"EntityType"`
	TransactionID string `dynamodbav:"TransactionID,omitempty"`
	LastSequence  int    `dynamodbav:"LastSequence"`
	Applied       int    `dynamodbav:"Applied,omitempty"`
	Data          string `dynamodbav:"Data"`
}

// ReadModelStore keeps policy summaries, ledger entries and user summaries
// in one DynamoDB table
type ReadModelStore struct {
	client    API
	tableName string
	logger    *zap.Logger
}

var (
	_ ports.PolicySummaryStore     = (*ReadModelStore)(nil)
	_ ports.TransactionLedgerStore = (*ReadModelStore)(nil)
	_ ports.UserSummaryStore       = (*ReadModelStore)(nil)
)

// NewReadModelStore creates a new DynamoDB read model store
func NewReadModelStore(client API, tableName string, logger *zap.Logger) *ReadModelStore {
	return &ReadModelStore{client: client, tableName: tableName, logger: logger}
}

func policiesPK(tenant valueobjects.TenantID) string {
	return fmt.Sprintf("TENANT#%s#POLICIES", tenant)
}
func usersPK(tenant valueobjects.TenantID) string { return fmt.Sprintf("TENANT#%s#USERS", tenant) }
func ledgerPK(tenant valueobjects.TenantID, policy valueobjects.AggregateID) string {
	return fmt.Sprintf("TENANT#%s#POLICY#%s#LEDGER", tenant, policy)
}
func ledgerSK(sequence int) string { return fmt.Sprintf("TX#%010d", sequence) }

// put writes the row only when it is new or the stored copy's attr is lower
// than the item's. A failed condition surfaces as ports.ErrStaleWrite.
func (s *ReadModelStore) put(ctx context.Context, item ReadModelItem, row interface{}, attr string, value int) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", item.EntityType, err)
	}
	item.Data = string(data)
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", item.EntityType, err)
	}
	cond := expression.AttributeNotExists(expression.Name("PK")).
		Or(expression.Name(attr).LessThan(expression.Value(value)))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("failed to build %s condition: %w", item.EntityType, err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.tableName),
		Item:                      av,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if isConditionFailed(err) {
		s.logger.Debug("Skipped stale read model write",
			zap.String("entity_type", item.EntityType),
			zap.String("pk", item.PK),
			zap.String("sk", item.SK),
			zap.String("guard", attr),
			zap.Int("value", value))
		return ports.ErrStaleWrite
	}
	if err != nil {
		return apperrors.NewDatabaseError("put "+item.EntityType, err)
	}
	return nil
}

func (s *ReadModelStore) get(ctx context.Context, pk, sk, resource string, out interface{}) error {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            map[string]types.AttributeValue{"PK": stringAttr(pk), "SK": stringAttr(sk)},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return apperrors.NewDatabaseError("get "+resource, err)
	}
	if result.Item == nil {
		return apperrors.NewNotFoundError(resource)
	}
	return decodeRow(result.Item, out)
}

func decodeRow(raw map[string]types.AttributeValue, out interface{}) error {
	var item ReadModelItem
	if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
		return fmt.Errorf("failed to unmarshal read model: %w", err)
	}
	if err := json.Unmarshal([]byte(item.Data), out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", item.EntityType, err)
	}
	return nil
}

// query returns every row under pk, optionally narrowed by filter
func (s *ReadModelStore) query(ctx context.Context, pk string, filter *expression.ConditionBuilder) ([]map[string]types.AttributeValue, error) {
	builder := expression.NewBuilder().WithKeyCondition(expression.Key("PK").Equal(expression.Value(pk)))
	if filter != nil {
		builder = builder.WithFilter(*filter)
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return queryAll(ctx, s.client, &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(true),
		ScanIndexForward:          aws.Bool(true),
	}, 0)
}

func (s *ReadModelStore) delete(ctx context.Context, pk, sk string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       map[string]types.AttributeValue{"PK": stringAttr(pk), "SK": stringAttr(sk)},
	})
	if err != nil {
		return apperrors.NewDatabaseError("delete read model", err)
	}
	return nil
}

// GetPolicySummary returns the summary or a NOT_FOUND error
func (s *ReadModelStore) GetPolicySummary(ctx context.Context, tenant valueobjects.TenantID, id valueobjects.AggregateID) (*readmodels.PolicySummary, error) {
	var summary readmodels.PolicySummary
	if err := s.get(ctx, policiesPK(tenant), "POLICY#"+id.String(), "policy summary", &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// PutPolicySummary upserts a summary unless the stored row is as new
func (s *ReadModelStore) PutPolicySummary(ctx context.Context, summary *readmodels.PolicySummary) error {
	return s.put(ctx, ReadModelItem{
		PK:           policiesPK(summary.TenantID),
		SK:           "POLICY#" + summary.PolicyID.String(),
		EntityType:   "policy_summary",
		LastSequence: summary.LastSequence,
	}, summary, "LastSequence", summary.LastSequence)
}

// ListPolicySummaries lists a tenant's policies by policy number
func (s *ReadModelStore) ListPolicySummaries(ctx context.Context, tenant valueobjects.TenantID) ([]*readmodels.PolicySummary, error) {
	items, err := s.query(ctx, policiesPK(tenant), nil)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list policy summaries", err)
	}
	out := make([]*readmodels.PolicySummary, 0, len(items))
	for _, raw := range items {
		var summary readmodels.PolicySummary
		if err := decodeRow(raw, &summary); err != nil {
			return nil, err
		}
		out = append(out, &summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PolicyNumber < out[j].PolicyNumber })
	return out, nil
}

// DeletePolicySummary removes a summary before a rebuild
func (s *ReadModelStore) DeletePolicySummary(ctx context.Context, tenant valueobjects.TenantID, id valueobjects.AggregateID) error {
	return s.delete(ctx, policiesPK(tenant), "POLICY#"+id.String())
}

// UpsertTransaction writes tx under its (policy, event sequence) key unless
// the stored entry has folded as many events
func (s *ReadModelStore) UpsertTransaction(ctx context.Context, tx *ledger.PolicyTransaction) error {
	return s.put(ctx, ReadModelItem{
		PK:            ledgerPK(tx.TenantID, tx.PolicyID),
		SK:            ledgerSK(tx.EventSequence),
		EntityType:    "policy_transaction",
		TransactionID: tx.TransactionID,
		LastSequence:  tx.EventSequence,
		Applied:       tx.Applied(),
	}, tx, "Applied", tx.Applied())
}

// FindTransaction looks an entry up by its transaction id
func (s *ReadModelStore) FindTransaction(ctx context.Context, tenant valueobjects.TenantID, policyID valueobjects.AggregateID, transactionID string) (*ledger.PolicyTransaction, error) {
	filter := expression.Name("TransactionID").Equal(expression.Value(transactionID))
	items, err := s.query(ctx, ledgerPK(tenant, policyID), &filter)
	if err != nil {
		return nil, apperrors.NewDatabaseError("find transaction", err)
	}
	if len(items) == 0 {
		return nil, apperrors.NewNotFoundError("policy transaction")
	}
	var tx ledger.PolicyTransaction
	if err := decodeRow(items[0], &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// ListTransactions returns a policy's entries ordered by event sequence
func (s *ReadModelStore) ListTransactions(ctx context.Context, tenant valueobjects.TenantID, policyID valueobjects.AggregateID) ([]*ledger.PolicyTransaction, error) {
	items, err := s.query(ctx, ledgerPK(tenant, policyID), nil)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list transactions", err)
	}
	out := make([]*ledger.PolicyTransaction, 0, len(items))
	for _, raw := range items {
		var tx ledger.PolicyTransaction
		if err := decodeRow(raw, &tx); err != nil {
			return nil, err
		}
		out = append(out, &tx)
	}
	return out, nil
}

// DeleteTransactions drops a policy's ledger in batches
func (s *ReadModelStore) DeleteTransactions(ctx context.Context, tenant valueobjects.TenantID, policyID valueobjects.AggregateID) error {
	pk := ledgerPK(tenant, policyID)
	items, err := s.query(ctx, pk, nil)
	if err != nil {
		return apperrors.NewDatabaseError("list transactions", err)
	}

	requests := make([]types.WriteRequest, 0, len(items))
	for _, item := range items {
		requests = append(requests, types.WriteRequest{DeleteRequest: &types.DeleteRequest{
			Key: map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]},
		}})
	}
	for start := 0; start < len(requests); start += maxBatchWrite {
		end := start + maxBatchWrite
		if end > len(requests) {
			end = len(requests)
		}
		pending := map[string][]types.WriteRequest{s.tableName: requests[start:end]}
		for len(pending[s.tableName]) > 0 {
			out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return apperrors.NewDatabaseError("delete transactions", err)
			}
			pending = out.UnprocessedItems
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetUserSummary returns the summary or a NOT_FOUND error
func (s *ReadModelStore) GetUserSummary(ctx context.Context, tenant valueobjects.TenantID, id valueobjects.AggregateID) (*readmodels.UserSummary, error) {
	var summary readmodels.UserSummary
	if err := s.get(ctx, usersPK(tenant), "USER#"+id.String(), "user summary", &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// PutUserSummary upserts a summary unless the stored row is as new
func (s *ReadModelStore) PutUserSummary(ctx context.Context, summary *readmodels.UserSummary) error {
	return s.put(ctx, ReadModelItem{
		PK:           usersPK(summary.TenantID),
		SK:           "USER#" + summary.UserID.String(),
		EntityType:   "user_summary",
		LastSequence: summary.LastSequence,
	}, summary, "LastSequence", summary.LastSequence)
}

// ListUserSummaries lists a tenant's users
func (s *ReadModelStore) ListUserSummaries(ctx context.Context, tenant valueobjects.TenantID) ([]*readmodels.UserSummary, error) {
	items, err := s.query(ctx, usersPK(tenant), nil)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list user summaries", err)
	}
	out := make([]*readmodels.UserSummary, 0, len(items))
	for _, raw := range items {
		var summary readmodels.UserSummary
		if err := decodeRow(raw, &summary); err != nil {
			return nil, err
		}
		out = append(out, &summary)
	}
	return out, nil
}

// DeleteUserSummary removes a summary before a rebuild
func (s *ReadModelStore) DeleteUserSummary(ctx context.Context, tenant valueobjects.TenantID, id valueobjects.AggregateID) error {
	return s.delete(ctx, usersPK(tenant), "USER#"+id.String())
}

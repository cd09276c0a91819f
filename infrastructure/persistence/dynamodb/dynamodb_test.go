package dynamodb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"policyhub-backend/application/ports"
	"policyhub-backend/application/readmodels"
	"policyhub-backend/domain/core/aggregates"
	"policyhub-backend/domain/core/valueobjects"
	"policyhub-backend/domain/events"
	"policyhub-backend/domain/ledger"
	"policyhub-backend/pkg/clock"
	apperrors "policyhub-backend/pkg/errors"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(in)
	out, _ := args.Get(0).(*dynamodb.GetItemOutput)
	return out, args.Error(1)
}

func (m *mockAPI) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(in)
	out, _ := args.Get(0).(*dynamodb.PutItemOutput)
	return out, args.Error(1)
}

func (m *mockAPI) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	args := m.Called(in)
	out, _ := args.Get(0).(*dynamodb.UpdateItemOutput)
	return out, args.Error(1)
}

func (m *mockAPI) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	args := m.Called(in)
	out, _ := args.Get(0).(*dynamodb.DeleteItemOutput)
	return out, args.Error(1)
}

func (m *mockAPI) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	args := m.Called(in)
	out, _ := args.Get(0).(*dynamodb.QueryOutput)
	return out, args.Error(1)
}

func (m *mockAPI) BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	args := m.Called(in)
	out, _ := args.Get(0).(*dynamodb.BatchWriteItemOutput)
	return out, args.Error(1)
}

func (m *mockAPI) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	args := m.Called(in)
	out, _ := args.Get(0).(*dynamodb.TransactWriteItemsOutput)
	return out, args.Error(1)
}

var (
	testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	userOne = valueobjects.NewStreamID("acme", aggregates.UserType, "user-1")
)

func newStore(api *mockAPI) *EventStore {
	return NewEventStore(api, EventStoreConfig{TableName: "events"}, events.DefaultRegistry(), clock.NewManual(testNow), zap.NewNop())
}

func registered(t *testing.T) []events.Event {
	t.Helper()
	user := aggregates.NewUser(userOne, clock.NewManual(testNow))
	require.NoError(t, user.Initialize("ada@example.com", "Ada"))
	require.NoError(t, user.Activate())
	return user.Uncommitted()
}

func TestIsConditionFailed(t *testing.T) {
	code := "ConditionalCheckFailed"
	none := "None"
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"single write", &types.ConditionalCheckFailedException{}, true},
		{"cancelled transaction", &types.TransactionCanceledException{
			CancellationReasons: []types.CancellationReason{{Code: &none}, {Code: &code}},
		}, true},
		{"cancelled for another reason", &types.TransactionCanceledException{
			CancellationReasons: []types.CancellationReason{{Code: &none}},
		}, false},
		{"generic api error", &smithy.GenericAPIError{Code: "ConditionalCheckFailedException"}, true},
		{"throttled", &smithy.GenericAPIError{Code: "ThrottlingException"}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isConditionFailed(tt.err))
		})
	}
}

func TestAppendNewStream(t *testing.T) {
	api := new(mockAPI)
	store := newStore(api)
	evts := registered(t)

	var captured *dynamodb.TransactWriteItemsInput
	api.On("TransactWriteItems", mock.Anything).Run(func(args mock.Arguments) {
		captured = args.Get(0).(*dynamodb.TransactWriteItemsInput)
	}).Return(&dynamodb.TransactWriteItemsOutput{}, nil)

	version, err := store.Append(context.Background(), userOne, 0, evts)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	require.Len(t, captured.TransactItems, 3)
	head := captured.TransactItems[0].Put
	require.NotNil(t, head)
	assert.Equal(t, "attribute_not_exists(PK)", aws.ToString(head.ConditionExpression))
	var headItem HeadItem
	require.NoError(t, attributevalue.UnmarshalMap(head.Item, &headItem))
	assert.Equal(t, 2, headItem.Version)
	assert.Equal(t, "STREAMS#acme#user", headItem.StreamPK)

	var first EventItem
	require.NoError(t, attributevalue.UnmarshalMap(captured.TransactItems[1].Put.Item, &first))
	assert.Equal(t, "STREAM#acme#user#user-1", first.PK)
	assert.Equal(t, "EVENT#0000000000", first.SK)
	assert.Equal(t, string(ProjectionStatusPending), first.ProjectionStatus)
	assert.Equal(t, outboxPending, first.OutboxPK)
	assert.Contains(t, first.Data, "ada@example.com")
}

func TestAppendExistingStreamConditionsOnHead(t *testing.T) {
	api := new(mockAPI)
	store := newStore(api)
	evts := registered(t)[1:]

	var captured *dynamodb.TransactWriteItemsInput
	api.On("TransactWriteItems", mock.Anything).Run(func(args mock.Arguments) {
		captured = args.Get(0).(*dynamodb.TransactWriteItemsInput)
	}).Return(&dynamodb.TransactWriteItemsOutput{}, nil)

	version, err := store.Append(context.Background(), userOne, 1, evts)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	update := captured.TransactItems[0].Update
	require.NotNil(t, update)
	assert.NotEmpty(t, aws.ToString(update.ConditionExpression))
	assert.Contains(t, update.ExpressionAttributeNames, "#0")
}

func TestAppendConflictReportsActualVersion(t *testing.T) {
	api := new(mockAPI)
	store := newStore(api)
	code := "ConditionalCheckFailed"

	api.On("TransactWriteItems", mock.Anything).Return(nil, &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{{Code: &code}},
	})
	head, err := attributevalue.MarshalMap(HeadItem{PK: streamPK(userOne), SK: headSK, Version: 4})
	require.NoError(t, err)
	api.On("GetItem", mock.Anything).Return(&dynamodb.GetItemOutput{Item: head}, nil)

	_, err = store.Append(context.Background(), userOne, 0, registered(t))

	require.Error(t, err)
	assert.True(t, apperrors.IsConcurrencyConflict(err))
	assert.Equal(t, 4, apperrors.GetAppError(err).Details["actual_version"])
}

func TestAppendRejectsGaps(t *testing.T) {
	store := newStore(new(mockAPI))
	_, err := store.Append(context.Background(), userOne, 3, registered(t))
	assert.True(t, apperrors.IsValidation(err))
}

func TestLoadDecodesPages(t *testing.T) {
	api := new(mockAPI)
	store := newStore(api)
	evts := registered(t)
	records, err := events.ToRecords(events.DefaultRegistry(), evts)
	require.NoError(t, err)

	page := func(rec events.Record) map[string]types.AttributeValue {
		item, err := attributevalue.MarshalMap(toItem(rec))
		require.NoError(t, err)
		return item
	}
	lastKey := map[string]types.AttributeValue{"PK": stringAttr("x")}
	api.On("Query", mock.MatchedBy(func(in *dynamodb.QueryInput) bool { return in.ExclusiveStartKey == nil })).
		Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{page(records[0])}, LastEvaluatedKey: lastKey}, nil).Once()
	api.On("Query", mock.MatchedBy(func(in *dynamodb.QueryInput) bool { return in.ExclusiveStartKey != nil })).
		Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{page(records[1])}}, nil).Once()

	loaded, err := store.Load(context.Background(), userOne)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, events.KindUserInitialized, loaded[0].Kind)
	assert.Equal(t, 1, loaded[1].Sequence)
	assert.True(t, loaded[0].Timestamp.Equal(evts[0].Timestamp))
	api.AssertExpectations(t)
}

func TestMarkProjectedRemovesOutboxKeys(t *testing.T) {
	api := new(mockAPI)
	store := newStore(api)

	var captured []*dynamodb.UpdateItemInput
	api.On("UpdateItem", mock.Anything).Run(func(args mock.Arguments) {
		captured = append(captured, args.Get(0).(*dynamodb.UpdateItemInput))
	}).Return(&dynamodb.UpdateItemOutput{}, nil)

	require.NoError(t, store.MarkProjected(context.Background(), registered(t)))
	require.Len(t, captured, 2)
	assert.Contains(t, aws.ToString(captured[0].UpdateExpression), "REMOVE")
	assert.Equal(t, "EVENT#0000000001", captured[1].Key["SK"].(*types.AttributeValueMemberS).Value)
}

func TestLockProvider(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(testNow)

	t.Run("held lock", func(t *testing.T) {
		api := new(mockAPI)
		api.On("PutItem", mock.Anything).Return(nil, &types.ConditionalCheckFailedException{})
		_, err := NewLockProvider(api, "locks", clk, zap.NewNop()).TryAcquire(ctx, "k", "owner", time.Second)
		assert.ErrorIs(t, err, ports.ErrLockHeld)
	})

	t.Run("acquire and release", func(t *testing.T) {
		api := new(mockAPI)
		provider := NewLockProvider(api, "locks", clk, zap.NewNop())
		api.On("PutItem", mock.Anything).Return(&dynamodb.PutItemOutput{}, nil)

		lease, err := provider.TryAcquire(ctx, "k", "owner", time.Second)
		require.NoError(t, err)
		assert.Equal(t, testNow.Add(time.Second), lease.ExpiresAt)

		api.On("DeleteItem", mock.MatchedBy(func(in *dynamodb.DeleteItemInput) bool {
			return in.ExpressionAttributeValues[":token"].(*types.AttributeValueMemberS).Value == lease.Token
		})).Return(&dynamodb.DeleteItemOutput{}, nil)
		require.NoError(t, provider.Release(ctx, lease))
	})

	t.Run("renew after takeover", func(t *testing.T) {
		api := new(mockAPI)
		api.On("UpdateItem", mock.Anything).Return(nil, &types.ConditionalCheckFailedException{})
		_, err := NewLockProvider(api, "locks", clk, zap.NewNop()).Renew(ctx, ports.Lease{Key: "k", Token: "old"}, time.Second)
		assert.ErrorIs(t, err, ports.ErrLockNotHeld)
	})
}

func TestFindTransactionFiltersById(t *testing.T) {
	api := new(mockAPI)
	store := NewReadModelStore(api, "read_models", zap.NewNop())

	api.On("Query", mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return in.FilterExpression != nil
	})).Return(&dynamodb.QueryOutput{}, nil)

	_, err := store.FindTransaction(context.Background(), "acme", "policy-1", "tx-9")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestReadModelPutsAreConditional(t *testing.T) {
	ctx := context.Background()
	summary := readmodels.NewPolicySummary("acme", "policy-1")
	summary.LastSequence = 3

	t.Run("guards on last sequence", func(t *testing.T) {
		api := new(mockAPI)
		api.On("PutItem", mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
			seq, ok := in.ExpressionAttributeValues[":0"].(*types.AttributeValueMemberN)
			return in.ConditionExpression != nil && ok && seq.Value == "3"
		})).Return(&dynamodb.PutItemOutput{}, nil)

		require.NoError(t, NewReadModelStore(api, "read_models", zap.NewNop()).PutPolicySummary(ctx, summary))
		api.AssertExpectations(t)
	})

	t.Run("stale write", func(t *testing.T) {
		api := new(mockAPI)
		api.On("PutItem", mock.Anything).Return(nil, &types.ConditionalCheckFailedException{})

		store := NewReadModelStore(api, "read_models", zap.NewNop())
		assert.ErrorIs(t, store.PutPolicySummary(ctx, summary), ports.ErrStaleWrite)
		err := store.UpsertTransaction(ctx, &ledger.PolicyTransaction{TransactionID: "tx-1", TenantID: "acme", PolicyID: "policy-1", EventSequence: 1})
		assert.ErrorIs(t, err, ports.ErrStaleWrite)
	})

	t.Run("ledger guards on applied count", func(t *testing.T) {
		api := new(mockAPI)
		api.On("PutItem", mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
			for _, name := range in.ExpressionAttributeNames {
				if name == "Applied" {
					return true
				}
			}
			return false
		})).Return(&dynamodb.PutItemOutput{}, nil)

		tx := &ledger.PolicyTransaction{TransactionID: "tx-1", TenantID: "acme", PolicyID: "policy-1", EventSequence: 1}
		require.NoError(t, NewReadModelStore(api, "read_models", zap.NewNop()).UpsertTransaction(ctx, tx))
		api.AssertExpectations(t)
	})
}

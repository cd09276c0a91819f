package dynamodb

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"policyhub-backend/application/ports"
	"policyhub-backend/pkg/clock"
)

// LockProvider implements leased locks with DynamoDB conditional writes.
// Expired leases are taken over on acquire; the TTL attribute lets DynamoDB
// sweep abandoned ones.
type LockProvider struct {
	client    API
	tableName string
	clock     clock.Clock
	logger    *zap.Logger
}

var _ ports.LockProvider = (*LockProvider)(nil)

// NewLockProvider creates a new distributed lock provider
func NewLockProvider(client API, tableName string, clk clock.Clock, logger *zap.Logger) *LockProvider {
	if clk == nil {
		clk = clock.System()
	}
	return &LockProvider{client: client, tableName: tableName, clock: clk, logger: logger}
}

func lockKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": stringAttr("LOCK#" + key),
		"SK": stringAttr("LOCK"),
	}
}

func millis(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.UnixMilli(), 10)}
}

// TryAcquire writes the lease if the key is free or its lease expired
func (p *LockProvider) TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (ports.Lease, error) {
	now := p.clock.Now()
	lease := ports.Lease{
		Key:        key,
		Owner:      owner,
		Token:      uuid.New().String(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	item := lockKey(key)
	item["Owner"] = stringAttr(owner)
	item["Token"] = stringAttr(lease.Token)
	item["AcquiredAt"] = millis(now)
	item["ExpiresAt"] = millis(lease.ExpiresAt)
	item["TTL"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(lease.ExpiresAt.Add(time.Hour).Unix(), 10)}

	_, err := p.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(p.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR ExpiresAt < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": millis(now),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ports.Lease{}, ports.ErrLockHeld
		}
		return ports.Lease{}, fmt.Errorf("failed to acquire lock: %w", err)
	}

	p.logger.Debug("Lock acquired",
		zap.String("key", key),
		zap.String("owner", owner),
		zap.Duration("ttl", ttl))
	return lease, nil
}

// Release deletes the lease if its token is still ours
func (p *LockProvider) Release(ctx context.Context, lease ports.Lease) error {
	_, err := p.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(p.tableName),
		Key:                 lockKey(lease.Key),
		ConditionExpression: aws.String("#token = :token"),
		ExpressionAttributeNames: map[string]string{
			"#token": "Token",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":token": stringAttr(lease.Token),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ports.ErrLockNotHeld
		}
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Renew pushes the expiry of a lease that is still ours and still valid
func (p *LockProvider) Renew(ctx context.Context, lease ports.Lease, ttl time.Duration) (ports.Lease, error) {
	now := p.clock.Now()
	expiresAt := now.Add(ttl)

	cond := expression.Name("Token").Equal(expression.Value(lease.Token)).
		And(expression.Name("ExpiresAt").GreaterThan(expression.Value(now.UnixMilli())))
	update := expression.Set(expression.Name("ExpiresAt"), expression.Value(expiresAt.UnixMilli())).
		Set(expression.Name("TTL"), expression.Value(expiresAt.Add(time.Hour).Unix()))
	expr, err := expression.NewBuilder().WithCondition(cond).WithUpdate(update).Build()
	if err != nil {
		return ports.Lease{}, fmt.Errorf("failed to build renew expression: %w", err)
	}

	_, err = p.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(p.tableName),
		Key:                       lockKey(lease.Key),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if isConditionFailed(err) {
			return ports.Lease{}, ports.ErrLockNotHeld
		}
		return ports.Lease{}, fmt.Errorf("failed to renew lock: %w", err)
	}

	lease.ExpiresAt = expiresAt
	return lease, nil
}

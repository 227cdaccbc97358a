// Package dynamo implements the idempotency ledger store on DynamoDB.
package dynamo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/go-faster/errors"

	"github.com/maiztros/pos/internal/domain/idempotency"
)

const (
	keyAttr = "idempotency_key"

	condNotExists    = "attribute_not_exists(idempotency_key)"
	condUnlinked     = "attribute_exists(idempotency_key) AND attribute_not_exists(order_id)"
	condExists       = "attribute_exists(idempotency_key)"
	condNotLinked    = "attribute_not_exists(order_id)"
	condReclaimable  = "attribute_not_exists(order_id) AND request_hash = :h AND created_at < :stale"
	updateLink       = "SET order_id = :o, last_used_at = :t, expires_at = :e"
	updateTouch      = "SET last_used_at = :t, expires_at = :e"
	updateReclaim    = "SET created_at = :now, last_used_at = :now"
	conditionalCheck = "ConditionalCheckFailedException"
)

// DynamoDBAPI is the subset of the DynamoDB client used by the store.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// NewClient loads the default AWS configuration for region. A non-empty
// endpoint overrides the service endpoint, e.g. for DynamoDB Local.
func NewClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// item is the persisted shape. Times are unix milliseconds so that the
// reclaim condition can compare them; expires_at is the table TTL in epoch
// seconds.
type item struct {
	Key         string `dynamodbav:"idempotency_key"`
	RequestHash string `dynamodbav:"request_hash"`
	OrderID     string `dynamodbav:"order_id,omitempty"`
	CreatedAt   int64  `dynamodbav:"created_at"`
	LastUsedAt  int64  `dynamodbav:"last_used_at"`
	ExpiresAt   int64  `dynamodbav:"expires_at"`
}

var _ idempotency.Store = (*IdempotencyStore)(nil)

// IdempotencyStore implements idempotency.Store with conditional writes.
type IdempotencyStore struct {
	client    DynamoDBAPI
	table     string
	retention time.Duration
}

// NewIdempotencyStore returns a store over table. Records expire through the
// table TTL once unused for retention.
func NewIdempotencyStore(client DynamoDBAPI, table string, retention time.Duration) *IdempotencyStore {
	return &IdempotencyStore{
		client:    client,
		table:     table,
		retention: retention,
	}
}

func (s *IdempotencyStore) key(k string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		keyAttr: &types.AttributeValueMemberS{Value: k},
	}
}

func millis(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.UnixMilli(), 10)}
}

func (s *IdempotencyStore) expiry(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Add(s.retention).Unix(), 10)}
}

// Get returns the record for key.
func (s *IdempotencyStore) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, idempotency.ErrNotFound
	}

	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &idempotency.Record{
		Key:         it.Key,
		RequestHash: it.RequestHash,
		OrderID:     it.OrderID,
		CreatedAt:   time.UnixMilli(it.CreatedAt).UTC(),
		LastUsedAt:  time.UnixMilli(it.LastUsedAt).UTC(),
	}, nil
}

// Reserve puts rec unless the key exists.
func (s *IdempotencyStore) Reserve(ctx context.Context, rec idempotency.Record) (bool, error) {
	av, err := attributevalue.MarshalMap(item{
		Key:         rec.Key,
		RequestHash: rec.RequestHash,
		CreatedAt:   rec.CreatedAt.UnixMilli(),
		LastUsedAt:  rec.LastUsedAt.UnixMilli(),
		ExpiresAt:   rec.CreatedAt.Add(s.retention).Unix(),
	})
	if err != nil {
		return false, fmt.Errorf("marshal item: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                av,
		ConditionExpression: aws.String(condNotExists),
	})
	if err != nil {
		if conditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("put item: %w", err)
	}
	return true, nil
}

// Link sets order_id on an unlinked record.
func (s *IdempotencyStore) Link(ctx context.Context, key, orderID string) error {
	now := time.Now()
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.key(key),
		UpdateExpression:    aws.String(updateLink),
		ConditionExpression: aws.String(condUnlinked),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":o": &types.AttributeValueMemberS{Value: orderID},
			":t": millis(now),
			":e": s.expiry(now),
		},
	})
	if err != nil {
		if conditionFailed(err) {
			return idempotency.ErrNotFound
		}
		return fmt.Errorf("update item (link): %w", err)
	}
	return nil
}

// Touch refreshes last_used_at and the TTL.
func (s *IdempotencyStore) Touch(ctx context.Context, key string, at time.Time) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.key(key),
		UpdateExpression:    aws.String(updateTouch),
		ConditionExpression: aws.String(condExists),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": millis(at),
			":e": s.expiry(at),
		},
	})
	if err != nil {
		if conditionFailed(err) {
			return idempotency.ErrNotFound
		}
		return fmt.Errorf("update item (touch): %w", err)
	}
	return nil
}

// Release deletes the record unless it is linked.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.key(key),
		ConditionExpression: aws.String(condNotLinked),
	})
	if err != nil && !conditionFailed(err) {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// Reclaim re-arms an abandoned reservation with a conditional update.
func (s *IdempotencyStore) Reclaim(ctx context.Context, key, hash string, staleBefore, now time.Time) (bool, error) {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.key(key),
		UpdateExpression:    aws.String(updateReclaim),
		ConditionExpression: aws.String(condReclaimable),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":h":     &types.AttributeValueMemberS{Value: hash},
			":stale": millis(staleBefore),
			":now":   millis(now),
		},
	})
	if err != nil {
		if conditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("update item (reclaim): %w", err)
	}
	return true, nil
}

func conditionFailed(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == conditionalCheck
}

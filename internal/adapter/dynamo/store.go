// Package dynamo implements the key-value store port on a DynamoDB table.
//
// Table layout: partition key "key" (S), string attribute "value" and an
// optional numeric "expires_at" in Unix seconds, which should be enabled as
// the table's TTL attribute. DynamoDB deletes expired items lazily, so reads
// check expires_at themselves.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"chatservice/internal/domain"
)

const (
	attrKey     = "key"
	attrValue   = "value"
	attrExpires = "expires_at"

	maxIncrAttempts = 5
)

// ErrMalformedItem reports an item whose attributes do not have the
// layout Store writes.
var ErrMalformedItem = errors.New("dynamo: malformed item")

// dynamodbAPI is the minimal DynamoDB interface required by Store.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Store is a domain.KeyValueStore on DynamoDB.
type Store struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

var _ domain.KeyValueStore = (*Store)(nil)

// New creates a Store for tableName.
func New(api dynamodbAPI, tableName string) (*Store, error) {
	if api == nil {
		return nil, errors.New("dynamo: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("dynamo: table name must not be empty")
	}
	return &Store{api: api, tableName: tableName, now: time.Now}, nil
}

type item struct {
	value   string
	expires int64 // 0 means no expiry
}

// Get returns the live value at key. A malformed item reads as absent.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	it, ok, err := s.get(ctx, key)
	if errors.Is(err, ErrMalformedItem) {
		return "", false, nil
	}
	if err != nil || !ok {
		return "", false, err
	}
	return it.value, true, nil
}

// Set writes value at key with the given TTL.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	av := map[string]types.AttributeValue{
		attrKey:   &types.AttributeValueMemberS{Value: key},
		attrValue: &types.AttributeValueMemberS{Value: value},
	}
	if ttl > 0 {
		av[attrExpires] = &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Add(ttl).Unix(), 10)}
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("%w: dynamo put %s: %w", domain.ErrStoreUnavailable, key, err)
	}
	return nil
}

// Incr increments the integer at key with a conditional write, retrying
// when another writer got there first. The item's expiry is preserved; an
// absent or expired key starts from 0 with no expiry.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	for attempt := 0; attempt < maxIncrAttempts; attempt++ {
		it, ok, err := s.get(ctx, key)
		if err != nil {
			return 0, err
		}

		var n int64
		in := &dynamodb.UpdateItemInput{
			TableName: aws.String(s.tableName),
			Key:       map[string]types.AttributeValue{attrKey: &types.AttributeValueMemberS{Value: key}},
			ExpressionAttributeNames: map[string]string{
				"#v": attrValue,
			},
		}
		if ok {
			n, err = strconv.ParseInt(it.value, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("%w: incr %s: value is not an integer", ErrMalformedItem, key)
			}
			in.UpdateExpression = aws.String("SET #v = :new")
			in.ConditionExpression = aws.String("#v = :old")
			in.ExpressionAttributeValues = map[string]types.AttributeValue{
				":new": &types.AttributeValueMemberS{Value: strconv.FormatInt(n+1, 10)},
				":old": &types.AttributeValueMemberS{Value: it.value},
			}
		} else {
			in.UpdateExpression = aws.String("SET #v = :new REMOVE #e")
			in.ConditionExpression = aws.String("attribute_not_exists(#k) OR #e <= :now")
			in.ExpressionAttributeNames["#k"] = attrKey
			in.ExpressionAttributeNames["#e"] = attrExpires
			in.ExpressionAttributeValues = map[string]types.AttributeValue{
				":new": &types.AttributeValueMemberS{Value: "1"},
				":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)},
			}
		}

		_, err = s.api.UpdateItem(ctx, in)
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("%w: dynamo update %s: %w", domain.ErrStoreUnavailable, key, err)
		}
		return n + 1, nil
	}
	return 0, fmt.Errorf("%w: dynamo incr %s: too much contention", domain.ErrStoreUnavailable, key)
}

func (s *Store) get(ctx context.Context, key string) (item, bool, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            map[string]types.AttributeValue{attrKey: &types.AttributeValueMemberS{Value: key}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return item{}, false, fmt.Errorf("%w: dynamo get %s: %w", domain.ErrStoreUnavailable, key, err)
	}
	if out == nil || len(out.Item) == 0 {
		return item{}, false, nil
	}

	var it item
	if e, ok := out.Item[attrExpires]; ok {
		n, ok := e.(*types.AttributeValueMemberN)
		if !ok {
			return item{}, false, fmt.Errorf("%w: %s: %s is not a number", ErrMalformedItem, key, attrExpires)
		}
		it.expires, err = strconv.ParseInt(n.Value, 10, 64)
		if err != nil {
			return item{}, false, fmt.Errorf("%w: %s: %s: %w", ErrMalformedItem, key, attrExpires, err)
		}
	}
	if it.expires != 0 && it.expires <= s.now().Unix() {
		return item{}, false, nil
	}
	v, ok := out.Item[attrValue].(*types.AttributeValueMemberS)
	if !ok {
		return item{}, false, fmt.Errorf("%w: %s: %s is not a string", ErrMalformedItem, key, attrValue)
	}
	it.value = v.Value
	return it, true, nil
}

// Package dynamo persists histories and workflow runs in a single DynamoDB table.
//
// Items use a composite key: PK is "SESSION#<id>" or "RUN#<id>", and SK is
// "HIST" or "RUN" respectively. The payload is a JSON string attribute.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/aretw0/parley/pkg/domain"
)

const (
	pkSession = "SESSION#"
	pkRun     = "RUN#"
	skHistory = "HIST"
	skRun     = "RUN"
)

// dynamodbAPI is the minimal DynamoDB interface required by the stores.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// NewClient builds a DynamoDB client from the default AWS credential chain.
// A non-empty endpoint overrides the service URL (DynamoDB Local, LocalStack).
func NewClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("dynamo: load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

type table struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
}

// Option configures a DynamoDB-backed store.
type Option func(*table)

// WithTTL stamps every item with a "ttl" epoch attribute for DynamoDB expiry.
func WithTTL(ttl time.Duration) Option {
	return func(t *table) {
		t.ttl = ttl
	}
}

func newTable(api dynamodbAPI, tableName string, opts []Option) (table, error) {
	if api == nil {
		return table{}, errors.New("dynamo: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return table{}, errors.New("dynamo: table name must not be empty")
	}
	t := table{api: api, tableName: tableName}
	for _, opt := range opts {
		opt(&t)
	}
	return t, nil
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func (t table) get(ctx context.Context, pk, sk, attr string) (string, bool, error) {
	out, err := t.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(t.tableName),
		Key:            key(pk, sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", false, fmt.Errorf("%w: dynamo get %s: %v", domain.ErrStorageUnavailable, pk, err)
	}
	if out == nil || len(out.Item) == 0 {
		return "", false, nil
	}
	if t.ttl > 0 {
		if exp, err := intAttr(out.Item, "ttl"); err == nil && exp < time.Now().Unix() {
			// DynamoDB deletes expired items lazily
			return "", false, nil
		}
	}
	payload, err := strAttr(out.Item, attr)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", domain.ErrCorruptState, err)
	}
	return payload, true, nil
}

func (t table) put(ctx context.Context, pk, sk, idAttr, id, attr, payload string) error {
	item := key(pk, sk)
	item[idAttr] = &types.AttributeValueMemberS{Value: id}
	item[attr] = &types.AttributeValueMemberS{Value: payload}
	item["updatedAt"] = &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)}
	if t.ttl > 0 {
		item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Add(t.ttl).Unix(), 10)}
	}

	_, err := t.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(t.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("%w: dynamo put %s: %v", domain.ErrStorageUnavailable, pk, err)
	}
	return nil
}

func (t table) delete(ctx context.Context, pk, sk string) error {
	_, err := t.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(t.tableName),
		Key:       key(pk, sk),
	})
	if err != nil {
		return fmt.Errorf("%w: dynamo delete %s: %v", domain.ErrStorageUnavailable, pk, err)
	}
	return nil
}

// list scans every item with the given sort key and returns the id attribute.
func (t table) list(ctx context.Context, sk, idAttr string) ([]string, error) {
	ids := []string{}
	var startKey map[string]types.AttributeValue
	for {
		out, err := t.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(t.tableName),
			FilterExpression: aws.String("SK = :sk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":sk": &types.AttributeValueMemberS{Value: sk},
			},
			ProjectionExpression: aws.String(idAttr),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: dynamo scan: %v", domain.ErrStorageUnavailable, err)
		}
		for _, item := range out.Items {
			id, err := strAttr(item, idAttr)
			if err != nil {
				continue
			}
			ids = append(ids, id)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return ids, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// Store implements ports.HistoryStore on DynamoDB.
type Store struct {
	table
}

// New creates a history store on the given table.
func New(api dynamodbAPI, tableName string, opts ...Option) (*Store, error) {
	t, err := newTable(api, tableName, opts)
	if err != nil {
		return nil, err
	}
	return &Store{table: t}, nil
}

// Save replaces the session's history item.
func (s *Store) Save(ctx context.Context, sessionID string, history domain.History) error {
	data, err := domain.EncodeHistory(history)
	if err != nil {
		return fmt.Errorf("dynamo: marshal history: %w", err)
	}
	return s.put(ctx, pkSession+sessionID, skHistory, "sessionId", sessionID, "hist", string(data))
}

// Load reads the session's history item.
func (s *Store) Load(ctx context.Context, sessionID string) (domain.History, error) {
	payload, ok, err := s.get(ctx, pkSession+sessionID, skHistory, "hist")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return domain.DecodeHistory([]byte(payload))
}

// Delete removes the session's history item.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	return s.delete(ctx, pkSession+sessionID, skHistory)
}

// List scans the table for history items.
func (s *Store) List(ctx context.Context) ([]string, error) {
	return s.list(ctx, skHistory, "sessionId")
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("dynamo: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("dynamo: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("dynamo: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("dynamo: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("dynamo: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

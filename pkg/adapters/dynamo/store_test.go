package dynamo

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// fakeDynamo is a map-backed table keyed by PK|SK. Scan pages two items at a time.
type fakeDynamo struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue
	order    []string
	err      error
	scans    int
	lastScan *dynamodb.ScanInput
}

func newFake() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func itemKey(k map[string]types.AttributeValue) string {
	return k["PK"].(*types.AttributeValueMemberS).Value + "|" + k["SK"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	k := itemKey(in.Item)
	if _, ok := f.items[k]; !ok {
		f.order = append(f.order, k)
	}
	f.items[k] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	k := itemKey(in.Key)
	delete(f.items, k)
	for i, o := range f.order {
		if o == k {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.scans++
	f.lastScan = in

	start := 0
	if in.ExclusiveStartKey != nil {
		start, _ = strconv.Atoi(in.ExclusiveStartKey["offset"].(*types.AttributeValueMemberN).Value)
	}
	want := in.ExpressionAttributeValues[":sk"].(*types.AttributeValueMemberS).Value

	out := &dynamodb.ScanOutput{}
	end := start + 2
	if end > len(f.order) {
		end = len(f.order)
	}
	for _, k := range f.order[start:end] {
		item, ok := f.items[k]
		if !ok || item["SK"].(*types.AttributeValueMemberS).Value != want {
			continue
		}
		out.Items = append(out.Items, item)
	}
	if end < len(f.order) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"offset": &types.AttributeValueMemberN{Value: strconv.Itoa(end)},
		}
	}
	return out, nil
}

func TestDynamoStore_Contract(t *testing.T) {
	store, err := New(newFake(), "parley")
	require.NoError(t, err)
	ports.RunHistoryStoreContract(t, store)
}

func TestDynamoRunStore_Contract(t *testing.T) {
	store, err := NewRunStore(newFake(), "parley")
	require.NoError(t, err)
	ports.RunRunStoreContract(t, store)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "t")
	require.Error(t, err)
	_, err = New(newFake(), "  ")
	require.Error(t, err)
}

func TestDynamoStore_ItemLayout(t *testing.T) {
	db := newFake()
	store, err := New(db, "parley", WithTTL(time.Hour))
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), "abc", domain.History{{User: "q", AI: "a", At: 1}}))

	item := db.items["SESSION#abc|HIST"]
	require.NotNil(t, item)
	require.Equal(t, "abc", item["sessionId"].(*types.AttributeValueMemberS).Value)
	require.JSONEq(t, `[{"user":"q","ai":"a","at":1}]`, item["hist"].(*types.AttributeValueMemberS).Value)

	exp, err := intAttr(item, "ttl")
	require.NoError(t, err)
	require.Greater(t, exp, time.Now().Unix())
}

func TestDynamoStore_ExpiredItemIsMissing(t *testing.T) {
	db := newFake()
	store, err := New(db, "parley", WithTTL(time.Hour))
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), "old", domain.History{}))

	db.items["SESSION#old|HIST"]["ttl"] = &types.AttributeValueMemberN{Value: "1"}

	_, err = store.Load(context.Background(), "old")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestDynamoStore_ListPaginates(t *testing.T) {
	db := newFake()
	store, err := New(db, "parley")
	require.NoError(t, err)
	runs, err := NewRunStore(db, "parley")
	require.NoError(t, err)

	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Save(ctx, id, domain.History{}))
	}
	require.NoError(t, runs.Save(ctx, domain.NewWorkflowRun("r1", "a", "m", domain.ChatSteps, time.Now())))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b", "c"}, ids)
	require.Equal(t, 2, db.scans)
	require.Equal(t, "sessionId", *db.lastScan.ProjectionExpression)
}

func TestDynamoStore_Errors(t *testing.T) {
	db := newFake()
	store, err := New(db, "parley")
	require.NoError(t, err)
	ctx := context.Background()

	db.items["SESSION#bad|HIST"] = map[string]types.AttributeValue{
		"PK":   &types.AttributeValueMemberS{Value: "SESSION#bad"},
		"SK":   &types.AttributeValueMemberS{Value: "HIST"},
		"hist": &types.AttributeValueMemberS{Value: "not json"},
	}
	_, err = store.Load(ctx, "bad")
	require.ErrorIs(t, err, domain.ErrCorruptState)

	db.err = errors.New("throttled")
	_, err = store.Load(ctx, "bad")
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
	require.ErrorIs(t, store.Save(ctx, "x", domain.History{}), domain.ErrStorageUnavailable)
	_, err = store.List(ctx)
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

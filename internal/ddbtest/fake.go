// Package ddbtest provides an in-memory stand-in for the subset of the
// DynamoDB API used by the wide-column store: single-hash-key tables,
// GetItem, UpdateItem and DeleteItem with legacy Expected conditions and
// AttributeUpdates, segmented Scan with pagination, and table provisioning.
//
// It exists for tests only and is not safe as a general emulator.
package ddbtest

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// MaxItemSize mirrors the service's per-item size limit.
const MaxItemSize = 400 * 1024

type table struct {
	hashKey string
	items   map[string]map[string]types.AttributeValue
}

// Fake is an in-memory DynamoDB. The zero value is not usable; call New.
type Fake struct {
	mu       sync.Mutex
	tables   map[string]*table
	throttle map[string]int
	calls    map[string]int

	// OnCall, when set, runs before every request without holding the
	// fake's lock, so it may issue requests of its own.
	OnCall func(op string, input any)
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		tables:   make(map[string]*table),
		throttle: make(map[string]int),
		calls:    make(map[string]int),
	}
}

// AddTable creates an empty table keyed by hashKey.
func (f *Fake) AddTable(name, hashKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[name] = &table{hashKey: hashKey, items: make(map[string]map[string]types.AttributeValue)}
}

// Throttle makes the next n requests of op fail with a throughput error.
func (f *Fake) Throttle(op string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.throttle[op] = n
}

// Calls returns how many requests of op were received, throttled ones included.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Item returns a copy of the stored item with the given encoded hash key.
func (f *Fake) Item(tableName, hashKey string) (map[string]types.AttributeValue, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[tableName]
	if !ok {
		return nil, false
	}
	item, ok := t.items[hashKey]
	return clone(item), ok
}

// Len returns the number of items stored in a table.
func (f *Fake) Len(tableName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tables[tableName]; ok {
		return len(t.items)
	}
	return 0
}

// begin records the call and applies throttling. The caller must not hold mu.
func (f *Fake) begin(op string, input any) error {
	if f.OnCall != nil {
		f.OnCall(op, input)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if f.throttle[op] > 0 {
		f.throttle[op]--
		return &types.ProvisionedThroughputExceededException{Message: aws.String("throttled by ddbtest")}
	}
	return nil
}

func (f *Fake) table(name *string) (*table, error) {
	t, ok := f.tables[aws.ToString(name)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found: " + aws.ToString(name))}
	}
	return t, nil
}

func (t *table) keyOf(key map[string]types.AttributeValue) (string, error) {
	if len(key) != 1 {
		return "", validation("the provided key element does not match the schema")
	}
	s, ok := key[t.hashKey].(*types.AttributeValueMemberS)
	if !ok || s.Value == "" {
		return "", validation("the provided key element does not match the schema")
	}
	return s.Value, nil
}

func validation(msg string) error {
	return &smithy.GenericAPIError{Code: "ValidationException", Message: msg}
}

func consumed(name *string, mode types.ReturnConsumedCapacity) *types.ConsumedCapacity {
	if mode != types.ReturnConsumedCapacityTotal && mode != types.ReturnConsumedCapacityIndexes {
		return nil
	}
	return &types.ConsumedCapacity{TableName: name, CapacityUnits: aws.Float64(1)}
}

// GetItem implements the GetItem request.
func (f *Fake) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if err := f.begin("GetItem", in); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := t.keyOf(in.Key)
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{
		Item:             clone(t.items[k]),
		ConsumedCapacity: consumed(in.TableName, in.ReturnConsumedCapacity),
	}, nil
}

// UpdateItem implements UpdateItem with legacy AttributeUpdates and Expected.
func (f *Fake) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if err := f.begin("UpdateItem", in); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := t.keyOf(in.Key)
	if err != nil {
		return nil, err
	}
	current := t.items[k]
	if err := check(current, in.Expected); err != nil {
		return nil, err
	}

	next := clone(current)
	if next == nil {
		next = clone(in.Key)
	}
	for name, u := range in.AttributeUpdates {
		if name == t.hashKey {
			return nil, validation("cannot update attribute " + name + ", it is part of the key")
		}
		switch u.Action {
		case types.AttributeActionDelete:
			delete(next, name)
		case types.AttributeActionPut, "":
			if u.Value == nil {
				return nil, validation("PUT requires a value")
			}
			next[name] = cloneValue(u.Value)
		default:
			return nil, validation("unsupported action " + string(u.Action))
		}
	}
	if size(next) > MaxItemSize {
		return nil, validation("Item size to update has exceeded the maximum allowed size")
	}
	t.items[k] = next

	out := &dynamodb.UpdateItemOutput{ConsumedCapacity: consumed(in.TableName, in.ReturnConsumedCapacity)}
	switch in.ReturnValues {
	case types.ReturnValueAllNew:
		out.Attributes = clone(next)
	case types.ReturnValueAllOld:
		out.Attributes = clone(current)
	}
	return out, nil
}

// DeleteItem implements DeleteItem with legacy Expected.
func (f *Fake) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if err := f.begin("DeleteItem", in); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := t.keyOf(in.Key)
	if err != nil {
		return nil, err
	}
	current := t.items[k]
	if err := check(current, in.Expected); err != nil {
		return nil, err
	}
	delete(t.items, k)

	out := &dynamodb.DeleteItemOutput{ConsumedCapacity: consumed(in.TableName, in.ReturnConsumedCapacity)}
	if in.ReturnValues == types.ReturnValueAllOld {
		out.Attributes = clone(current)
	}
	return out, nil
}

// Segment returns the scan segment an encoded hash key belongs to.
func Segment(hashKey string, totalSegments int32) int32 {
	if totalSegments <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(hashKey))
	return int32(h.Sum32() % uint32(totalSegments))
}

// Scan implements a paginated, optionally segmented scan. Items are visited
// in encoded hash key order within a segment.
func (f *Fake) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	if err := f.begin("Scan", in); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}

	total := aws.ToInt32(in.TotalSegments)
	segment := aws.ToInt32(in.Segment)
	if total > 0 && (segment < 0 || segment >= total) {
		return nil, validation("segment out of range")
	}

	keys := make([]string, 0, len(t.items))
	for k := range t.items {
		if Segment(k, total) == segment {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ExclusiveStartKey != nil {
		after, err := t.keyOf(in.ExclusiveStartKey)
		if err != nil {
			return nil, err
		}
		start = sort.SearchStrings(keys, after)
		if start < len(keys) && keys[start] == after {
			start++
		}
	}

	limit := int(aws.ToInt32(in.Limit))
	out := &dynamodb.ScanOutput{ConsumedCapacity: consumed(in.TableName, in.ReturnConsumedCapacity)}
	for i := start; i < len(keys); i++ {
		if limit > 0 && len(out.Items) == limit {
			out.LastEvaluatedKey = map[string]types.AttributeValue{
				t.hashKey: &types.AttributeValueMemberS{Value: keys[i-1]},
			}
			break
		}
		out.Items = append(out.Items, clone(t.items[keys[i]]))
	}
	out.Count = int32(len(out.Items))
	out.ScannedCount = out.Count
	return out, nil
}

// DescribeTable reports every known table as ACTIVE.
func (f *Fake) DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if err := f.begin("DescribeTable", in); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	return &dynamodb.DescribeTableOutput{Table: t.describe(in.TableName)}, nil
}

// CreateTable creates a table from the first HASH element of the key schema.
func (f *Fake) CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	if err := f.begin("CreateTable", in); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.TableName)
	if _, exists := f.tables[name]; exists {
		return nil, &types.ResourceInUseException{Message: aws.String("table already exists: " + name)}
	}
	var hashKey string
	for _, e := range in.KeySchema {
		if e.KeyType == types.KeyTypeHash {
			hashKey = aws.ToString(e.AttributeName)
		}
	}
	if hashKey == "" {
		return nil, validation("key schema has no HASH element")
	}
	t := &table{hashKey: hashKey, items: make(map[string]map[string]types.AttributeValue)}
	f.tables[name] = t
	return &dynamodb.CreateTableOutput{TableDescription: t.describe(in.TableName)}, nil
}

func (t *table) describe(name *string) *types.TableDescription {
	return &types.TableDescription{
		TableName:   name,
		TableStatus: types.TableStatusActive,
		ItemCount:   aws.Int64(int64(len(t.items))),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(t.hashKey), KeyType: types.KeyTypeHash},
		},
	}
}

func check(item map[string]types.AttributeValue, expected map[string]types.ExpectedAttributeValue) error {
	for name, e := range expected {
		actual, present := item[name]
		switch {
		case e.Exists != nil && !*e.Exists:
			if present {
				return conditionFailed(name)
			}
		case e.ComparisonOperator == types.ComparisonOperatorNull:
			if present {
				return conditionFailed(name)
			}
		case e.ComparisonOperator == types.ComparisonOperatorNotNull:
			if !present {
				return conditionFailed(name)
			}
		default:
			want := e.Value
			if want == nil && len(e.AttributeValueList) > 0 {
				want = e.AttributeValueList[0]
			}
			if want == nil {
				if !present {
					return conditionFailed(name)
				}
				continue
			}
			if !present || !Equal(actual, want) {
				return conditionFailed(name)
			}
		}
	}
	return nil
}

func conditionFailed(name string) error {
	return &types.ConditionalCheckFailedException{
		Message: aws.String(fmt.Sprintf("the conditional request failed on %s", name)),
	}
}

// Equal compares scalar attribute values.
func Equal(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberB:
		bv, ok := b.(*types.AttributeValueMemberB)
		return ok && bytes.Equal(av.Value, bv.Value)
	default:
		return false
	}
}

func size(item map[string]types.AttributeValue) int {
	n := 0
	for name, v := range item {
		n += len(name)
		switch av := v.(type) {
		case *types.AttributeValueMemberS:
			n += len(av.Value)
		case *types.AttributeValueMemberN:
			n += len(av.Value)
		case *types.AttributeValueMemberB:
			n += len(av.Value)
		}
	}
	return n
}

func cloneValue(v types.AttributeValue) types.AttributeValue {
	if b, ok := v.(*types.AttributeValueMemberB); ok {
		return &types.AttributeValueMemberB{Value: append([]byte{}, b.Value...)}
	}
	return v
}

func clone(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = cloneValue(v)
	}
	return out
}

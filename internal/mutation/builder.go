// Package mutation compiles per-row column changes into conditional
// DynamoDB updates and runs them.
package mutation

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/widerow/internal/codec"
)

// Expectation is the prior state a writer observed for one column.
type Expectation struct {
	// Value is the observed value. Ignored when Absent is set.
	Value []byte

	// Absent means the column was observed not to exist.
	Absent bool
}

// Snapshot maps column names (as strings) to their observed prior state.
// Columns without an entry are written unconditionally.
type Snapshot map[string]Expectation

// Row is one row's pending change.
type Row struct {
	Key       []byte
	Additions []codec.Column
	Deletions [][]byte
	Expected  Snapshot
}

// DeleteOnly reports whether the row removes columns without adding any.
func (r Row) DeleteOnly() bool {
	return len(r.Additions) == 0 && len(r.Deletions) > 0
}

// Empty reports whether the row changes nothing.
func (r Row) Empty() bool {
	return len(r.Additions) == 0 && len(r.Deletions) == 0
}

// AttributeUpdates turns deletions into DELETE actions and additions into
// PUT actions. An addition wins over a deletion of the same column.
func AttributeUpdates(row Row) map[string]types.AttributeValueUpdate {
	updates := make(map[string]types.AttributeValueUpdate, len(row.Additions)+len(row.Deletions))
	for _, name := range row.Deletions {
		updates[codec.EncodeKey(name)] = types.AttributeValueUpdate{Action: types.AttributeActionDelete}
	}
	for _, c := range row.Additions {
		updates[codec.EncodeKey(c.Name)] = types.AttributeValueUpdate{
			Action: types.AttributeActionPut,
			Value:  codec.Value(c.Value),
		}
	}
	return updates
}

// Expected builds the write guard for the columns the row touches. When any
// touched column was observed with a value, the row itself must still exist,
// so the guard also pins the reserved key attribute.
func Expected(row Row) map[string]types.ExpectedAttributeValue {
	expected := make(map[string]types.ExpectedAttributeValue)
	sawValue := false
	add := func(name []byte) {
		attr := codec.EncodeKey(name)
		if _, done := expected[attr]; done {
			return
		}
		e, ok := row.Expected[string(name)]
		if !ok {
			return
		}
		if e.Absent {
			expected[attr] = types.ExpectedAttributeValue{Exists: aws.Bool(false)}
			return
		}
		sawValue = true
		expected[attr] = types.ExpectedAttributeValue{Exists: aws.Bool(true), Value: codec.Value(e.Value)}
	}
	for _, c := range row.Additions {
		add(c.Name)
	}
	for _, name := range row.Deletions {
		add(name)
	}
	if sawValue {
		expected[codec.HashKey] = types.ExpectedAttributeValue{Exists: aws.Bool(true), Value: codec.KeyAttribute(row.Key)}
	}
	if len(expected) == 0 {
		return nil
	}
	return expected
}

// UpdateInput builds the conditional update for one row.
func UpdateInput(table string, row Row) *dynamodb.UpdateItemInput {
	return &dynamodb.UpdateItemInput{
		TableName:              aws.String(table),
		Key:                    codec.ItemKey(row.Key),
		AttributeUpdates:       AttributeUpdates(row),
		Expected:               Expected(row),
		ReturnValues:           types.ReturnValueAllNew,
		ReturnConsumedCapacity: types.ReturnConsumedCapacityTotal,
	}
}

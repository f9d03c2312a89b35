// Package codec converts between wide-column rows and flat DynamoDB items.
//
// An item holds the row key under the reserved HashKey attribute. Every other
// attribute is one column: the attribute name is the base64 encoding of the
// column name and the value is a binary attribute.
package codec

import (
	"bytes"
	"encoding/base64"
	"sort"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// HashKey is the reserved attribute holding the encoded row key.
const HashKey = "hk"

// Column is one decoded column of a row.
type Column struct {
	Name  []byte
	Value []byte
}

// EncodeKey encodes a row key or column name for use as a DynamoDB string.
func EncodeKey(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeKey reverses EncodeKey.
func DecodeKey(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// KeyAttribute returns the attribute value of the reserved key attribute.
func KeyAttribute(key []byte) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: EncodeKey(key)}
}

// ItemKey builds the primary key of the item backing a row.
func ItemKey(key []byte) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{HashKey: KeyAttribute(key)}
}

// Value wraps a column value as a binary attribute.
func Value(v []byte) types.AttributeValue {
	if v == nil {
		v = []byte{}
	}
	return &types.AttributeValueMemberB{Value: v}
}

// RowKey extracts the row key from an item. ok is false when the item carries
// no usable key attribute.
func RowKey(item map[string]types.AttributeValue) (key []byte, ok bool) {
	s, isString := item[HashKey].(*types.AttributeValueMemberS)
	if !isString {
		return nil, false
	}
	key, err := DecodeKey(s.Value)
	if err != nil {
		return nil, false
	}
	return key, true
}

// Columns decodes every column of an item, sorted by unsigned byte order of
// name. The reserved key attribute and attributes that are not valid columns
// are skipped.
func Columns(item map[string]types.AttributeValue) []Column {
	if len(item) == 0 {
		return nil
	}
	cols := make([]Column, 0, len(item))
	for attr, av := range item {
		if attr == HashKey {
			continue
		}
		name, err := DecodeKey(attr)
		if err != nil || len(name) == 0 {
			continue
		}
		var value []byte
		if err := attributevalue.Unmarshal(av, &value); err != nil {
			continue
		}
		cols = append(cols, Column{Name: name, Value: value})
	}
	sort.Slice(cols, func(i, j int) bool {
		return bytes.Compare(cols[i].Name, cols[j].Name) < 0
	})
	return cols
}

// Decode returns the columns of item whose names fall in [start, end), in
// name order, truncated to limit. A nil end is unbounded and a limit <= 0 is
// unlimited. A nil or empty item yields an empty result.
func Decode(item map[string]types.AttributeValue, start, end []byte, limit int) []Column {
	return Slice(Columns(item), start, end, limit)
}

// Slice filters sorted columns to [start, end) and truncates to limit.
func Slice(cols []Column, start, end []byte, limit int) []Column {
	out := make([]Column, 0, len(cols))
	for _, c := range cols {
		if bytes.Compare(c.Name, start) < 0 {
			continue
		}
		if end != nil && bytes.Compare(c.Name, end) >= 0 {
			break
		}
		out = append(out, c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// OnlyKey reports whether item contains the reserved key attribute and
// nothing else.
func OnlyKey(item map[string]types.AttributeValue) bool {
	_, ok := item[HashKey]
	return ok && len(item) == 1
}

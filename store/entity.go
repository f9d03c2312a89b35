package store

import (
	"github.com/jacentio/widerow/internal/codec"
)

// Entry is one column of a row.
type Entry struct {
	Column []byte
	Value  []byte
}

// Consistency selects the read consistency of a query.
type Consistency int

const (
	// ConsistencyDefault follows Config.ForceConsistentRead.
	ConsistencyDefault Consistency = iota

	// ConsistencyStrong always reflects the latest committed write.
	ConsistencyStrong

	// ConsistencyEventual may observe a stale value at lower cost.
	ConsistencyEventual
)

// SliceQuery selects the columns of a row whose names fall in [Start, End),
// compared as unsigned bytes.
type SliceQuery struct {
	// Start is the inclusive lower bound. Nil or empty starts at the first column.
	Start []byte

	// End is the exclusive upper bound. Nil is unbounded.
	End []byte

	// Limit is the maximum number of columns returned (<= 0 = no limit).
	Limit int

	Consistency Consistency
}

// KeySliceQuery is a SliceQuery on one row.
type KeySliceQuery struct {
	Key []byte
	SliceQuery
}

// KeyRangeQuery asks for rows whose keys fall in [KeyStart, KeyEnd). It is
// never supported by this store.
type KeyRangeQuery struct {
	KeyStart []byte
	KeyEnd   []byte
	SliceQuery
}

// Mutation is one row's change: Additions are upserted and Deletions are
// removed. An addition wins over a deletion of the same column.
type Mutation struct {
	Additions []Entry
	Deletions [][]byte
}

// HasAdditions reports whether the mutation adds columns.
func (m Mutation) HasAdditions() bool { return len(m.Additions) > 0 }

// HasDeletions reports whether the mutation removes columns.
func (m Mutation) HasDeletions() bool { return len(m.Deletions) > 0 }

// IsEmpty reports whether the mutation changes nothing.
func (m Mutation) IsEmpty() bool { return !m.HasAdditions() && !m.HasDeletions() }

// validate rejects mutations DynamoDB cannot represent.
func (m Mutation) validate() error {
	for _, e := range m.Additions {
		if len(e.Column) == 0 {
			return invalid("empty column name in additions")
		}
	}
	for _, c := range m.Deletions {
		if len(c) == 0 {
			return invalid("empty column name in deletions")
		}
	}
	return nil
}

func (m Mutation) columns() []codec.Column {
	cols := make([]codec.Column, len(m.Additions))
	for i, e := range m.Additions {
		cols[i] = codec.Column{Name: e.Column, Value: e.Value}
	}
	return cols
}

func toEntries(cols []codec.Column) []Entry {
	entries := make([]Entry, len(cols))
	for i, c := range cols {
		entries[i] = Entry{Column: c.Name, Value: c.Value}
	}
	return entries
}

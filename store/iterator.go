package store

import (
	"context"

	"github.com/jacentio/widerow/internal/scan"
)

// KeyIterator walks the rows of a store in no particular order. Every stored
// row is visited once, including rows with no column inside the query's
// slice; callers skip those if they want.
//
// Always Close a KeyIterator. A parallel scan keeps segment goroutines
// running until it is closed or the context given to GetKeys ends.
type KeyIterator struct {
	it    *scan.Iterator
	table string
}

// Next advances to the next row.
func (k *KeyIterator) Next(ctx context.Context) bool {
	return k.it.Next(ctx)
}

// Key returns the current row key.
func (k *KeyIterator) Key() []byte {
	return k.it.Row().Key
}

// Entries returns the current row's columns within the query's slice.
func (k *KeyIterator) Entries() []Entry {
	return toEntries(k.it.Row().Columns)
}

// Err returns the error that ended iteration, if any.
func (k *KeyIterator) Err() error {
	return wrap("getKeys", k.table, k.it.Err())
}

// Close stops the underlying scan.
func (k *KeyIterator) Close() error {
	return k.it.Close()
}

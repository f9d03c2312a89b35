package store

import (
	"sync"

	"github.com/google/uuid"

	"github.com/jacentio/widerow/internal/mutation"
)

type rowKey struct {
	store string
	key   string
}

// Transaction carries the caller's transaction context: an ID for logging
// and the column values the caller observed, which guard its writes.
//
// A nil *Transaction is valid and means no expectations; recording on it is
// a no-op. The zero value is usable but has no ID.
type Transaction struct {
	id string

	mu       sync.Mutex
	expected map[rowKey]mutation.Snapshot
}

// NewTransaction creates a Transaction with a random ID.
func NewTransaction() *Transaction {
	return &Transaction{
		id:       uuid.NewString(),
		expected: make(map[rowKey]mutation.Snapshot),
	}
}

// ID returns the transaction ID.
func (tx *Transaction) ID() string {
	if tx == nil {
		return ""
	}
	return tx.id
}

// Expect records that column of key in store was observed holding value.
// A later write touching the column succeeds only if it still does.
func (tx *Transaction) Expect(store string, key, column, value []byte) {
	tx.put(store, key, column, mutation.Expectation{Value: append([]byte{}, value...)})
}

// ExpectAbsent records that column of key in store was observed missing.
func (tx *Transaction) ExpectAbsent(store string, key, column []byte) {
	tx.put(store, key, column, mutation.Expectation{Absent: true})
}

func (tx *Transaction) put(store string, key, column []byte, e mutation.Expectation) {
	if tx == nil {
		return
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.expected == nil {
		tx.expected = make(map[rowKey]mutation.Snapshot)
	}
	rk := rowKey{store: store, key: string(key)}
	snap, ok := tx.expected[rk]
	if !ok {
		snap = make(mutation.Snapshot)
		tx.expected[rk] = snap
	}
	snap[string(column)] = e
}

// snapshot copies the expectations recorded for one row.
func (tx *Transaction) snapshot(store string, key []byte) mutation.Snapshot {
	if tx == nil {
		return nil
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	src := tx.expected[rowKey{store: store, key: string(key)}]
	if len(src) == 0 {
		return nil
	}
	snap := make(mutation.Snapshot, len(src))
	for k, v := range src {
		snap[k] = v
	}
	return snap
}

func (tx *Transaction) String() string {
	if tx == nil {
		return "tx(none)"
	}
	return "tx(" + tx.id + ")"
}

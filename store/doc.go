// Package store makes DynamoDB behave like an ordered wide-column store for
// a graph database's storage layer.
//
// Each row is one DynamoDB item keyed by the row key. Columns are the item's
// remaining attributes, kept in unsigned byte order of their names when read.
// DynamoDB has no column ordering, no multi-attribute transactions and only
// per-item conditional writes; this package supplies the rest.
//
// # Item Layout
//
// The table has a single string hash key, "hk":
//
//	hk (S)        | base64(col1) (B) | base64(col2) (B) | ...
//	base64(row)   | value1           | value2           | ...
//
// Rows whose serialized columns exceed DynamoDB's 400 KB item limit are not
// supported and fail with [ErrItemTooLarge].
//
// # Operations
//
//   - [RowStore.GetSlice] reads one row's columns in [start, end), up to a limit
//   - [RowStore.GetSliceMulti] reads many rows concurrently
//   - [RowStore.Mutate] and [Manager.MutateMany] apply conditional updates
//   - [RowStore.GetKeys] iterates every row through a table scan
//   - [RowStore.GetKeyRange] always fails: hash keys have no byte order
//
// # Optimistic Concurrency
//
// Writers record the values they read in a [Transaction]. Each row's update
// is guarded by those values, so a writer succeeds only if nobody changed the
// columns it read. A failed guard surfaces as [ErrWriteConflict] and is never
// retried automatically.
//
// # Errors
//
// Every error leaving the package is a [*BackendError] (or [RowErrors] of them
// for multi-row writes) wrapping one of:
//
//   - [ErrWriteConflict] - a conditional write guard did not hold
//   - [ErrUnsupported] - byte-range key iteration
//   - [ErrItemTooLarge] - the item exceeds the service size limit
//   - [ErrInvalidRequest] - malformed input or request
//   - [ErrRetriesExhausted] - throttling or transient faults outlasted the backoff
package store

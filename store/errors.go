package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jacentio/widerow/internal/retry"
)

var (
	// ErrWriteConflict is returned when a conditional write finds that a column
	// no longer holds the value the writer observed.
	ErrWriteConflict = errors.New("widerow: write conflict")

	// ErrUnsupported is returned for byte-range key iteration, which a
	// hash-partitioned table cannot answer.
	ErrUnsupported = errors.New("widerow: unsupported operation")

	// ErrItemTooLarge is returned when a row exceeds the item size limit.
	ErrItemTooLarge = errors.New("widerow: item too large")

	// ErrInvalidRequest is returned for malformed input or rejected requests.
	ErrInvalidRequest = errors.New("widerow: invalid request")

	// ErrRetriesExhausted is returned when throttling or transient faults
	// persist past the configured backoff.
	ErrRetriesExhausted = errors.New("widerow: retries exhausted")

	// ErrClosed is returned when the Manager has been closed.
	ErrClosed = errors.New("widerow: manager closed")
)

// BackendError is the error type of every failed operation.
type BackendError struct {
	// Op is the failed operation (e.g. "getSlice", "mutate").
	Op string

	// Table is the DynamoDB table involved, if any.
	Table string

	Err error
}

func (e *BackendError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("widerow: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("widerow: %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the whole operation later may succeed.
// Write conflicts are not temporary: the caller must re-read first.
func (e *BackendError) Temporary() bool {
	return errors.Is(e.Err, ErrRetriesExhausted) ||
		errors.Is(e.Err, context.DeadlineExceeded) ||
		errors.Is(e.Err, context.Canceled)
}

// wrap classifies err and wraps it in a BackendError.
func wrap(op, table string, err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Op: op, Table: table, Err: classify(err)}
}

func classify(err error) error {
	for _, sentinel := range []error{ErrWriteConflict, ErrUnsupported, ErrItemTooLarge, ErrInvalidRequest, ErrRetriesExhausted, ErrClosed} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	if errors.Is(err, retry.ErrExhausted) {
		return fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
	}
	switch retry.Classify(err) {
	case retry.Conflict:
		return fmt.Errorf("%w: %w", ErrWriteConflict, err)
	case retry.TooLarge:
		return fmt.Errorf("%w: %w", ErrItemTooLarge, err)
	case retry.Invalid:
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return err
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// RowRef identifies one row of one store.
type RowRef struct {
	Store string
	Key   string
}

// RowErrors reports the rows of a multi-row operation that failed. Rows not
// listed succeeded; there is no cross-row atomicity.
type RowErrors map[RowRef]error

func (e RowErrors) refs() []RowRef {
	refs := make([]RowRef, 0, len(e))
	for ref := range e {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Store != refs[j].Store {
			return refs[i].Store < refs[j].Store
		}
		return refs[i].Key < refs[j].Key
	})
	return refs
}

func (e RowErrors) Error() string {
	refs := e.refs()
	if len(refs) == 0 {
		return "widerow: no row errors"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "widerow: %d row(s) failed", len(refs))
	for i, ref := range refs {
		if i == 3 {
			fmt.Fprintf(&b, "; and %d more", len(refs)-i)
			break
		}
		fmt.Fprintf(&b, "; %s/%x: %v", ref.Store, ref.Key, e[ref])
	}
	return b.String()
}

// Unwrap exposes every row's error to errors.Is and errors.As.
func (e RowErrors) Unwrap() []error {
	refs := e.refs()
	errs := make([]error, len(refs))
	for i, ref := range refs {
		errs[i] = e[ref]
	}
	return errs
}

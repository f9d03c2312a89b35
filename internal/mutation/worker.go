package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/widerow/internal/codec"
	"github.com/jacentio/widerow/internal/retry"
)

// API is the part of the DynamoDB client the workers call.
type API interface {
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Env is what every worker of one store shares.
type Env struct {
	Client API
	Runner *retry.Runner
	Logger *slog.Logger
	Table  string

	// Observe, when set, receives the capacity consumed by each request.
	Observe func(op string, cc *types.ConsumedCapacity)
}

func (e *Env) observe(op string, cc *types.ConsumedCapacity) {
	if e.Observe != nil && cc != nil {
		e.Observe(op, cc)
	}
}

func (e *Env) log() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Env) update(ctx context.Context, input *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
	out, err := retry.Run(ctx, e.Runner, "UpdateItem", func(ctx context.Context) (*dynamodb.UpdateItemOutput, error) {
		return e.Client.UpdateItem(ctx, input)
	})
	if err != nil {
		return nil, err
	}
	e.observe("UpdateItem", out.ConsumedCapacity)
	return out, nil
}

// Worker applies one row's mutation.
type Worker interface {
	// Key is the row the worker writes.
	Key() []byte
	Run(ctx context.Context) error
}

// New picks the worker variant for a row: rows that only delete columns get
// a CleanupWorker, everything else an UpdateWorker. Empty rows yield nil.
func New(env *Env, row Row) Worker {
	if row.Empty() {
		return nil
	}
	input := UpdateInput(env.Table, row)
	if row.DeleteOnly() {
		return &CleanupWorker{env: env, key: row.Key, input: input}
	}
	return &UpdateWorker{env: env, key: row.Key, input: input}
}

// UpdateWorker applies a conditional update. A failed guard is returned to
// the caller and never retried with fresh state.
type UpdateWorker struct {
	env   *Env
	key   []byte
	input *dynamodb.UpdateItemInput
}

// Key returns the row the worker writes.
func (w *UpdateWorker) Key() []byte { return w.key }

// Run sends the conditional update, retrying only transient failures.
func (w *UpdateWorker) Run(ctx context.Context) error {
	_, err := w.env.update(ctx, w.input)
	return err
}

// CleanupWorker applies a deletions-only update and removes the backing item
// once no column is left in it.
type CleanupWorker struct {
	env   *Env
	key   []byte
	input *dynamodb.UpdateItemInput
}

// Key returns the row the worker writes.
func (w *CleanupWorker) Key() []byte { return w.key }

// Run sends the update and, when the row is left with only its key, deletes
// the item. Columns written concurrently between the two requests are put
// back. A delete that still fails after retrying transient errors leaves an
// empty item behind and is only logged; any other delete failure is returned.
func (w *CleanupWorker) Run(ctx context.Context) error {
	out, err := w.env.update(ctx, w.input)
	if err != nil {
		return err
	}
	if !codec.OnlyKey(out.Attributes) {
		return nil
	}

	del, err := retry.Run(ctx, w.env.Runner, "DeleteItem", func(ctx context.Context) (*dynamodb.DeleteItemOutput, error) {
		return w.env.Client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(w.env.Table),
			Key:       codec.ItemKey(w.key),
			Expected: map[string]types.ExpectedAttributeValue{
				codec.HashKey: {Exists: aws.Bool(true), Value: codec.KeyAttribute(w.key)},
			},
			ReturnValues:           types.ReturnValueAllOld,
			ReturnConsumedCapacity: types.ReturnConsumedCapacityTotal,
		})
	})
	switch {
	case err == nil:
	case retry.Classify(err) == retry.Conflict:
		// Someone else already removed the row.
		return nil
	case errors.Is(err, retry.ErrExhausted):
		w.env.log().Warn("empty row left behind",
			"table", w.env.Table,
			"key", codec.EncodeKey(w.key),
			"error", err,
		)
		return nil
	default:
		return fmt.Errorf("delete empty row: %w", err)
	}
	w.env.observe("DeleteItem", del.ConsumedCapacity)

	lost := codec.Columns(del.Attributes)
	if len(lost) == 0 {
		return nil
	}
	return w.restore(ctx, lost)
}

// restore puts back columns a concurrent writer added between the update
// and the delete. Each column is restored on its own and only while it is
// still absent, so a newer write of that column is kept and the others are
// restored regardless.
func (w *CleanupWorker) restore(ctx context.Context, cols []codec.Column) error {
	w.env.log().Warn("restoring columns written during row cleanup",
		"table", w.env.Table,
		"key", codec.EncodeKey(w.key),
		"columns", len(cols),
	)
	var errs []error
	for _, c := range cols {
		input := UpdateInput(w.env.Table, Row{
			Key:       w.key,
			Additions: []codec.Column{c},
			Expected:  Snapshot{string(c.Name): {Absent: true}},
		})
		input.ReturnValues = types.ReturnValueNone
		_, err := w.env.update(ctx, input)
		if err == nil {
			continue
		}
		if retry.Classify(err) == retry.Conflict {
			w.env.log().Debug("restored column superseded by a newer write",
				"table", w.env.Table,
				"key", codec.EncodeKey(w.key),
			)
			continue
		}
		errs = append(errs, fmt.Errorf("restore column %s: %w", codec.EncodeKey(c.Name), err))
	}
	return errors.Join(errs...)
}

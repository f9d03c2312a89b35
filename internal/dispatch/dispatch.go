// Package dispatch fans independent requests out over a bounded pool of
// goroutines and gathers per-task results.
package dispatch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Options controls a fan-out.
type Options struct {
	// Concurrency bounds the number of tasks in flight (<= 0 = unbounded).
	Concurrency int

	// FailFast cancels tasks that have not finished once any task fails.
	// Without it every task runs to completion and failures are only
	// recorded for the task that produced them.
	FailFast bool
}

// Result is the outcome of one task.
type Result[T any] struct {
	Value T
	Err   error
}

// Each runs fn for every index in [0, n) and returns the per-index errors.
// Tasks that never ran because the fan-out was canceled report the context
// error. The second return value is the first failure when FailFast is set,
// otherwise nil.
func Each(ctx context.Context, n int, opts Options, fn func(ctx context.Context, i int) error) ([]error, error) {
	errs := make([]error, n)
	if n == 0 {
		return errs, nil
	}

	var g *errgroup.Group
	gctx := ctx
	if opts.FailFast {
		g, gctx = errgroup.WithContext(ctx)
	} else {
		g = &errgroup.Group{}
	}
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}

	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			err := fn(gctx, i)
			errs[i] = err
			if opts.FailFast {
				return err
			}
			return nil
		})
	}
	return errs, g.Wait()
}

// Fetch runs fn once for every distinct key and maps each key (as a string)
// to its result. The result map contains every requested key exactly once
// regardless of completion order.
func Fetch[T any](ctx context.Context, keys [][]byte, opts Options, fn func(ctx context.Context, key []byte) (T, error)) (map[string]Result[T], error) {
	unique := make([][]byte, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[string(k)]; dup {
			continue
		}
		seen[string(k)] = struct{}{}
		unique = append(unique, k)
	}

	values := make([]T, len(unique))
	errs, err := Each(ctx, len(unique), opts, func(ctx context.Context, i int) error {
		v, err := fn(ctx, unique[i])
		if err != nil {
			return err
		}
		values[i] = v
		return nil
	})

	out := make(map[string]Result[T], len(unique))
	for i, k := range unique {
		out[string(k)] = Result[T]{Value: values[i], Err: errs[i]}
	}
	return out, err
}

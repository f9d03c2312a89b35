// Package retry runs single DynamoDB requests with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrExhausted is returned (wrapping the last failure) when a transient
// failure persists past the configured bounds.
var ErrExhausted = errors.New("retries exhausted")

// Config bounds the backoff of a Runner.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries uint64

	// InitialBackoff is the delay before the first retry; it doubles per retry.
	InitialBackoff time.Duration

	// MaxBackoff caps a single delay.
	MaxBackoff time.Duration

	// MaxElapsed caps the total time spent retrying (0 = no cap).
	MaxElapsed time.Duration
}

// DefaultConfig returns the backoff used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		MaxElapsed:     time.Minute,
	}
}

// Runner wraps one request at a time with backoff. It is safe for
// concurrent use; each call gets its own backoff state.
type Runner struct {
	config Config
	logger *slog.Logger
}

// New creates a Runner.
func New(config Config, logger *slog.Logger) *Runner {
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = DefaultConfig().InitialBackoff
	}
	if config.MaxBackoff < config.InitialBackoff {
		config.MaxBackoff = config.InitialBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{config: config, logger: logger}
}

func (r *Runner) backoff() retry.Backoff {
	b := retry.NewExponential(r.config.InitialBackoff)
	b = retry.WithJitterPercent(10, b)
	b = retry.WithCappedDuration(r.config.MaxBackoff, b)
	if r.config.MaxElapsed > 0 {
		b = retry.WithMaxDuration(r.config.MaxElapsed, b)
	}
	return retry.WithMaxRetries(r.config.MaxRetries, b)
}

// Do runs attempt until it succeeds, fails with a non-transient error, or
// the backoff is exhausted. op names the request in log lines.
func (r *Runner) Do(ctx context.Context, op string, attempt func(ctx context.Context) error) error {
	attempts := 0
	var last error
	err := retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		attempts++
		err := attempt(ctx)
		if err == nil {
			return nil
		}
		last = err
		if Classify(err) != Transient {
			return err
		}
		r.logger.Warn("transient dynamodb failure",
			"op", op,
			"attempt", attempts,
			"error", err,
		)
		return retry.RetryableError(err)
	})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	if last != nil && Classify(last) == Transient {
		return fmt.Errorf("%s: %w after %d attempts: %w", op, ErrExhausted, attempts, last)
	}
	return err
}

// Run is Do for attempts that produce a value.
func Run[T any](ctx context.Context, r *Runner, op string, attempt func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, op, func(ctx context.Context) error {
		v, err := attempt(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

func fastRunner(maxRetries uint64) *Runner {
	return New(Config{
		MaxRetries:     maxRetries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}, nil)
}

func throttled() error {
	return &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, Fatal},
		{"throughput", throttled(), Transient},
		{"request limit", &types.RequestLimitExceeded{}, Transient},
		{"internal", &types.InternalServerError{}, Transient},
		{"wrapped throughput", fmt.Errorf("get: %w", throttled()), Transient},
		{"throttling code", &smithy.GenericAPIError{Code: "ThrottlingException"}, Transient},
		{"conditional", &types.ConditionalCheckFailedException{}, Conflict},
		{"item too large", &smithy.GenericAPIError{Code: "ValidationException", Message: "Item size has exceeded the maximum allowed size"}, TooLarge},
		{"collection too large", &types.ItemCollectionSizeLimitExceededException{}, TooLarge},
		{"validation", &smithy.GenericAPIError{Code: "ValidationException", Message: "One or more parameter values were invalid"}, Invalid},
		{"canceled", context.Canceled, Fatal},
		{"plain", errors.New("boom"), Fatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := fastRunner(5).Do(context.Background(), "get", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return throttled()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_Exhausted(t *testing.T) {
	calls := 0
	err := fastRunner(2).Do(context.Background(), "scan", func(ctx context.Context) error {
		calls++
		return throttled()
	})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	var throughput *types.ProvisionedThroughputExceededException
	if !errors.As(err, &throughput) {
		t.Error("expected last failure to be wrapped")
	}
	if calls != 3 {
		t.Errorf("expected 1 attempt + 2 retries, got %d calls", calls)
	}
}

func TestDo_NonRetryableReturnsImmediately(t *testing.T) {
	for _, failure := range []error{
		&types.ConditionalCheckFailedException{},
		&smithy.GenericAPIError{Code: "ValidationException", Message: "Item size has exceeded"},
		errors.New("malformed"),
	} {
		calls := 0
		err := fastRunner(5).Do(context.Background(), "update", func(ctx context.Context) error {
			calls++
			return failure
		})
		if !errors.Is(err, failure) {
			t.Errorf("expected %v, got %v", failure, err)
		}
		if errors.Is(err, ErrExhausted) {
			t.Errorf("non-retryable %v reported as exhausted", failure)
		}
		if calls != 1 {
			t.Errorf("expected 1 call for %v, got %d", failure, calls)
		}
	}
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := fastRunner(5).Do(ctx, "get", func(ctx context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected no attempt on canceled context, got %d", calls)
	}
}

func TestDo_MaxElapsed(t *testing.T) {
	r := New(Config{
		MaxRetries:     1000,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		MaxElapsed:     20 * time.Millisecond,
	}, nil)

	start := time.Now()
	err := r.Do(context.Background(), "get", func(ctx context.Context) error {
		return throttled()
	})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("elapsed budget not honored: %v", elapsed)
	}
}

func TestRun_ReturnsValue(t *testing.T) {
	calls := 0
	got, err := Run(context.Background(), fastRunner(3), "get", func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", throttled()
		}
		return "item", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "item" {
		t.Errorf("expected 'item', got %q", got)
	}
}

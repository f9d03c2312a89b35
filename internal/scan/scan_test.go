package scan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/widerow/internal/codec"
	"github.com/jacentio/widerow/internal/ddbtest"
	"github.com/jacentio/widerow/internal/retry"
)

const testTable = "jg_graphindex"

func runner() *retry.Runner {
	return retry.New(retry.Config{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}, nil)
}

// seed stores rows r0..r(n-1), each with columns a and b.
func seed(t *testing.T, n int) *ddbtest.Fake {
	t.Helper()
	fake := ddbtest.New()
	fake.AddTable(testTable, codec.HashKey)
	for i := 0; i < n; i++ {
		_, err := fake.UpdateItem(context.Background(), &dynamodb.UpdateItemInput{
			TableName: aws.String(testTable),
			Key:       codec.ItemKey([]byte(fmt.Sprintf("r%d", i))),
			AttributeUpdates: map[string]types.AttributeValueUpdate{
				codec.EncodeKey([]byte("a")): {Action: types.AttributeActionPut, Value: codec.Value([]byte("1"))},
				codec.EncodeKey([]byte("b")): {Action: types.AttributeActionPut, Value: codec.Value([]byte("2"))},
			},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	return fake
}

func scanInput(limit int32) *dynamodb.ScanInput {
	return &dynamodb.ScanInput{
		TableName:              aws.String(testTable),
		Limit:                  aws.Int32(limit),
		ReturnConsumedCapacity: types.ReturnConsumedCapacityTotal,
	}
}

func collect(t *testing.T, it *Iterator) []Row {
	t.Helper()
	var rows []Row
	for it.Next(context.Background()) {
		rows = append(rows, it.Row())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iteration failed: %v", err)
	}
	return rows
}

func rowKeys(rows []Row) []string {
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = string(r.Key)
	}
	sort.Strings(keys)
	return keys
}

func TestSequential_PagesThroughTable(t *testing.T) {
	fake := seed(t, 5)
	var observed int
	s := NewSequential(fake, runner(), scanInput(2), func(op string, cc *types.ConsumedCapacity) { observed++ })

	rows := collect(t, NewIterator(s, SingleRowInterpreter{}))
	if got := rowKeys(rows); len(got) != 5 {
		t.Fatalf("expected 5 rows, got %v", got)
	}
	if calls := fake.Calls("Scan"); calls < 3 {
		t.Errorf("expected at least 3 pages with limit 2, got %d scans", calls)
	}
	if observed != fake.Calls("Scan") {
		t.Errorf("expected capacity observed per page, got %d of %d", observed, fake.Calls("Scan"))
	}
}

func TestParallel_VisitsEveryRowOnce(t *testing.T) {
	fake := seed(t, 40)
	p := NewParallel(context.Background(), fake, runner(), scanInput(3), 4, nil)

	rows := collect(t, NewIterator(p, SingleRowInterpreter{}))
	keys := rowKeys(rows)
	if len(keys) != 40 {
		t.Fatalf("expected 40 rows, got %d", len(keys))
	}
	for i := 1; i < len(keys); i++ {
		if keys[i] == keys[i-1] {
			t.Errorf("row %s yielded twice", keys[i])
		}
	}
}

func TestInterpreter_YieldsEmptyRows(t *testing.T) {
	fake := seed(t, 3)
	s := NewSequential(fake, runner(), scanInput(10), nil)

	rows := collect(t, NewIterator(s, SingleRowInterpreter{Start: []byte("x"), End: []byte("z")}))
	if len(rows) != 3 {
		t.Fatalf("expected one iteration per stored row, got %d", len(rows))
	}
	for _, r := range rows {
		if len(r.Columns) != 0 {
			t.Errorf("row %s: expected no columns in [x, z), got %d", r.Key, len(r.Columns))
		}
	}
}

func TestInterpreter_SliceAndLimit(t *testing.T) {
	page := &Page{Items: []map[string]types.AttributeValue{
		{
			codec.HashKey:                codec.KeyAttribute([]byte("k")),
			codec.EncodeKey([]byte("a")): codec.Value([]byte("1")),
			codec.EncodeKey([]byte("b")): codec.Value([]byte("2")),
			codec.EncodeKey([]byte("c")): codec.Value([]byte("3")),
		},
		{codec.EncodeKey([]byte("orphan")): codec.Value([]byte("x"))},
	}}

	rows := SingleRowInterpreter{Start: []byte("b"), Limit: 1}.Interpret(page)
	if len(rows) != 1 {
		t.Fatalf("expected items without key skipped, got %d rows", len(rows))
	}
	if len(rows[0].Columns) != 1 || string(rows[0].Columns[0].Name) != "b" {
		t.Errorf("expected [b], got %+v", rows[0].Columns)
	}
}

func TestSequential_RetriesThrottledPage(t *testing.T) {
	fake := seed(t, 4)
	fake.Throttle("Scan", 2)

	rows := collect(t, NewIterator(NewSequential(fake, runner(), scanInput(2), nil), SingleRowInterpreter{}))
	if len(rows) != 4 {
		t.Errorf("expected 4 rows after throttling, got %d", len(rows))
	}
}

func TestParallel_FailurePropagates(t *testing.T) {
	fake := ddbtest.New()
	in := scanInput(2)
	in.TableName = aws.String("missing")

	it := NewIterator(NewParallel(context.Background(), fake, runner(), in, 3, nil), SingleRowInterpreter{})
	if it.Next(context.Background()) {
		t.Fatal("expected no rows from missing table")
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(it.Err(), &notFound) {
		t.Errorf("expected ResourceNotFoundException, got %v", it.Err())
	}
}

func TestIterator_CloseStopsIteration(t *testing.T) {
	fake := seed(t, 30)
	it := NewIterator(NewParallel(context.Background(), fake, runner(), scanInput(1), 3, nil), SingleRowInterpreter{})

	if !it.Next(context.Background()) {
		t.Fatalf("expected a first row, err=%v", it.Err())
	}
	if err := it.Close(); err != nil {
		t.Fatal(err)
	}
	if it.Next(context.Background()) {
		t.Error("expected Next to return false after Close")
	}
	if it.Err() != nil {
		t.Errorf("expected no error after Close, got %v", it.Err())
	}
}

func TestParallel_AbandonedScanStopsSegments(t *testing.T) {
	tests := []struct {
		name string
		stop func(p *Parallel, cancel context.CancelFunc)
	}{
		{name: "close", stop: func(p *Parallel, _ context.CancelFunc) { p.Close() }},
		{name: "scan context canceled", stop: func(_ *Parallel, cancel context.CancelFunc) { cancel() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := seed(t, 50)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			p := NewParallel(ctx, fake, runner(), scanInput(1), 3, nil)

			if _, err := p.Next(context.Background()); err != nil {
				t.Fatalf("expected a first page, got %v", err)
			}
			tt.stop(p, cancel)

			select {
			case <-p.done:
			case <-time.After(5 * time.Second):
				t.Fatal("expected segment goroutines to stop")
			}
			if calls := fake.Calls("Scan"); calls >= 50 {
				t.Errorf("expected the scan to stop early, got %d Scan calls", calls)
			}
		})
	}
}

func TestSequential_EmptyTable(t *testing.T) {
	fake := seed(t, 0)
	rows := collect(t, NewIterator(NewSequential(fake, runner(), scanInput(5), nil), SingleRowInterpreter{}))
	if len(rows) != 0 {
		t.Errorf("expected no rows, got %d", len(rows))
	}
}

package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/widerow/internal/codec"
	"github.com/jacentio/widerow/internal/dispatch"
	"github.com/jacentio/widerow/internal/mutation"
	"github.com/jacentio/widerow/internal/retry"
	"github.com/jacentio/widerow/internal/scan"
)

// RowStore is a wide-column store backed by one DynamoDB table. The row
// layout is chosen when the store is opened.
type RowStore interface {
	// Name returns the logical store name.
	Name() string

	// TableName returns the backing DynamoDB table.
	TableName() string

	// GetSlice returns one row's columns matching the query, in column order.
	// A missing row yields an empty slice.
	GetSlice(ctx context.Context, query KeySliceQuery, tx *Transaction) ([]Entry, error)

	// GetSliceMulti reads many rows concurrently. The result holds every
	// requested key that was read successfully; failed keys are reported
	// in a RowErrors error.
	GetSliceMulti(ctx context.Context, keys [][]byte, query SliceQuery, tx *Transaction) (map[string][]Entry, error)

	// Mutate applies additions and deletions to one row.
	Mutate(ctx context.Context, key []byte, additions []Entry, deletions [][]byte, tx *Transaction) error

	// GetKeys iterates every row, each with its columns filtered by query.
	GetKeys(ctx context.Context, query SliceQuery, tx *Transaction) (*KeyIterator, error)

	// GetKeyRange iterates rows in a key range.
	GetKeyRange(ctx context.Context, query KeyRangeQuery, tx *Transaction) (*KeyIterator, error)

	// TableSchema describes the table this store needs.
	TableSchema() *dynamodb.CreateTableInput

	// mutationWorkers compiles one worker per non-empty row mutation.
	mutationWorkers(mutations map[string]Mutation, tx *Transaction) []mutation.Worker
}

// SingleRowStore keeps each row in a single item, one attribute per column.
// Rows are bounded by the 400 KB item size limit.
type SingleRowStore struct {
	name    string
	table   string
	manager *Manager
	client  Client
	config  Config
	logger  *slog.Logger
	runner  *retry.Runner
	env     *mutation.Env
}

var _ RowStore = (*SingleRowStore)(nil)

func newSingleRowStore(m *Manager, name string) *SingleRowStore {
	table := m.config.TablePrefix + "_" + name
	s := &SingleRowStore{
		name:    name,
		table:   table,
		manager: m,
		client:  m.client,
		config:  m.config,
		logger:  m.logger.With("table", table),
		runner:  m.runner,
	}
	s.env = &mutation.Env{
		Client:  m.client,
		Runner:  m.runner,
		Logger:  s.logger,
		Table:   table,
		Observe: s.observe,
	}
	return s
}

func (s *SingleRowStore) Name() string      { return s.name }
func (s *SingleRowStore) TableName() string { return s.table }
func (s *SingleRowStore) String() string    { return "SingleRowStore:" + s.table }

// Equal reports whether other is backed by the same table.
func (s *SingleRowStore) Equal(other RowStore) bool {
	if other == nil {
		return false
	}
	o, ok := other.(*SingleRowStore)
	return ok && o.table == s.table
}

// TableSchema describes a table with the reserved hash key only.
func (s *SingleRowStore) TableSchema() *dynamodb.CreateTableInput {
	return TableSchema(s.table, s.config.ReadCapacity, s.config.WriteCapacity)
}

func (s *SingleRowStore) observe(op string, cc *types.ConsumedCapacity) {
	s.logger.Debug("consumed capacity",
		"op", op,
		"units", aws.ToFloat64(cc.CapacityUnits),
	)
	if s.config.CapacityObserver != nil {
		s.config.CapacityObserver(s.table, op, cc)
	}
}

func (s *SingleRowStore) consistent(c Consistency) bool {
	switch c {
	case ConsistencyStrong:
		return true
	case ConsistencyEventual:
		return false
	default:
		return s.config.ForceConsistentRead
	}
}

func (s *SingleRowStore) getItem(ctx context.Context, key []byte, consistent bool) (map[string]types.AttributeValue, error) {
	input := &dynamodb.GetItemInput{
		TableName:              aws.String(s.table),
		Key:                    codec.ItemKey(key),
		ConsistentRead:         aws.Bool(consistent),
		ReturnConsumedCapacity: types.ReturnConsumedCapacityTotal,
	}
	out, err := retry.Run(ctx, s.runner, "GetItem", func(ctx context.Context) (*dynamodb.GetItemOutput, error) {
		return s.client.GetItem(ctx, input)
	})
	if err != nil {
		return nil, err
	}
	if out.ConsumedCapacity != nil {
		s.observe("GetItem", out.ConsumedCapacity)
	}
	return out.Item, nil
}

// GetSlice reads one row with a single GetItem and filters its columns to
// the query's slice. A missing row yields an empty, non-nil slice.
func (s *SingleRowStore) GetSlice(ctx context.Context, query KeySliceQuery, tx *Transaction) ([]Entry, error) {
	if len(query.Key) == 0 {
		return nil, wrap("getSlice", s.table, invalid("empty row key"))
	}
	s.logger.Debug("entering getSlice",
		"key", codec.EncodeKey(query.Key),
		"limit", query.Limit,
		"txID", tx.ID(),
	)

	item, err := s.getItem(ctx, query.Key, s.consistent(query.Consistency))
	if err != nil {
		return nil, wrap("getSlice", s.table, err)
	}
	entries := toEntries(codec.Decode(item, query.Start, query.End, query.Limit))

	s.logger.Debug("exiting getSlice",
		"key", codec.EncodeKey(query.Key),
		"txID", tx.ID(),
		"returning", len(entries),
	)
	return entries, nil
}

// GetSliceMulti reads every distinct key concurrently, bounded by
// Config.MaxConcurrency. Keys that fail are reported in a RowErrors error
// and left out of the returned map.
func (s *SingleRowStore) GetSliceMulti(ctx context.Context, keys [][]byte, query SliceQuery, tx *Transaction) (map[string][]Entry, error) {
	for _, k := range keys {
		if len(k) == 0 {
			return nil, wrap("getSliceMulti", s.table, invalid("empty row key"))
		}
	}
	s.logger.Debug("entering getSliceMulti",
		"keys", len(keys),
		"limit", query.Limit,
		"txID", tx.ID(),
	)

	consistent := s.consistent(query.Consistency)
	results, _ := dispatch.Fetch(ctx, keys, dispatch.Options{
		Concurrency: s.config.MaxConcurrency,
		FailFast:    s.config.FailFast,
	}, func(ctx context.Context, key []byte) (map[string]types.AttributeValue, error) {
		return s.getItem(ctx, key, consistent)
	})

	entries := make(map[string][]Entry, len(results))
	var failed RowErrors
	for key, r := range results {
		if r.Err != nil {
			if failed == nil {
				failed = make(RowErrors)
			}
			failed[RowRef{Store: s.name, Key: key}] = wrap("getSliceMulti", s.table, r.Err)
			continue
		}
		entries[key] = toEntries(codec.Decode(r.Value, query.Start, query.End, query.Limit))
	}

	s.logger.Debug("exiting getSliceMulti",
		"keys", len(keys),
		"txID", tx.ID(),
		"returning", len(entries),
		"failed", len(failed),
	)
	if failed != nil {
		return entries, failed
	}
	return entries, nil
}

// Mutate applies one row's additions and deletions in a single conditional
// update guarded by the expectations tx recorded for the row.
func (s *SingleRowStore) Mutate(ctx context.Context, key []byte, additions []Entry, deletions [][]byte, tx *Transaction) error {
	s.logger.Debug("entering mutate",
		"key", codec.EncodeKey(key),
		"additions", len(additions),
		"deletions", len(deletions),
		"txID", tx.ID(),
	)
	err := s.manager.MutateMany(ctx, map[string]map[string]Mutation{
		s.name: {string(key): {Additions: additions, Deletions: deletions}},
	}, tx)
	if rowErrs, ok := err.(RowErrors); ok && len(rowErrs) == 1 {
		for _, e := range rowErrs {
			err = e
		}
	}
	s.logger.Debug("exiting mutate",
		"key", codec.EncodeKey(key),
		"txID", tx.ID(),
		"error", err,
	)
	return err
}

func (s *SingleRowStore) mutationWorkers(mutations map[string]Mutation, tx *Transaction) []mutation.Worker {
	workers := make([]mutation.Worker, 0, len(mutations))
	for key, m := range mutations {
		w := mutation.New(s.env, mutation.Row{
			Key:       []byte(key),
			Additions: m.columns(),
			Deletions: m.Deletions,
			Expected:  tx.snapshot(s.name, []byte(key)),
		})
		if w != nil {
			workers = append(workers, w)
		}
	}
	return workers
}

// GetKeys scans the whole table. With Config.ParallelScan the segment scans
// run under ctx from the start, so the iterator must be closed when it is
// abandoned early; sequential scans only issue requests from Next.
func (s *SingleRowStore) GetKeys(ctx context.Context, query SliceQuery, tx *Transaction) (*KeyIterator, error) {
	s.logger.Debug("entering getKeys",
		"limit", query.Limit,
		"parallel", s.config.ParallelScan,
		"txID", tx.ID(),
	)
	input := &dynamodb.ScanInput{
		TableName:              aws.String(s.table),
		Limit:                  aws.Int32(s.config.ScanLimit),
		ConsistentRead:         aws.Bool(s.consistent(query.Consistency)),
		ReturnConsumedCapacity: types.ReturnConsumedCapacityTotal,
	}

	var scanner scan.Scanner
	if s.config.ParallelScan {
		scanner = scan.NewParallel(ctx, s.client, s.runner, input, int32(s.config.ScanSegments), s.observe)
	} else {
		scanner = scan.NewSequential(s.client, s.runner, input, s.observe)
	}
	// Single-item rows never span pages, so one interpreter serves both scanners.
	interpreter := scan.SingleRowInterpreter{Start: query.Start, End: query.End, Limit: query.Limit}
	return &KeyIterator{it: scan.NewIterator(scanner, interpreter), table: s.table}, nil
}

// GetKeyRange always fails with ErrUnsupported: hash keys are not byte
// ordered, so a key range has no meaning.
func (s *SingleRowStore) GetKeyRange(ctx context.Context, query KeyRangeQuery, tx *Transaction) (*KeyIterator, error) {
	return nil, wrap("getKeyRange", s.table, fmt.Errorf("%w: keys are not byte ordered", ErrUnsupported))
}

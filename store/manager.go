package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/widerow/internal/dispatch"
	"github.com/jacentio/widerow/internal/mutation"
	"github.com/jacentio/widerow/internal/retry"
)

// Client is the subset of *dynamodb.Client the stores use.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

var _ Client = (*dynamodb.Client)(nil)

// Manager owns the DynamoDB client and the stores opened on it.
type Manager struct {
	client Client
	config Config
	logger *slog.Logger
	runner *retry.Runner

	mu     sync.Mutex
	stores map[string]RowStore
	closed bool
}

// New creates a Manager. A nil logger uses slog.Default().
func New(client Client, config Config, logger *slog.Logger) *Manager {
	config.validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		client: client,
		config: config,
		logger: logger,
		runner: retry.New(config.retryConfig(), logger),
		stores: make(map[string]RowStore),
	}
}

// Config returns the validated configuration.
func (m *Manager) Config() Config {
	return m.config
}

// OpenStore returns the store with the given name, creating it on first use.
func (m *Manager) OpenStore(name string) (RowStore, error) {
	if name == "" {
		return nil, wrap("openStore", "", invalid("empty store name"))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, wrap("openStore", "", ErrClosed)
	}
	if s, ok := m.stores[name]; ok {
		return s, nil
	}
	s := newSingleRowStore(m, name)
	m.stores[name] = s
	m.logger.Debug("opened store", "store", name, "table", s.TableName())
	return s, nil
}

func (m *Manager) store(name string) (RowStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	s, ok := m.stores[name]
	if !ok {
		return nil, invalid("store %q is not open", name)
	}
	return s, nil
}

// MutateMany applies mutations to many rows of many stores concurrently.
// The outer map is keyed by store name, the inner one by row key.
//
// Each row is written independently. When some rows fail the returned error
// is a RowErrors listing them; the other rows are committed. Malformed input
// fails the whole call before anything is written.
func (m *Manager) MutateMany(ctx context.Context, mutations map[string]map[string]Mutation, tx *Transaction) error {
	names := make([]string, 0, len(mutations))
	for name := range mutations {
		names = append(names, name)
	}
	sort.Strings(names)

	type job struct {
		store  RowStore
		worker mutation.Worker
	}
	var jobs []job
	for _, name := range names {
		s, err := m.store(name)
		if err != nil {
			return wrap("mutateMany", "", err)
		}
		for key, mut := range mutations[name] {
			if key == "" {
				return wrap("mutateMany", s.TableName(), invalid("empty row key"))
			}
			if err := mut.validate(); err != nil {
				return wrap("mutateMany", s.TableName(), err)
			}
		}
		for _, w := range s.mutationWorkers(mutations[name], tx) {
			jobs = append(jobs, job{store: s, worker: w})
		}
	}
	if len(jobs) == 0 {
		return nil
	}

	m.logger.Debug("entering mutateMany",
		"stores", len(names),
		"rows", len(jobs),
		"txID", tx.ID(),
	)
	errs, _ := dispatch.Each(ctx, len(jobs), dispatch.Options{Concurrency: m.config.MaxConcurrency}, func(ctx context.Context, i int) error {
		return jobs[i].worker.Run(ctx)
	})

	var failed RowErrors
	for i, err := range errs {
		if err == nil {
			continue
		}
		if failed == nil {
			failed = make(RowErrors)
		}
		j := jobs[i]
		failed[RowRef{Store: j.store.Name(), Key: string(j.worker.Key())}] = wrap("mutate", j.store.TableName(), err)
	}
	m.logger.Debug("exiting mutateMany",
		"rows", len(jobs),
		"failed", len(failed),
		"txID", tx.ID(),
	)
	if failed != nil {
		return failed
	}
	return nil
}

// Close releases the stores. Further calls fail with ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.stores = make(map[string]RowStore)
	return nil
}

package store

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/widerow/internal/retry"
)

// Config holds configuration for the Manager and its stores.
type Config struct {
	// TablePrefix is prepended to every store name to form its table name.
	// Default: "jg"
	TablePrefix string

	// ReadCapacity and WriteCapacity are the provisioned throughput used when
	// a table is created. When both are 0 tables are created on-demand.
	ReadCapacity  int64
	WriteCapacity int64

	// ScanLimit is the page size of key-iteration scans.
	// Default: 10000
	ScanLimit int32

	// ParallelScan splits key-iteration scans into ScanSegments segments
	// scanned concurrently.
	ParallelScan bool

	// ScanSegments is the number of parallel scan segments.
	// Default: 4, Max: 1000
	ScanSegments int

	// ForceConsistentRead makes reads strongly consistent unless a query
	// asks otherwise.
	// Default: true
	ForceConsistentRead bool

	// MaxConcurrency bounds in-flight requests of one fan-out.
	// Default: 32
	MaxConcurrency int

	// FailFast aborts the remaining fetches of a multi-row read once one
	// fails. Otherwise every row is attempted.
	FailFast bool

	// MaxRetries, InitialBackoff, MaxBackoff and MaxElapsed bound the backoff
	// applied to throttled or transient failures of a single request.
	// Zero values take the defaults, except MaxElapsed where 0 means no cap.
	// Default: 60 retries, 25ms initial, 5s max backoff, 2m elapsed
	MaxRetries     uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxElapsed     time.Duration

	// CapacityObserver, if set, receives the capacity consumed by every
	// request, for throughput tuning.
	CapacityObserver func(table, op string, cc *types.ConsumedCapacity)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TablePrefix:         "jg",
		ScanLimit:           10000,
		ScanSegments:        4,
		ForceConsistentRead: true,
		MaxConcurrency:      32,
		MaxRetries:          60,
		InitialBackoff:      25 * time.Millisecond,
		MaxBackoff:          5 * time.Second,
		MaxElapsed:          2 * time.Minute,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	def := DefaultConfig()
	if c.TablePrefix == "" {
		c.TablePrefix = def.TablePrefix
	}
	if c.ReadCapacity < 0 {
		c.ReadCapacity = 0
	}
	if c.WriteCapacity < 0 {
		c.WriteCapacity = 0
	}
	if c.ScanLimit < 1 {
		c.ScanLimit = def.ScanLimit
	}
	if c.ScanSegments < 1 {
		c.ScanSegments = def.ScanSegments
	}
	if c.ScanSegments > 1000 {
		c.ScanSegments = 1000
	}
	if c.MaxConcurrency < 1 {
		c.MaxConcurrency = def.MaxConcurrency
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
}

func (c Config) retryConfig() retry.Config {
	return retry.Config{
		MaxRetries:     c.MaxRetries,
		InitialBackoff: c.InitialBackoff,
		MaxBackoff:     c.MaxBackoff,
		MaxElapsed:     c.MaxElapsed,
	}
}

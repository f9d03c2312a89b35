// Package scan emulates key iteration over a hash-partitioned table by
// driving sequential or segmented parallel table scans.
package scan

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/widerow/internal/retry"
)

// Page is one scan response.
type Page struct {
	Items []map[string]types.AttributeValue

	// Segment is the segment the page was read from (0 for sequential scans).
	Segment int32
}

// Scanner yields scan pages until it returns io.EOF.
type Scanner interface {
	Next(ctx context.Context) (*Page, error)
	Close()
}

// ObserveFunc receives the capacity consumed by each scan request.
type ObserveFunc func(op string, cc *types.ConsumedCapacity)

// segmentReader pages through one segment (or the whole table) with retries.
type segmentReader struct {
	paginator *dynamodb.ScanPaginator
	runner    *retry.Runner
	observe   ObserveFunc
	segment   int32
}

func newSegmentReader(client dynamodb.ScanAPIClient, runner *retry.Runner, input *dynamodb.ScanInput, observe ObserveFunc) *segmentReader {
	return &segmentReader{
		paginator: dynamodb.NewScanPaginator(client, input),
		runner:    runner,
		observe:   observe,
		segment:   aws.ToInt32(input.Segment),
	}
}

func (r *segmentReader) next(ctx context.Context) (*Page, error) {
	if !r.paginator.HasMorePages() {
		return nil, io.EOF
	}
	// A failed NextPage leaves the paginator's cursor in place, so the same
	// page is requested again on retry.
	out, err := retry.Run(ctx, r.runner, "Scan", func(ctx context.Context) (*dynamodb.ScanOutput, error) {
		return r.paginator.NextPage(ctx)
	})
	if err != nil {
		return nil, err
	}
	if r.observe != nil && out.ConsumedCapacity != nil {
		r.observe("Scan", out.ConsumedCapacity)
	}
	return &Page{Items: out.Items, Segment: r.segment}, nil
}

// Sequential issues one cursor's pages one at a time, only when asked.
type Sequential struct {
	reader *segmentReader
	closed bool
}

// NewSequential creates a Sequential scanner. The input is copied.
func NewSequential(client dynamodb.ScanAPIClient, runner *retry.Runner, input *dynamodb.ScanInput, observe ObserveFunc) *Sequential {
	in := *input
	in.Segment, in.TotalSegments = nil, nil
	return &Sequential{reader: newSegmentReader(client, runner, &in, observe)}
}

// Next fetches the next page under ctx. It returns io.EOF after the last
// page or once the scanner is closed.
func (s *Sequential) Next(ctx context.Context) (*Page, error) {
	if s.closed {
		return nil, io.EOF
	}
	return s.reader.next(ctx)
}

// Close ends the scan. No request is in flight between calls to Next.
func (s *Sequential) Close() { s.closed = true }

// Parallel scans segments concurrently, each with its own cursor. Pages
// arrive in completion order across segments and in order within one.
type Parallel struct {
	pages  chan *Page
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	closed atomic.Bool
	err    error
}

// NewParallel starts a scan of the table split into segments. The segment
// goroutines run under ctx, not under the contexts later passed to Next, and
// stop at the first failing segment, when ctx ends, or when Close is called.
// Callers must Close a Parallel they stop reading early, otherwise its
// goroutines stay blocked until ctx ends.
func NewParallel(ctx context.Context, client dynamodb.ScanAPIClient, runner *retry.Runner, input *dynamodb.ScanInput, segments int32, observe ObserveFunc) *Parallel {
	if segments < 1 {
		segments = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &Parallel{
		pages:  make(chan *Page, segments),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	g, gctx := errgroup.WithContext(ctx)
	for seg := int32(0); seg < segments; seg++ {
		in := *input
		in.Segment = aws.Int32(seg)
		in.TotalSegments = aws.Int32(segments)
		reader := newSegmentReader(client, runner, &in, observe)
		g.Go(func() error {
			for {
				page, err := reader.next(gctx)
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return err
				}
				select {
				case p.pages <- page:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		})
	}

	go func() {
		err := g.Wait()
		if err != nil && !p.closed.Load() {
			p.err = err
		}
		close(p.pages)
		close(p.done)
	}()
	return p
}

// Next returns the next page from any segment. ctx only bounds the wait;
// the requests themselves run under the context given to NewParallel.
func (p *Parallel) Next(ctx context.Context) (*Page, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case page, ok := <-p.pages:
		if ok {
			return page, nil
		}
		if p.err != nil {
			return nil, p.err
		}
		return nil, io.EOF
	}
}

// Close abandons in-flight segment requests and waits for them to stop.
func (p *Parallel) Close() {
	p.once.Do(func() {
		p.closed.Store(true)
		p.cancel()
		for range p.pages {
		}
		<-p.done
	})
}

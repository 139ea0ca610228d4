package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainkit/evmindexer/internal/codec"
	"github.com/chainkit/evmindexer/internal/progress"
)

// Fanout dispatches every call to all of its member Sinks concurrently, the
// same isolation contract the stream package's Transport fan-out gives:
// one member failing never prevents the batch from reaching the others.
// The Orchestrator uses this to let a Processor write to Postgres,
// ClickHouse, CSV, and/or a stream sink simultaneously from a manifest
// that enables more than one.
type Fanout struct {
	members []Sink
}

// NewFanout builds a Sink that fans every call out to members. A single
// member is passed through with no wrapping overhead by the caller if
// fan-out isn't needed; NewFanout itself imposes none either way.
func NewFanout(members ...Sink) *Fanout {
	return &Fanout{members: members}
}

func (f *Fanout) BulkInsert(ctx context.Context, table Table, columns []string, rows [][]codec.Variant) error {
	return f.dispatch(func(s Sink) error {
		return s.BulkInsert(ctx, table, columns, rows)
	})
}

func (f *Fanout) AppendProgress(ctx context.Context, key progress.Key, block uint64) error {
	return f.dispatch(func(s Sink) error {
		return s.AppendProgress(ctx, key, block)
	})
}

func (f *Fanout) Flush(ctx context.Context) error {
	return f.dispatch(func(s Sink) error {
		return s.Flush(ctx)
	})
}

func (f *Fanout) dispatch(call func(Sink) error) error {
	type result struct {
		idx int
		err error
	}
	results := make(chan result, len(f.members))
	for i, s := range f.members {
		i, s := i, s
		go func() {
			results <- result{idx: i, err: call(s)}
		}()
	}

	var errs []error
	for range f.members {
		r := <-results
		if r.err != nil {
			errs = append(errs, fmt.Errorf("fanout member %d: %w", r.idx, r.err))
		}
	}
	return errors.Join(errs...)
}

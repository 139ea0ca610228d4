package blockclock

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// FLUSH_INTERVAL_SECS is how often a Poller flushes its Clock to disk on
// the successful-batch path, independent of shutdown.
const FLUSH_INTERVAL_SECS = 30

// HeaderSource fetches block timestamps in the batched shape a
// rpcprovider.Provider exposes, kept as a narrow interface here so this
// package does not import rpcprovider and create a cycle.
type HeaderSource interface {
	BlockTimestamps(ctx context.Context, from, to uint64) (blocks []uint64, timestamps []uint64, err error)
}

// Poller drives the fetch-batch-then-append loop described in §4.3: pull a
// batch of block timestamps, feed them into the Clock, and flush on a
// timer or on shutdown.
type Poller struct {
	clock     *Clock
	source    HeaderSource
	path      string
	batchSize uint64
	debug     bool
	log       zerolog.Logger
}

// NewPoller constructs a Poller that appends to clock using source and
// persists to path.
func NewPoller(clock *Clock, source HeaderSource, path string, batchSize uint64, debug bool, log zerolog.Logger) *Poller {
	return &Poller{clock: clock, source: source, path: path, batchSize: batchSize, debug: debug, log: log.With().Str("component", "blockclock_poller").Logger()}
}

// Run polls until ctx is cancelled, appending every successful batch and
// flushing periodically; it always performs a final flush before
// returning so a SIGINT/SIGTERM-triggered shutdown never loses a
// partially-encoded batch.
func (p *Poller) Run(ctx context.Context, headBlock func(context.Context) (uint64, error)) error {
	ticker := time.NewTicker(FLUSH_INTERVAL_SECS * time.Second)
	defer ticker.Stop()

	lastFlush := time.Now()
	defer func() {
		if err := p.clock.Flush(p.path, p.debug); err != nil {
			p.log.Error().Err(err).Msg("final blockclock flush failed")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		head, err := headBlock(ctx)
		if err != nil {
			return err
		}

		next := p.clock.MaxBlock + 1
		if p.clock.Runs == nil && p.clock.MaxBlockTS == nil {
			next = 0
		}
		if next > head {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
				continue
			}
		}

		to := next + p.batchSize - 1
		if to > head {
			to = head
		}

		blocks, timestamps, err := p.source.BlockTimestamps(ctx, next, to)
		if err != nil {
			p.log.Warn().Err(err).Uint64("from", next).Uint64("to", to).Msg("blockclock batch fetch failed, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
				continue
			}
		}

		if err := p.clock.Bulk(blocks, timestamps); err != nil {
			return err
		}

		if time.Since(lastFlush) >= FLUSH_INTERVAL_SECS*time.Second {
			if err := p.clock.Flush(p.path, p.debug); err != nil {
				p.log.Error().Err(err).Msg("periodic blockclock flush failed")
			}
			lastFlush = time.Now()
		}
	}
}

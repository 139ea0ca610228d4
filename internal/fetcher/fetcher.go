// Package fetcher produces the lazy historic-then-live sequence of log
// batches for one event filter: windowed eth_getLogs calls bounded by a
// shared RPC permit pool, provider-hint-driven retry on range errors, and
// a bloom-filter fast path once live-tailing has caught up to the chain
// head.
package fetcher

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/chainkit/evmindexer/internal/rpcprovider"
)

// liveHeadPollInterval is how often the live phase checks for a new head.
const liveHeadPollInterval = 200 * time.Millisecond

// aliveLogInterval is how long the live phase can sit with no new block
// before emitting an "alive" heartbeat log.
const aliveLogInterval = 5 * time.Minute

// Config describes one event's fetch target, mirroring the
// EventProcessingConfig in §4.5.
type Config struct {
	Network       string
	EventName     string
	InfoName      string
	Addresses     []common.Address
	Topic0        common.Hash
	IndexedTopics [][]common.Hash

	StartBlock   uint64
	EndBlock     *uint64
	SafeDistance uint64
	MaxRange     *uint64

	LiveIndexing       bool
	BloomCheckDisabled bool

	// BufferSize sizes the Result channel Run returns; 0 keeps the
	// historic default of an unbuffered, backpressured handoff. A
	// manifest's config.buffer_size tuning knob widens this so a fast
	// RPC endpoint can stay ahead of a slower sink without blocking on
	// every single batch.
	BufferSize int

	Sem      *semaphore.Weighted
	Provider *rpcprovider.Provider
	Log      zerolog.Logger
}

// Result is one batch of logs covering [FromBlock, ToBlock].
type Result struct {
	Logs      []types.Log
	FromBlock uint64
	ToBlock   uint64
}

// Run starts the fetch loop and returns a channel of results plus a
// single-value error channel. Both channels are closed when the stream
// ends, whether by reaching EndBlock in non-live mode, by ctx
// cancellation, or by a fatal (unrecoverable) range error.
func Run(ctx context.Context, cfg Config) (<-chan Result, <-chan error) {
	out := make(chan Result, cfg.BufferSize)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)
		if err := runLoop(ctx, cfg, out); err != nil {
			select {
			case errs <- err:
			default:
			}
		}
	}()

	return out, errs
}

func runLoop(ctx context.Context, cfg Config, out chan<- Result) error {
	var maxRange *uint64
	if cfg.MaxRange != nil {
		v := *cfg.MaxRange
		maxRange = &v
	}

	latest, err := cfg.Provider.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("fetcher: %s: latest block: %w", cfg.InfoName, err)
	}

	var safe uint64
	if latest > cfg.SafeDistance {
		safe = latest - cfg.SafeDistance
	}

	snapshotTo := safe
	if cfg.EndBlock != nil && *cfg.EndBlock < snapshotTo {
		snapshotTo = *cfg.EndBlock
	}

	from := cfg.StartBlock
	to := capRange(from, snapshotTo, maxRange)

	for from <= snapshotTo {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		logs, usedTo, adopted, err := cfg.attempt(ctx, from, to)
		if err != nil {
			return err
		}
		if adopted != nil {
			maxRange = adopted
		}

		select {
		case out <- Result{Logs: logs, FromBlock: from, ToBlock: usedTo}:
		case <-ctx.Done():
			return nil
		}

		if len(logs) == 0 {
			from = usedTo + 1
		} else {
			from = logs[len(logs)-1].BlockNumber + 1
		}
		to = capRange(from, snapshotTo, maxRange)
	}

	if !cfg.LiveIndexing {
		return nil
	}
	return runLive(ctx, cfg, maxRange, from, out)
}

// attempt runs eth_getLogs for [from, to], narrowing and retrying in place
// on a recoverable range error until it succeeds or the provider signals
// the range cannot be served at all. It returns the range actually served
// and, if a retry discovered a sticky max_range, that value for the
// caller to adopt for subsequent windows.
func (cfg Config) attempt(ctx context.Context, from, to uint64) (logs []types.Log, usedTo uint64, adoptedMaxRange *uint64, err error) {
	for {
		if err := cfg.Sem.Acquire(ctx, 1); err != nil {
			return nil, to, adoptedMaxRange, err
		}
		logs, callErr := cfg.Provider.GetLogs(ctx, cfg.query(from, to))
		cfg.Sem.Release(1)
		if callErr == nil {
			return logs, to, adoptedMaxRange, nil
		}

		hint := ParseRetryHint(callErr.Error(), errorCode(callErr), from, to)
		switch hint.Kind {
		case HintFail:
			return nil, to, adoptedMaxRange, fmt.Errorf("fetcher: %s: unrecoverable range error for [%d,%d]: %w", cfg.InfoName, from, to, callErr)
		case HintHalve:
			to = hint.High
		default:
			to = hint.High
			if hint.MaxRange > 0 {
				mr := hint.MaxRange
				adoptedMaxRange = &mr
			}
		}
		cfg.Log.Warn().Str("event", cfg.InfoName).Uint64("from", from).Uint64("to", to).Err(callErr).Msg("retrying narrower log range")
	}
}

func runLive(ctx context.Context, cfg Config, maxRange *uint64, from uint64, out chan<- Result) error {
	ticker := time.NewTicker(liveHeadPollInterval)
	defer ticker.Stop()

	var lastHead uint64
	lastProgress := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		head, err := cfg.Provider.LatestBlock(ctx)
		if err != nil {
			cfg.Log.Warn().Err(err).Str("event", cfg.InfoName).Msg("live head poll failed")
			continue
		}

		if head == lastHead {
			if time.Since(lastProgress) >= aliveLogInterval {
				cfg.Log.Info().Str("event", cfg.InfoName).Uint64("head", head).Msg("alive")
				lastProgress = time.Now()
			}
			continue
		}
		lastHead = head
		lastProgress = time.Now()

		var safe uint64
		if head > cfg.SafeDistance {
			safe = head - cfg.SafeDistance
		}
		if from > safe {
			continue
		}

		if from == safe && !cfg.BloomCheckDisabled {
			header, err := cfg.Provider.HeaderByNumber(ctx, from)
			if err == nil && !bloomMatches(header.Bloom, cfg.Topic0, cfg.Addresses) {
				from++
				continue
			}
		}

		to := capRange(from, safe, maxRange)

		logs, usedTo, adopted, err := cfg.attempt(ctx, from, to)
		if err != nil {
			return err
		}
		if adopted != nil {
			maxRange = adopted
		}

		select {
		case out <- Result{Logs: logs, FromBlock: from, ToBlock: usedTo}:
		case <-ctx.Done():
			return nil
		}

		if len(logs) == 0 {
			from = usedTo + 1
		} else {
			from = logs[len(logs)-1].BlockNumber + 1
		}
	}
}

func bloomMatches(bloom types.Bloom, topic0 common.Hash, addresses []common.Address) bool {
	if types.BloomLookup(bloom, topic0) {
		return true
	}
	for _, a := range addresses {
		if types.BloomLookup(bloom, a) {
			return true
		}
	}
	return false
}

func capRange(from, snapshotTo uint64, maxRange *uint64) uint64 {
	to := snapshotTo
	if maxRange != nil && from+*maxRange < to {
		to = from + *maxRange
	}
	return to
}

func (cfg Config) query(from, to uint64) ethereum.FilterQuery {
	topics := [][]common.Hash{{cfg.Topic0}}
	topics = append(topics, cfg.IndexedTopics...)
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: cfg.Addresses,
		Topics:    topics,
	}
}

// errorCode extracts a JSON-RPC error code when the provider's client
// library surfaces one (go-ethereum's rpc.Error interface), else 0.
func errorCode(err error) int {
	type rpcError interface{ ErrorCode() int }
	if re, ok := err.(rpcError); ok {
		return re.ErrorCode()
	}
	return 0
}

// Package processor drains one event's Fetcher stream, decodes each log
// through the ABI/codec pipeline, and dispatches the decoded batch to a
// sink, advancing that event's progress watermark on success.
package processor

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/chainkit/evmindexer/internal/abi"
	"github.com/chainkit/evmindexer/internal/codec"
	"github.com/chainkit/evmindexer/internal/fetcher"
	"github.com/chainkit/evmindexer/internal/progress"
	"github.com/chainkit/evmindexer/internal/sink"
)

// Processor drains the Fetcher stream for one (contract, event, network)
// and feeds a Sink.
type Processor struct {
	Key          progress.Key
	ContractName string
	Event        abi.Event
	Columns      []abi.Column
	Sink         sink.Sink
	Store        *progress.Store
	IndexInOrder bool
	// Concurrency bounds how many batches may be in flight at once when
	// IndexInOrder is false; 0 means unbounded, matching a manifest with
	// no config.callback_concurrency override.
	Concurrency int
	Log         zerolog.Logger
}

var (
	batchesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evmindexer_batches_processed_total",
		Help: "Number of fetch batches successfully dispatched to a sink.",
	}, []string{"contract", "event", "network"})

	logsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evmindexer_logs_processed_total",
		Help: "Number of decoded logs dispatched to a sink.",
	}, []string{"contract", "event", "network"})

	processingErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evmindexer_processing_errors_total",
		Help: "Number of batch processing failures, by stage.",
	}, []string{"contract", "event", "network", "stage"})
)

func init() {
	prometheus.MustRegister(batchesProcessed, logsProcessed, processingErrors)
}

// Run drains results until the channel closes (the Fetcher observed ctx
// cancellation) or a fatal processing error occurs. When IndexInOrder is
// set, each batch is awaited before the next is read, so the channel's
// natural backpressure keeps the Fetcher from racing ahead; otherwise
// batches are dispatched concurrently, tracked by a WaitGroup and bounded
// by a Concurrency-sized semaphore, so a slow sink write blocks reading the
// next fetch result only once Concurrency batches are in flight.
func (p *Processor) Run(ctx context.Context, results <-chan fetcher.Result) error {
	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	var sem *semaphore.Weighted
	if p.Concurrency > 0 {
		sem = semaphore.NewWeighted(int64(p.Concurrency))
	}

	reportErr := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	for res := range results {
		res := res
		if p.IndexInOrder {
			if err := p.processBatch(ctx, res); err != nil {
				return err
			}
			continue
		}

		select {
		case err := <-errCh:
			wg.Wait()
			return err
		default:
		}

		if sem != nil {
			if err := sem.Acquire(ctx, 1); err != nil {
				wg.Wait()
				return err
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if sem != nil {
				defer sem.Release(1)
			}
			if err := p.processBatch(ctx, res); err != nil {
				reportErr(err)
			}
		}()
	}

	wg.Wait()
	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func (p *Processor) processBatch(ctx context.Context, res fetcher.Result) error {
	rows := make([][]codec.Variant, 0, len(res.Logs))
	for _, log := range res.Logs {
		if log.Removed {
			continue
		}
		decoded, err := codec.DecodeLog(p.Event, log)
		if err != nil {
			processingErrors.WithLabelValues(p.ContractName, p.Event.Name, p.Key.Network, "decode").Inc()
			return fmt.Errorf("processor: %s.%s: decode log %s#%d: %w", p.ContractName, p.Event.Name, log.TxHash.Hex(), log.Index, err)
		}
		rows = append(rows, p.withProvenance(log, decoded))
	}

	if len(rows) > 0 {
		table := sink.Table{Contract: p.ContractName, Event: p.Event.Name}
		if err := p.Sink.BulkInsert(ctx, table, p.columnNames(), rows); err != nil {
			processingErrors.WithLabelValues(p.ContractName, p.Event.Name, p.Key.Network, "sink_insert").Inc()
			return fmt.Errorf("processor: %s.%s: bulk insert: %w", p.ContractName, p.Event.Name, err)
		}
	}

	if err := p.Sink.AppendProgress(ctx, p.Key, res.ToBlock); err != nil {
		processingErrors.WithLabelValues(p.ContractName, p.Event.Name, p.Key.Network, "sink_progress").Inc()
		return fmt.Errorf("processor: %s.%s: append progress: %w", p.ContractName, p.Event.Name, err)
	}

	if err := p.Store.Advance(p.Key, res.ToBlock); err != nil {
		processingErrors.WithLabelValues(p.ContractName, p.Event.Name, p.Key.Network, "progress_store").Inc()
		return fmt.Errorf("processor: %s.%s: advance watermark: %w", p.ContractName, p.Event.Name, err)
	}

	batchesProcessed.WithLabelValues(p.ContractName, p.Event.Name, p.Key.Network).Inc()
	logsProcessed.WithLabelValues(p.ContractName, p.Event.Name, p.Key.Network).Add(float64(len(rows)))

	p.Log.Info().
		Str("contract", p.ContractName).
		Str("event", p.Event.Name).
		Str("network", p.Key.Network).
		Uint64("from", res.FromBlock).
		Uint64("to", res.ToBlock).
		Int("logs", len(rows)).
		Msg("batch processed")

	return nil
}

// provenanceColumns are the fixed columns every sink's table carries ahead
// of the ABI-decoded fields, in the same order EnsureTable declares them
// and withProvenance populates them.
var provenanceColumns = []string{
	"contract_address",
	"block_number",
	"block_hash",
	"transaction_hash",
	"transaction_index",
	"log_index",
	"network",
}

func (p *Processor) columnNames() []string {
	names := make([]string, 0, len(provenanceColumns)+len(p.Columns))
	names = append(names, provenanceColumns...)
	for _, c := range p.Columns {
		names = append(names, c.Name(abi.StyleSnake))
	}
	return names
}

// withProvenance wraps a decoded row with the log's contract-information
// handle and originating fetch window, per §4.6: every row must carry
// contract_address, block_number, block_hash, transaction_hash,
// transaction_index, log_index, and network alongside its decoded
// parameters, or the sink's own uniqueness/sort keys never get populated.
func (p *Processor) withProvenance(log types.Log, decoded []codec.Variant) []codec.Variant {
	row := make([]codec.Variant, 0, len(provenanceColumns)+len(decoded))
	row = append(row,
		codec.Variant{Kind: codec.KindAddress, Addr: log.Address},
		codec.Variant{Kind: codec.KindI64, Int: new(big.Int).SetUint64(log.BlockNumber)},
		codec.Variant{Kind: codec.KindH256, Hash: log.BlockHash.Bytes()},
		codec.Variant{Kind: codec.KindH256, Hash: log.TxHash.Bytes()},
		codec.Variant{Kind: codec.KindU32, Int: new(big.Int).SetUint64(uint64(log.TxIndex))},
		codec.Variant{Kind: codec.KindU32, Int: new(big.Int).SetUint64(uint64(log.Index))},
		codec.Variant{Kind: codec.KindString, Str: p.Key.Network},
	)
	return append(row, decoded...)
}

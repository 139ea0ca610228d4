package processor

import (
	"context"
	"math/big"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	goabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	internalabi "github.com/chainkit/evmindexer/internal/abi"
	"github.com/chainkit/evmindexer/internal/codec"
	"github.com/chainkit/evmindexer/internal/fetcher"
	"github.com/chainkit/evmindexer/internal/progress"
	"github.com/chainkit/evmindexer/internal/sink"
)

type fakeSink struct {
	mu      sync.Mutex
	batches int
	maxConc int32
	cur     int32
}

func (f *fakeSink) BulkInsert(ctx context.Context, table sink.Table, columns []string, rows [][]codec.Variant) error {
	n := atomic.AddInt32(&f.cur, 1)
	defer atomic.AddInt32(&f.cur, -1)
	f.mu.Lock()
	if n > int32(f.maxConc) {
		f.maxConc = n
	}
	f.batches++
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) AppendProgress(ctx context.Context, key progress.Key, block uint64) error {
	return nil
}

func (f *fakeSink) Flush(ctx context.Context) error { return nil }

func simpleEvent(t *testing.T) internalabi.Event {
	t.Helper()
	typ, err := goabi.NewType("uint256", "", nil)
	require.NoError(t, err)
	args := goabi.Arguments{{Name: "value", Type: typ}}
	return internalabi.Event{Name: "Simple", Inputs: args, Raw: goabi.Event{Name: "Simple", Inputs: args}}
}

func oneLog(t *testing.T, event internalabi.Event, block uint64) types.Log {
	t.Helper()
	data, err := event.NonIndexed().Pack(big.NewInt(int64(block) + 1))
	require.NoError(t, err)
	return types.Log{
		Topics:      []common.Hash{event.Topic0},
		Data:        data,
		BlockNumber: block,
	}
}

func newStore(t *testing.T) *progress.Store {
	t.Helper()
	store, err := progress.Open(filepath.Join(t.TempDir(), "progress.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestProcessor_Run_RespectsConcurrencyBound(t *testing.T) {
	event := simpleEvent(t)
	cols, err := internalabi.Flatten(event)
	require.NoError(t, err)

	s := &fakeSink{}
	store := newStore(t)

	p := &Processor{
		Key:          progress.Key{Indexer: "i", Contract: "c", Event: "Simple", Network: "n"},
		ContractName: "c",
		Event:        event,
		Columns:      cols,
		Sink:         s,
		Store:        store,
		IndexInOrder: false,
		Concurrency:  2,
		Log:          zerolog.Nop(),
	}

	results := make(chan fetcher.Result, 10)
	for i := 0; i < 10; i++ {
		// All batches advance to the same watermark: concurrent dispatch
		// order is exactly what's under test here, and progress.Store
		// refuses to move its watermark backwards, so distinct
		// increasing blocks would flake under goroutine scheduling.
		results <- fetcher.Result{Logs: []types.Log{oneLog(t, event, uint64(i))}, FromBlock: uint64(i), ToBlock: 100}
	}
	close(results)

	require.NoError(t, p.Run(context.Background(), results))
	require.Equal(t, 10, s.batches)
	require.LessOrEqual(t, int(s.maxConc), 2)
}

func TestProcessor_Run_IndexInOrderProcessesSequentially(t *testing.T) {
	event := simpleEvent(t)
	cols, err := internalabi.Flatten(event)
	require.NoError(t, err)

	s := &fakeSink{}
	store := newStore(t)

	p := &Processor{
		Key:          progress.Key{Indexer: "i", Contract: "c", Event: "Simple", Network: "n"},
		ContractName: "c",
		Event:        event,
		Columns:      cols,
		Sink:         s,
		Store:        store,
		IndexInOrder: true,
		Log:          zerolog.Nop(),
	}

	results := make(chan fetcher.Result, 5)
	for i := 0; i < 5; i++ {
		results <- fetcher.Result{Logs: []types.Log{oneLog(t, event, uint64(i))}, FromBlock: uint64(i), ToBlock: uint64(i)}
	}
	close(results)

	require.NoError(t, p.Run(context.Background(), results))
	require.Equal(t, 5, s.batches)
	require.LessOrEqual(t, int(s.maxConc), 1)
}

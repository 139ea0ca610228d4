package sink

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainkit/evmindexer/internal/codec"
	"github.com/chainkit/evmindexer/internal/progress"
)

type fakeSink struct {
	mu      sync.Mutex
	inserts int
	fail    bool
}

func (f *fakeSink) BulkInsert(ctx context.Context, table Table, columns []string, rows [][]codec.Variant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if f.fail {
		return fmt.Errorf("boom")
	}
	return nil
}

func (f *fakeSink) AppendProgress(ctx context.Context, key progress.Key, block uint64) error {
	return nil
}

func (f *fakeSink) Flush(ctx context.Context) error { return nil }

func TestFanout_DispatchesToEveryMember(t *testing.T) {
	a := &fakeSink{}
	b := &fakeSink{}
	f := NewFanout(a, b)

	err := f.BulkInsert(context.Background(), Table{Contract: "Token", Event: "Transfer"}, []string{"c"}, [][]codec.Variant{{{Kind: codec.KindBool, Bool: true}}})
	require.NoError(t, err)
	require.Equal(t, 1, a.inserts)
	require.Equal(t, 1, b.inserts)
}

func TestFanout_OneMemberFailingStillDispatchesToOthers(t *testing.T) {
	a := &fakeSink{fail: true}
	b := &fakeSink{}
	f := NewFanout(a, b)

	err := f.BulkInsert(context.Background(), Table{Contract: "Token", Event: "Transfer"}, []string{"c"}, [][]codec.Variant{{{Kind: codec.KindBool, Bool: true}}})
	require.Error(t, err)
	require.Equal(t, 1, b.inserts, "healthy member must still receive the batch")
}

package stream

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/chainkit/evmindexer/internal/codec"
	"github.com/chainkit/evmindexer/internal/sink"
)

type fakeTransport struct {
	name        string
	mu          sync.Mutex
	published   [][]byte
	failFirstN  int
	publishedN  int
}

func (f *fakeTransport) Name() string { return f.name }

func (f *fakeTransport) Publish(ctx context.Context, subject string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishedN++
	if f.publishedN <= f.failFirstN {
		return fmt.Errorf("simulated failure")
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	f.published = append(f.published, cp)
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func testTable() sink.Table {
	return sink.Table{Contract: "Token", Event: "Transfer"}
}

func TestBulkInsert_PublishesToEveryTransport(t *testing.T) {
	a := &fakeTransport{name: "a"}
	b := &fakeTransport{name: "b"}
	s := New(zerolog.Nop(), nil, a, b)

	rows := [][]codec.Variant{{{Kind: codec.KindBool, Bool: true}}}
	err := s.BulkInsert(context.Background(), testTable(), []string{"ok"}, rows)
	require.NoError(t, err)
	require.Len(t, a.published, 1)
	require.Len(t, b.published, 1)
}

func TestBulkInsert_OneTransportFailingStillReachesTheOther(t *testing.T) {
	failing := &fakeTransport{name: "failing", failFirstN: 1}
	ok := &fakeTransport{name: "ok"}
	s := New(zerolog.Nop(), nil, failing, ok)

	rows := [][]codec.Variant{{{Kind: codec.KindBool, Bool: true}}}
	err := s.BulkInsert(context.Background(), testTable(), []string{"ok"}, rows)
	require.Error(t, err)
	require.Len(t, ok.published, 1, "healthy transport must still receive the batch")
}

func TestBulkInsert_PredicateDropsRows(t *testing.T) {
	a := &fakeTransport{name: "a"}
	s := New(zerolog.Nop(), func(table sink.Table, columns []string, row []codec.Variant) bool {
		return false
	}, a)

	rows := [][]codec.Variant{{{Kind: codec.KindBool, Bool: true}}}
	err := s.BulkInsert(context.Background(), testTable(), []string{"ok"}, rows)
	require.NoError(t, err)
	require.Empty(t, a.published, "predicate rejecting every row publishes nothing")
}

func TestChunkMessages_SplitsLargeBatchesUnderLimit(t *testing.T) {
	big := make([]Message, 0, 2000)
	for i := 0; i < 2000; i++ {
		big = append(big, Message{Table: "t", Columns: []string{"c"}, Values: map[string]interface{}{"c": "0123456789012345678901234567890123456789012345678901234567890123456789"}})
	}

	chunks := chunkMessages(big)
	require.Greater(t, len(chunks), 1, "2000 ~117-byte messages must split across multiple chunks")

	for _, c := range chunks {
		payload, err := marshalChunk(c)
		require.NoError(t, err)
		require.LessOrEqual(t, len(payload), maxPayloadBytes+4096, "chunk payload exceeds the payload limit by more than the 4096-byte margin")
	}
}

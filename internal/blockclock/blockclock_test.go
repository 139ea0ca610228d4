package blockclock

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppend_ScenarioEncodeAndLookup(t *testing.T) {
	c := New(1)
	blocks := []uint64{100, 101, 102, 103, 104}
	timestamps := []uint64{1000, 1012, 1024, 1036, 1051}
	for i := range blocks {
		require.NoError(t, c.Append(blocks[i], timestamps[i]))
	}

	require.Equal(t, []Run{{Len: 3, Delta: 12}, {Len: 1, Delta: 15}}, c.Runs)
	require.Equal(t, uint64(104), c.MaxBlock)
	require.Equal(t, uint64(1051), *c.MaxBlockTS)

	ts, ok := c.At(102)
	require.True(t, ok)
	require.Equal(t, uint64(1024), ts)

	_, ok = c.At(105)
	require.False(t, ok)
}

func TestAppend_RejectsOutOfOrder(t *testing.T) {
	c := New(1)
	require.NoError(t, c.Append(100, 1000))
	require.NoError(t, c.Append(101, 1010))
	err := c.Append(103, 1030)
	require.ErrorContains(t, err, "out-of-order")
}

func TestAppend_NegativeDeltaSaturatesToZero(t *testing.T) {
	c := New(1)
	require.NoError(t, c.Append(10, 500))
	require.NoError(t, c.Append(11, 480))
	require.Equal(t, int64(0), c.Runs[0].Delta)
	ts, ok := c.At(11)
	require.True(t, ok)
	require.Equal(t, uint64(500), ts)
}

func TestBulkLookup_MatchesPointLookup(t *testing.T) {
	c := New(1)
	blocks := []uint64{200, 201, 202, 203, 204, 205}
	timestamps := []uint64{2000, 2013, 2013, 2040, 2041, 2100}
	require.NoError(t, c.Bulk(blocks, timestamps))

	query := []uint64{205, 200, 203}
	bulk := c.BulkLookup(query)
	for _, b := range query {
		point, ok := c.At(b)
		require.True(t, ok)
		require.Equal(t, point, bulk[b])
	}
}

func TestFlushAndOpen_RoundTrip(t *testing.T) {
	c := New(7)
	blocks := []uint64{0, 1, 2, 3}
	timestamps := []uint64{0, 12, 24, 24}
	require.NoError(t, c.Bulk(blocks, timestamps))

	dir := t.TempDir()
	path := filepath.Join(dir, "mainnet.blockclock")
	require.NoError(t, c.Flush(path, true))

	reopened, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, c.NetworkID, reopened.NetworkID)
	require.Equal(t, c.MaxBlock, reopened.MaxBlock)
	require.Equal(t, c.Runs, reopened.Runs)

	for _, b := range blocks {
		want, ok := c.At(b)
		require.True(t, ok)
		got, ok := reopened.At(b)
		require.True(t, ok)
		require.Equal(t, want, got)
	}
}

func TestOpen_RejectsNewerVersion(t *testing.T) {
	c := New(1)
	require.NoError(t, c.Append(0, 0))
	dir := t.TempDir()
	path := filepath.Join(dir, "v.blockclock")
	require.NoError(t, c.Flush(path, false))

	raw := c.encode()
	raw[0] = fileVersion + 1
	_, err := decode(raw)
	require.ErrorContains(t, err, "unsupported file version")
}

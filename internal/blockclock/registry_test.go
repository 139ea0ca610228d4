package blockclock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_GetReturnsSameClockForRepeatedCalls(t *testing.T) {
	r := NewRegistry(t.TempDir(), false)

	a, err := r.Get("ethereum", 1)
	require.NoError(t, err)
	require.NoError(t, a.Append(100, 1000))

	b, err := r.Get("ethereum", 1)
	require.NoError(t, err)
	require.Same(t, a, b, "repeated Get for the same network must return the shared instance")

	ts, ok := b.At(100)
	require.True(t, ok)
	require.Equal(t, uint64(1000), ts)
}

func TestRegistry_DifferentNetworksGetIndependentClocks(t *testing.T) {
	r := NewRegistry(t.TempDir(), false)

	eth, err := r.Get("ethereum", 1)
	require.NoError(t, err)
	require.NoError(t, eth.Append(100, 1000))

	poly, err := r.Get("polygon", 137)
	require.NoError(t, err)
	_, ok := poly.At(100)
	require.False(t, ok, "a fresh network's clock must not see another network's appended blocks")
}

func TestRegistry_FlushPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir, false)

	eth, err := r.Get("ethereum", 1)
	require.NoError(t, err)
	require.NoError(t, eth.Append(100, 1000))
	require.NoError(t, eth.Append(101, 1012))

	require.NoError(t, r.Flush())

	r2 := NewRegistry(dir, false)
	reopened, err := r2.Get("ethereum", 1)
	require.NoError(t, err)
	ts, ok := reopened.At(101)
	require.True(t, ok)
	require.Equal(t, uint64(1012), ts)
}

package rpcprovider

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

func TestHeaderCache_EvictsOldestBeyondCapacity(t *testing.T) {
	c := newHeaderCache(2)
	c.put(1, &types.Header{Number: big.NewInt(1)})
	c.put(2, &types.Header{Number: big.NewInt(2)})
	c.put(3, &types.Header{Number: big.NewInt(3)})

	_, ok := c.get(1)
	require.False(t, ok, "oldest entry should have been evicted")

	h2, ok := c.get(2)
	require.True(t, ok)
	require.Equal(t, big.NewInt(2), h2.Number)

	h3, ok := c.get(3)
	require.True(t, ok)
	require.Equal(t, big.NewInt(3), h3.Number)
}

func TestHeaderCache_RecencyPreventsEviction(t *testing.T) {
	c := newHeaderCache(2)
	c.put(1, &types.Header{Number: big.NewInt(1)})
	c.put(2, &types.Header{Number: big.NewInt(2)})
	c.get(1) // touch 1, making 2 the least recently used
	c.put(3, &types.Header{Number: big.NewInt(3)})

	_, ok := c.get(2)
	require.False(t, ok, "least recently used entry should have been evicted")

	_, ok = c.get(1)
	require.True(t, ok)
}

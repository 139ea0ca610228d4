package progress

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "progress.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func testKey() Key {
	return Key{Indexer: "demo", Contract: "Token", Event: "Transfer", Network: "mainnet"}
}

func TestGetOrStart_SeedsStartBlockWhenMissing(t *testing.T) {
	s := openTestStore(t)
	rec, err := s.GetOrStart(testKey(), 100)
	require.NoError(t, err)
	require.Equal(t, uint64(100), rec.LastSyncedBlock)
}

func TestAdvance_PersistsAndRoundTrips(t *testing.T) {
	s := openTestStore(t)
	key := testKey()

	require.NoError(t, s.Advance(key, 150))

	rec, ok, err := s.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(150), rec.LastSyncedBlock)
}

func TestAdvance_StaleMoveBackwardsIsANoOp(t *testing.T) {
	s := openTestStore(t)
	key := testKey()

	require.NoError(t, s.Advance(key, 200))
	require.NoError(t, s.Advance(key, 199))

	rec, _, err := s.Get(key)
	require.NoError(t, err)
	require.Equal(t, uint64(200), rec.LastSyncedBlock)
}

func TestAdvance_IsolatesByKey(t *testing.T) {
	s := openTestStore(t)
	a := Key{Indexer: "demo", Contract: "Token", Event: "Transfer", Network: "mainnet"}
	b := Key{Indexer: "demo", Contract: "Token", Event: "Approval", Network: "mainnet"}

	require.NoError(t, s.Advance(a, 500))
	rec, ok, err := s.Get(b)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, uint64(0), rec.LastSyncedBlock)
}

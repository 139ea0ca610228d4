package fetcher

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

func TestParseRetryHint_ExplicitRange(t *testing.T) {
	msg := `Try with this block range [0x12a05f200, 0x12a07a120]`
	h := ParseRetryHint(msg, 0, 18_000_000, 20_000_000)
	require.Equal(t, HintExplicitRange, h.Kind)
	require.Equal(t, uint64(0x12a05f200), h.Low)
	require.Equal(t, uint64(0x12a07a120), h.High)
	require.Equal(t, h.High-h.Low, h.MaxRange)
}

func TestParseRetryHint_LimitedTo(t *testing.T) {
	h := ParseRetryHint("query returned more than 10,000 results, limited to 10,000", 0, 100, 50_000)
	require.Equal(t, HintLimitedTo, h.Kind)
	require.Equal(t, uint64(10_000), h.MaxRange)
	require.Equal(t, uint64(100), h.Low)
	require.Equal(t, uint64(10_100), h.High)
}

func TestParseRetryHint_BlockRangeTooLarge(t *testing.T) {
	h := ParseRetryHint("block range too large", 0, 5, 999_999)
	require.Equal(t, HintTooLarge, h.Kind)
	require.Equal(t, uint64(2000), h.MaxRange)
	require.Equal(t, uint64(2005), h.High)
}

func TestParseRetryHint_BlockRangeTooWideRequiresCode(t *testing.T) {
	h := ParseRetryHint("block range is too wide", -32600, 5, 999_999)
	require.Equal(t, HintTooWide, h.Kind)
	require.Equal(t, uint64(3000), h.MaxRange)

	// Same message without the matching JSON-RPC code falls through to halving.
	h2 := ParseRetryHint("block range is too wide", 0, 5, 999_999)
	require.Equal(t, HintHalve, h2.Kind)
}

func TestParseRetryHint_UnrecognizedHalvesWhenRangeNonTrivial(t *testing.T) {
	h := ParseRetryHint("internal server error", 0, 100, 300)
	require.Equal(t, HintHalve, h.Kind)
	require.Equal(t, uint64(200), h.High)
}

func TestParseRetryHint_UnrecognizedAtSingleBlockFails(t *testing.T) {
	h := ParseRetryHint("internal server error", 0, 100, 100)
	require.Equal(t, HintFail, h.Kind)
}

func TestCapRange_RespectsMaxRange(t *testing.T) {
	mr := uint64(10_000)
	to := capRange(18_900_000, 19_000_000, &mr)
	require.Equal(t, uint64(18_910_000), to)
}

func TestCapRange_NilMaxRangeUsesSnapshot(t *testing.T) {
	to := capRange(100, 5000, nil)
	require.Equal(t, uint64(5000), to)
}

func TestBloomMatches_TopicPresent(t *testing.T) {
	topic := common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")
	var bloom types.Bloom
	bloom.Add(topic.Bytes())
	require.True(t, bloomMatches(bloom, topic, nil))
}

func TestBloomMatches_NoneMatch(t *testing.T) {
	topic := common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
	other := common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222222")
	var bloom types.Bloom
	bloom.Add(other.Bytes())
	require.False(t, bloomMatches(bloom, topic, nil))
}

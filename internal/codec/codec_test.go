package codec

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/chainkit/evmindexer/internal/abi"
)

const orderFilledABI = `[
  {"type":"event","name":"OrderFilled","inputs":[
    {"name":"orderHash","type":"bytes32","indexed":true},
    {"name":"maker","type":"address","indexed":true},
    {"name":"taker","type":"address","indexed":true},
    {"name":"makerAssetId","type":"uint256","indexed":false},
    {"name":"takerAssetId","type":"uint256","indexed":false},
    {"name":"makerAmountFilled","type":"uint256","indexed":false},
    {"name":"takerAmountFilled","type":"uint256","indexed":false},
    {"name":"fee","type":"uint256","indexed":false}
  ]}
]`

func loadOrderFilled(t *testing.T) abi.Event {
	t.Helper()
	path := filepath.Join(t.TempDir(), "abi.json")
	require.NoError(t, os.WriteFile(path, []byte(orderFilledABI), 0o644))
	set, err := abi.Load(path)
	require.NoError(t, err)
	return set.Events["OrderFilled"]
}

func pad32(b []byte) []byte {
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func TestDecodeLog_OrderFilledScenario(t *testing.T) {
	ev := loadOrderFilled(t)

	orderHash := common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
	maker := common.HexToAddress("0x00000000000000000000000000000000000001")
	taker := common.HexToAddress("0x00000000000000000000000000000000000002")

	var data []byte
	data = append(data, pad32(big.NewInt(10).Bytes())...)  // makerAssetId
	data = append(data, pad32(big.NewInt(20).Bytes())...)  // takerAssetId
	data = append(data, pad32(big.NewInt(100).Bytes())...) // makerAmountFilled
	data = append(data, pad32(big.NewInt(200).Bytes())...) // takerAmountFilled
	data = append(data, pad32(big.NewInt(3).Bytes())...)   // fee

	log := types.Log{
		Topics: []common.Hash{
			ev.Topic0,
			orderHash,
			common.BytesToHash(maker.Bytes()),
			common.BytesToHash(taker.Bytes()),
		},
		Data: data,
	}

	row, err := DecodeLog(ev, log)
	require.NoError(t, err)
	require.Len(t, row, 8)

	require.Equal(t, KindH256, row[0].Kind)
	require.Equal(t, KindAddress, row[1].Kind)
	require.Equal(t, maker, row[1].Addr)
	require.Equal(t, KindAddress, row[2].Kind)
	require.Equal(t, taker, row[2].Addr)
	require.Equal(t, big.NewInt(10), row[3].Int)
	require.Equal(t, big.NewInt(200), row[6].Int)
	require.Equal(t, big.NewInt(3), row[7].Int)
}

func TestDecodeLog_WrongTopicCountErrors(t *testing.T) {
	ev := loadOrderFilled(t)
	log := types.Log{Topics: []common.Hash{ev.Topic0}}
	_, err := DecodeLog(ev, log)
	require.ErrorContains(t, err, "expected")
}

func TestPostgresValue_EmptyArrayIsNull(t *testing.T) {
	v := Variant{Kind: KindArray}
	out, err := PostgresValue(v)
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestPostgresValue_WideIntegerBecomesDecimal(t *testing.T) {
	v := Variant{Kind: KindU256, Int: big.NewInt(123456789)}
	out, err := PostgresValue(v)
	require.NoError(t, err)
	require.Equal(t, "123456789", out.(interface{ String() string }).String())
}

func TestCSVValue_ArrayJoinedWithPipe(t *testing.T) {
	v := Variant{Kind: KindArray, Array: []Variant{
		{Kind: KindU64, Int: big.NewInt(1)},
		{Kind: KindU64, Int: big.NewInt(2)},
	}}
	require.Equal(t, "1|2", CSVValue(v))
}

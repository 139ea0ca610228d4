package abi

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

const transferABI = `[
  {"type":"event","name":"Transfer","inputs":[
    {"name":"from","type":"address","indexed":true},
    {"name":"to","type":"address","indexed":true},
    {"name":"value","type":"uint256","indexed":false}
  ]}
]`

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

const tupleABI = `[
  {"type":"event","name":"Order","inputs":[
    {"name":"id","type":"uint256","indexed":false},
    {"name":"terms","type":"tuple","indexed":false,"components":[
      {"name":"price","type":"uint256"},
      {"name":"qty","type":"uint256"}
    ]}
  ]}
]`

const nestedArrayABI = `[
  {"type":"event","name":"Batch","inputs":[
    {"name":"legs","type":"tuple[]","indexed":false,"components":[
      {"name":"amount","type":"uint256"}
    ]}
  ]}
]`

func writeABI(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "abi.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Topic0IsDeterministic(t *testing.T) {
	set, err := Load(writeABI(t, transferABI))
	require.NoError(t, err)

	ev, ok := set.Events["Transfer"]
	require.True(t, ok)
	require.Equal(t, "Transfer(address,address,uint256)", ev.Signature)
	require.Equal(t, crypto.Keccak256Hash([]byte(ev.Signature)), ev.Topic0)
}

func TestLoad_MergesMultipleFilesByName(t *testing.T) {
	a := writeABI(t, transferABI)
	b := writeABI(t, transferABI)

	set, err := Load(a, b)
	require.NoError(t, err)
	require.Len(t, set.Events, 1)
}

func TestLoad_ConflictingRedeclarationIsRejected(t *testing.T) {
	a := writeABI(t, transferABI)
	conflicting := `[
  {"type":"event","name":"Transfer","inputs":[
    {"name":"from","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false}
  ]}
]`
	b := writeABI(t, conflicting)

	_, err := Load(a, b)
	require.ErrorContains(t, err, "different signature")
}

func TestFlatten_OrderFilledProducesOneColumnPerInput(t *testing.T) {
	set, err := Load(writeABI(t, orderFilledABI))
	require.NoError(t, err)

	cols, err := Flatten(set.Events["OrderFilled"])
	require.NoError(t, err)
	require.Len(t, cols, 8)
	require.Equal(t, "order_hash", cols[0].Name(StyleSnake))
	require.True(t, cols[0].Indexed)
	require.False(t, cols[3].Indexed)
}

func TestFlatten_InlinesTupleFields(t *testing.T) {
	set, err := Load(writeABI(t, tupleABI))
	require.NoError(t, err)

	cols, err := Flatten(set.Events["Order"])
	require.NoError(t, err)
	require.Len(t, cols, 3)
	require.Equal(t, "terms.price", cols[1].Name(StyleDotted))
	require.Equal(t, "terms_qty", cols[2].Name(StyleSnake))
}

func TestFlatten_RejectsNestedArrayOfTuples(t *testing.T) {
	set, err := Load(writeABI(t, nestedArrayABI))
	require.NoError(t, err)

	_, err = Flatten(set.Events["Batch"])
	require.ErrorContains(t, err, "not supported")
}

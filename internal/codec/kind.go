package codec

import (
	"fmt"

	goabi "github.com/ethereum/go-ethereum/accounts/abi"
)

// KindForSolidityType maps a Solidity ABI type to the Kind decoding it
// would produce, without requiring a decoded value in hand. Schema sync
// uses this to compute a column's expected SQL type purely from the
// current ABI, the same way DecodeLog's type switch drives the value
// conversion for an actual log.
func KindForSolidityType(t goabi.Type) (Kind, error) {
	switch t.T {
	case goabi.AddressTy:
		return KindAddress, nil
	case goabi.BoolTy:
		return KindBool, nil
	case goabi.StringTy:
		return KindString, nil
	case goabi.BytesTy:
		return KindBytes, nil
	case goabi.FixedBytesTy:
		return hashKind(t.Size * 8), nil
	case goabi.UintTy:
		return uintKind(t.Size), nil
	case goabi.IntTy:
		return intKind(t.Size), nil
	case goabi.ArrayTy, goabi.SliceTy:
		return KindArray, nil
	default:
		return KindInvalid, fmt.Errorf("codec: no column kind for solidity type %s", t.String())
	}
}

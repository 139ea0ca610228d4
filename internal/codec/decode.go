package codec

import (
	"fmt"
	"math/big"

	goabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainkit/evmindexer/internal/abi"
)

// DecodeLog turns one EVM log into a flat, column-ordered row matching the
// order abi.Flatten(event) produces for the same event. Indexed arguments
// are read from log.Topics; non-indexed arguments are ABI-unpacked from
// log.Data as a single tuple, mirroring how the Solidity ABI encoder packs
// them.
func DecodeLog(event abi.Event, log types.Log) ([]Variant, error) {
	indexed := event.Indexed()
	if len(log.Topics) != len(indexed)+1 {
		return nil, fmt.Errorf("codec: %s: expected %d topics, got %d", event.Name, len(indexed)+1, len(log.Topics))
	}

	nonIndexed := event.NonIndexed()
	unpacked, err := nonIndexed.Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("codec: %s: unpack data: %w", event.Name, err)
	}

	var row []Variant
	topicIdx, dataIdx := 1, 0
	for _, arg := range event.Inputs {
		if arg.Indexed {
			vs, err := decodeTopic(arg.Type, log.Topics[topicIdx])
			if err != nil {
				return nil, fmt.Errorf("codec: %s.%s: %w", event.Name, arg.Name, err)
			}
			row = append(row, vs...)
			topicIdx++
			continue
		}
		vs, err := decodeValue(arg.Type, unpacked[dataIdx])
		if err != nil {
			return nil, fmt.Errorf("codec: %s.%s: %w", event.Name, arg.Name, err)
		}
		row = append(row, vs...)
		dataIdx++
	}
	return row, nil
}

// decodeTopic converts one 32-byte topic slot into a Variant. Dynamic
// types (string, bytes, arrays, tuples) are topic-encoded as the keccak256
// hash of their contents by the EVM, so the original value is not
// recoverable from the log alone; those decode to a KindH256 digest.
func decodeTopic(t goabi.Type, topic common.Hash) ([]Variant, error) {
	switch t.T {
	case goabi.AddressTy:
		return []Variant{{Kind: KindAddress, Addr: common.BytesToAddress(topic.Bytes())}}, nil
	case goabi.BoolTy:
		return []Variant{{Kind: KindBool, Bool: topic.Big().Sign() != 0}}, nil
	case goabi.UintTy:
		return []Variant{{Kind: uintKind(t.Size), Int: topic.Big()}}, nil
	case goabi.IntTy:
		return []Variant{{Kind: intKind(t.Size), Int: topic.Big()}}, nil
	case goabi.FixedBytesTy:
		b := topic.Bytes()
		return []Variant{{Kind: hashKind(t.Size * 8), Hash: b[:t.Size]}}, nil
	default:
		b := topic.Bytes()
		return []Variant{{Kind: KindH256, Hash: b}}, nil
	}
}

func decodeValue(t goabi.Type, v interface{}) ([]Variant, error) {
	switch t.T {
	case goabi.TupleTy:
		return decodeTuple(t, v)
	case goabi.ArrayTy, goabi.SliceTy:
		return decodeArray(t, v)
	default:
		val, err := decodeScalar(t, v)
		if err != nil {
			return nil, err
		}
		return []Variant{val}, nil
	}
}

func decodeTuple(t goabi.Type, v interface{}) ([]Variant, error) {
	var out []Variant
	rv := reflectFields(v, len(t.TupleElems))
	for i, fieldType := range t.TupleElems {
		vs, err := decodeValue(*fieldType, rv[i])
		if err != nil {
			return nil, fmt.Errorf("tuple field %d: %w", i, err)
		}
		out = append(out, vs...)
	}
	return out, nil
}

func decodeArray(t goabi.Type, v interface{}) ([]Variant, error) {
	switch t.Elem.T {
	case goabi.TupleTy, goabi.ArrayTy, goabi.SliceTy:
		return nil, fmt.Errorf("nested array of %s not supported", t.Elem.String())
	}

	elems := reflectSlice(v)
	out := Variant{Kind: KindArray}
	for _, e := range elems {
		scalar, err := decodeScalar(*t.Elem, e)
		if err != nil {
			return nil, err
		}
		out.Array = append(out.Array, scalar)
		out.ArrElem = scalar.Kind
	}
	return []Variant{out}, nil
}

func decodeScalar(t goabi.Type, v interface{}) (Variant, error) {
	switch t.T {
	case goabi.AddressTy:
		addr, ok := v.(common.Address)
		if !ok {
			return Variant{}, fmt.Errorf("expected address, got %T", v)
		}
		return Variant{Kind: KindAddress, Addr: addr}, nil
	case goabi.BoolTy:
		b, ok := v.(bool)
		if !ok {
			return Variant{}, fmt.Errorf("expected bool, got %T", v)
		}
		return Variant{Kind: KindBool, Bool: b}, nil
	case goabi.StringTy:
		s, ok := v.(string)
		if !ok {
			return Variant{}, fmt.Errorf("expected string, got %T", v)
		}
		return Variant{Kind: KindString, Str: s}, nil
	case goabi.BytesTy:
		b, ok := v.([]byte)
		if !ok {
			return Variant{}, fmt.Errorf("expected bytes, got %T", v)
		}
		return Variant{Kind: KindBytes, Bytes: b}, nil
	case goabi.FixedBytesTy:
		b := toByteSlice(v)
		return Variant{Kind: hashKind(t.Size * 8), Hash: b}, nil
	case goabi.UintTy:
		n := toBigInt(v)
		return Variant{Kind: uintKind(t.Size), Int: n}, nil
	case goabi.IntTy:
		n := toBigInt(v)
		return Variant{Kind: intKind(t.Size), Int: n}, nil
	default:
		return Variant{}, fmt.Errorf("unsupported type %s", t.String())
	}
}

// reflectFields and reflectSlice avoid a hard dependency on go-ethereum's
// generated anonymous struct/slice shapes by going through reflect once at
// the boundary instead of type-asserting every possible width.
func reflectFields(v interface{}, n int) []interface{} {
	rv := structFieldsByReflect(v)
	if len(rv) == n {
		return rv
	}
	out := make([]interface{}, n)
	return out
}

func reflectSlice(v interface{}) []interface{} {
	return sliceByReflect(v)
}

func toBigInt(v interface{}) *big.Int {
	switch n := v.(type) {
	case *big.Int:
		return n
	case big.Int:
		return &n
	default:
		return big.NewInt(0)
	}
}

func toByteSlice(v interface{}) []byte {
	return fixedBytesToSlice(v)
}

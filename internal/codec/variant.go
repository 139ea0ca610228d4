// Package codec turns decoded Solidity values into the closed set of wire
// types every sink encoder understands, so Postgres, ClickHouse, and CSV
// each only need one switch over Kind instead of reimplementing ABI type
// knowledge themselves.
package codec

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Kind identifies which field of a Variant is populated. Widths for the
// integer kinds follow the smallest-wrapper-at-least-as-wide-as-the-Solidity-
// type rule: a uint24 decodes into KindU32, a uint96 into KindU128, and so
// on, so downstream column types stay a small, fixed set.
type Kind int

const (
	KindInvalid Kind = iota
	KindU8
	KindU16
	KindU32
	KindU64
	KindU128
	KindU256
	KindU512
	KindI8
	KindI16
	KindI32
	KindI64
	KindI128
	KindI256
	KindI512
	KindH128
	KindH160 // Address-sized hash, distinct from Address itself.
	KindH256
	KindH512
	KindAddress
	KindBool
	KindString
	KindBytes
	KindArray
)

// Variant is the closed sum type every decoded Solidity value is mapped
// into. Exactly one payload field is meaningful for a given Kind.
type Variant struct {
	Kind    Kind
	Int     *big.Int
	Hash    []byte
	Addr    common.Address
	Bool    bool
	Str     string
	Bytes   []byte
	Array   []Variant
	ArrElem Kind
}

// uintKind returns the narrowest unsigned-integer Kind whose width is at
// least bits.
func uintKind(bits int) Kind {
	switch {
	case bits <= 8:
		return KindU8
	case bits <= 16:
		return KindU16
	case bits <= 32:
		return KindU32
	case bits <= 64:
		return KindU64
	case bits <= 128:
		return KindU128
	case bits <= 256:
		return KindU256
	default:
		return KindU512
	}
}

func intKind(bits int) Kind {
	switch {
	case bits <= 8:
		return KindI8
	case bits <= 16:
		return KindI16
	case bits <= 32:
		return KindI32
	case bits <= 64:
		return KindI64
	case bits <= 128:
		return KindI128
	case bits <= 256:
		return KindI256
	default:
		return KindI512
	}
}

func hashKind(bits int) Kind {
	switch {
	case bits <= 128:
		return KindH128
	case bits <= 160:
		return KindH160
	case bits <= 256:
		return KindH256
	default:
		return KindH512
	}
}

// String renders a Variant for debug logging and CSV fallback; sink
// encoders do not use this for their wire representation.
func (v Variant) String() string {
	switch v.Kind {
	case KindBool:
		return fmt.Sprintf("%v", v.Bool)
	case KindString:
		return v.Str
	case KindAddress:
		return v.Addr.Hex()
	case KindBytes:
		return fmt.Sprintf("0x%x", v.Bytes)
	case KindH128, KindH160, KindH256, KindH512:
		return fmt.Sprintf("0x%x", v.Hash)
	case KindArray:
		return fmt.Sprintf("%v", v.Array)
	default:
		if v.Int != nil {
			return v.Int.String()
		}
		return ""
	}
}

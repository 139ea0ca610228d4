package codec

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// PostgresValue converts a Variant into a value pgx can bind directly:
// wide integers become NUMERIC via shopspring/decimal (pgx has no native
// int256), hashes and addresses become their 0x-prefixed hex form, and
// empty arrays are encoded as SQL NULL rather than an empty array literal
// so downstream NULL-vs-empty semantics match what a hand-written INSERT
// would produce.
func PostgresValue(v Variant) (interface{}, error) {
	switch v.Kind {
	case KindBool:
		return v.Bool, nil
	case KindString:
		return v.Str, nil
	case KindAddress:
		return v.Addr.Hex(), nil
	case KindBytes:
		return v.Bytes, nil
	case KindH128, KindH160, KindH256, KindH512:
		return fmt.Sprintf("0x%x", v.Hash), nil
	case KindArray:
		if len(v.Array) == 0 {
			return nil, nil
		}
		out := make([]interface{}, len(v.Array))
		for i, e := range v.Array {
			ev, err := PostgresValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	default:
		if v.Int == nil {
			return nil, fmt.Errorf("codec: nil integer for kind %d", v.Kind)
		}
		switch v.Kind {
		case KindU8, KindU16, KindU32, KindI8, KindI16, KindI32, KindI64:
			return v.Int.Int64(), nil
		default:
			// KindU64 falls through here too: an unsigned 64-bit value can
			// exceed math.MaxInt64, which Int64() would silently wrap, so it
			// takes the same NUMERIC-as-decimal path as the >=128-bit widths.
			return decimal.NewFromBigInt(v.Int, 0), nil
		}
	}
}

// PostgresColumnType returns the Postgres column type declaration for a
// Kind, used by the schema-sync path when generating a CREATE TABLE or
// ALTER TABLE statement.
func PostgresColumnType(k Kind) string {
	switch k {
	case KindBool:
		return "boolean"
	case KindString:
		return "text"
	case KindBytes:
		return "bytea"
	case KindAddress, KindH128, KindH160, KindH256, KindH512:
		return "text"
	case KindU8, KindU16, KindU32, KindI8, KindI16, KindI32:
		return "integer"
	case KindI64:
		return "bigint"
	case KindU64:
		return "numeric"
	case KindArray:
		return "jsonb"
	default:
		return "numeric"
	}
}

// marshalArrayJSON is used by the jsonb fallback path for arrays whose
// element kind a sink chooses not to model as a native SQL array.
func marshalArrayJSON(v Variant) ([]byte, error) {
	strs := make([]string, len(v.Array))
	for i, e := range v.Array {
		strs[i] = e.String()
	}
	return json.Marshal(strs)
}

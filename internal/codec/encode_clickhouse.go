package codec

import "fmt"

// ClickHouseValue converts a Variant into a value the clickhouse-go driver
// accepts for its column binding. ClickHouse has native fixed-width
// integer types up to 256 bits, so unlike Postgres only the 512-bit kinds
// fall back to a decimal string.
func ClickHouseValue(v Variant) (interface{}, error) {
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
		out := make([]interface{}, len(v.Array))
		for i, e := range v.Array {
			ev, err := ClickHouseValue(e)
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
		case KindU512, KindI512:
			return v.Int.String(), nil
		default:
			return v.Int, nil
		}
	}
}

// ClickHouseColumnType returns the column type used by the ReplacingMergeTree
// table the columnar sink creates for an event.
func ClickHouseColumnType(k Kind) string {
	switch k {
	case KindBool:
		return "Bool"
	case KindString:
		return "String"
	case KindBytes:
		return "String"
	case KindAddress, KindH128, KindH160, KindH256, KindH512:
		return "FixedString(66)"
	case KindU8:
		return "UInt8"
	case KindU16:
		return "UInt16"
	case KindU32:
		return "UInt32"
	case KindU64:
		return "UInt64"
	case KindU128:
		return "UInt128"
	case KindU256:
		return "UInt256"
	case KindI8:
		return "Int8"
	case KindI16:
		return "Int16"
	case KindI32:
		return "Int32"
	case KindI64:
		return "Int64"
	case KindI128:
		return "Int128"
	case KindI256:
		return "Int256"
	case KindU512, KindI512:
		return "String"
	case KindArray:
		return "Array(String)"
	default:
		return "String"
	}
}

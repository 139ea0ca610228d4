package codec

import "fmt"

// JSONValue converts a Variant into a value encoding/json can marshal
// faithfully: wide integers become their decimal string form (JSON numbers
// cannot carry 256/512-bit precision losslessly), hashes/addresses become
// 0x-prefixed hex, and arrays recurse.
func JSONValue(v Variant) (interface{}, error) {
	switch v.Kind {
	case KindBool:
		return v.Bool, nil
	case KindString:
		return v.Str, nil
	case KindAddress:
		return v.Addr.Hex(), nil
	case KindBytes:
		return fmt.Sprintf("0x%x", v.Bytes), nil
	case KindH128, KindH160, KindH256, KindH512:
		return fmt.Sprintf("0x%x", v.Hash), nil
	case KindArray:
		out := make([]interface{}, len(v.Array))
		for i, e := range v.Array {
			ev, err := JSONValue(e)
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
		return v.Int.String(), nil
	}
}

package codec

import "reflect"

// structFieldsByReflect returns the field values of a go-ethereum-generated
// anonymous tuple struct in declaration order.
func structFieldsByReflect(v interface{}) []interface{} {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Struct {
		return nil
	}
	out := make([]interface{}, rv.NumField())
	for i := range out {
		out[i] = rv.Field(i).Interface()
	}
	return out
}

// sliceByReflect returns the elements of a decoded array/slice value,
// independent of its concrete element type.
func sliceByReflect(v interface{}) []interface{} {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// fixedBytesToSlice copies a decoded fixed-size byte array (e.g. [32]byte)
// into a plain []byte.
func fixedBytesToSlice(v interface{}) []byte {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Array {
		if b, ok := v.([]byte); ok {
			return b
		}
		return nil
	}
	out := make([]byte, rv.Len())
	for i := range out {
		out[i] = byte(rv.Index(i).Uint())
	}
	return out
}

package codec

import "strings"

// CSVValue renders a Variant as the single text field a CSV row writer
// emits for it. Arrays are joined with "|" since CSV has no native array
// type and a comma would collide with the field delimiter.
func CSVValue(v Variant) string {
	if v.Kind == KindArray {
		parts := make([]string, len(v.Array))
		for i, e := range v.Array {
			parts[i] = e.String()
		}
		return strings.Join(parts, "|")
	}
	return v.String()
}

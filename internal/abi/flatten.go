package abi

import (
	"fmt"
	"strings"
	"unicode"

	goabi "github.com/ethereum/go-ethereum/accounts/abi"
)

// NameStyle controls how a flattened column path is rendered into a single
// identifier, since Postgres/ClickHouse/CSV headers each have their own
// conventions for what a dotted tuple path should look like.
type NameStyle int

const (
	// StyleDotted keeps the path as "parent.child", the form a factory's
	// address_input names its column in.
	StyleDotted NameStyle = iota
	// StyleSnake joins path segments with underscores and converts each
	// camelCase segment to snake_case: "orderHash" becomes "order_hash".
	StyleSnake
	// StyleSQL is StyleSnake additionally quoted and lower-cased the way a
	// generated CREATE TABLE statement needs its column identifiers.
	StyleSQL
)

// Column is one flattened leaf of an event's inputs: a scalar, address,
// bytes, string, bool, or a fixed/dynamic array of one of those. Tuples are
// inlined into their parent's path rather than producing a column
// themselves; arrays-of-tuples and arrays-of-arrays cannot be flattened
// into a single column and are rejected by Flatten.
type Column struct {
	Path    []string
	Type    goabi.Type
	Indexed bool
}

// Name renders the column's path according to style.
func (c Column) Name(style NameStyle) string {
	switch style {
	case StyleSnake:
		return snakeCase(strings.Join(c.Path, "_"))
	case StyleSQL:
		return fmt.Sprintf("%q", snakeCase(strings.Join(c.Path, "_")))
	default:
		return strings.Join(c.Path, ".")
	}
}

// snakeCase lower-cases s, inserting "_" at each camelCase word boundary.
func snakeCase(s string) string {
	rs := []rune(s)
	var b strings.Builder
	for i, r := range rs {
		if i > 0 && unicode.IsUpper(r) && (unicode.IsLower(rs[i-1]) || unicode.IsDigit(rs[i-1]) ||
			(unicode.IsUpper(rs[i-1]) && i+1 < len(rs) && unicode.IsLower(rs[i+1]))) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// Flatten walks an event's inputs in declaration order and produces the
// column list a sink table is built from. Tuple fields are inlined using
// their field name as a path segment; everything else becomes exactly one
// column.
func Flatten(e Event) ([]Column, error) {
	var cols []Column
	for _, arg := range e.Inputs {
		leafCols, err := flattenType(arg.Name, arg.Indexed, arg.Type)
		if err != nil {
			return nil, fmt.Errorf("abi: flatten %s.%s: %w", e.Name, arg.Name, err)
		}
		cols = append(cols, leafCols...)
	}
	return cols, nil
}

func flattenType(name string, indexed bool, t goabi.Type) ([]Column, error) {
	switch t.T {
	case goabi.TupleTy:
		if indexed {
			// A topic-encoded tuple is packed as the keccak256 hash of its
			// ABI-encoded contents, not its individual fields; there is
			// nothing to flatten.
			return []Column{{Path: []string{name}, Type: t, Indexed: true}}, nil
		}
		var out []Column
		for i, fieldType := range t.TupleElems {
			fieldName := name
			if i < len(t.TupleRawNames) && t.TupleRawNames[i] != "" {
				fieldName = t.TupleRawNames[i]
			}
			sub, err := flattenType(fieldName, false, *fieldType)
			if err != nil {
				return nil, err
			}
			for _, c := range sub {
				c.Path = append([]string{name}, c.Path...)
				out = append(out, c)
			}
		}
		return out, nil

	case goabi.ArrayTy, goabi.SliceTy:
		switch t.Elem.T {
		case goabi.TupleTy, goabi.ArrayTy, goabi.SliceTy:
			return nil, fmt.Errorf("nested array of %s not supported in %q", t.Elem.String(), name)
		default:
			return []Column{{Path: []string{name}, Type: t, Indexed: indexed}}, nil
		}

	default:
		return []Column{{Path: []string{name}, Type: t, Indexed: indexed}}, nil
	}
}

package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Canonical produces a deterministic byte representation of a manifest
// suitable for equality comparison: map keys sorted, no whitespace
// variance. The types carry only yaml tags, so json.Marshal keys each
// field by its Go field name; json.Marshal already sorts map keys but
// not struct field order; since every
// type here is a struct (not a map), field order is fixed by the type
// definition and therefore stable across calls.
func Canonical(m *Manifest) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("manifest: canonicalize: %w", err)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return nil, fmt.Errorf("manifest: compact: %w", err)
	}
	return compact.Bytes(), nil
}

// Equal reports whether two manifests serialize identically.
func Equal(a, b *Manifest) (bool, error) {
	ca, err := Canonical(a)
	if err != nil {
		return false, err
	}
	cb, err := Canonical(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ca, cb), nil
}

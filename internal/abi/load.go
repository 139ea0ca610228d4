package abi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	goabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// Load parses one or more Solidity ABI JSON files belonging to the same
// contract and merges their event sets. A later file redeclaring an event
// already seen is accepted only if its signature hash matches exactly;
// otherwise Load reports a conflict rather than silently picking one.
func Load(paths ...string) (*Set, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("abi: no files given")
	}

	set := &Set{Events: make(map[string]Event)}

	for i, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("abi: read %s: %w", p, err)
		}

		// Some exporters wrap the ABI array under a top-level "abi" key
		// (Hardhat/Truffle artifacts); detect and unwrap that shape.
		raw = unwrapArtifact(raw)

		parsed, err := goabi.JSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("abi: parse %s: %w", p, err)
		}

		if i == 0 {
			set.ABI = parsed
		}

		for name, ev := range parsed.Events {
			sig := ev.Sig
			topic0 := crypto.Keccak256Hash([]byte(sig))

			next := Event{
				Name:      name,
				Signature: sig,
				Topic0:    topic0,
				Inputs:    ev.Inputs,
				Raw:       ev,
			}

			if existing, ok := set.Events[name]; ok {
				if existing.Topic0 != next.Topic0 {
					return nil, fmt.Errorf("abi: event %q redeclared with a different signature across %v", name, paths)
				}
				continue
			}
			set.Events[name] = next
		}
	}

	if len(set.Events) == 0 {
		return nil, fmt.Errorf("abi: no events found in %v", paths)
	}

	return set, nil
}

func unwrapArtifact(raw []byte) []byte {
	var probe struct {
		ABI json.RawMessage `json:"abi"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && len(probe.ABI) > 0 {
		var arr []json.RawMessage
		if err := json.Unmarshal(probe.ABI, &arr); err == nil {
			return probe.ABI
		}
	}
	return raw
}


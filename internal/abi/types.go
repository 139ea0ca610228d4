// Package abi loads Solidity ABI JSON files and turns each event definition
// into the descriptor the rest of the engine schedules, decodes, and
// persists against: a stable name, its topic-0 signature hash, and the
// flattened column list a sink table is built from.
package abi

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Event is one indexable log signature.
type Event struct {
	Name      string
	Signature string
	Topic0    common.Hash
	Inputs    abi.Arguments
	Raw       abi.Event
}

// Indexed returns the subset of inputs that are topic-encoded.
func (e Event) Indexed() abi.Arguments {
	var out abi.Arguments
	for _, a := range e.Inputs {
		if a.Indexed {
			out = append(out, a)
		}
	}
	return out
}

// NonIndexed returns the subset of inputs packed into the log body.
func (e Event) NonIndexed() abi.Arguments {
	return e.Inputs.NonIndexed()
}

// Set is a name-keyed collection of events parsed from one or more ABI
// files belonging to a single contract.
type Set struct {
	Events map[string]Event
	ABI    abi.ABI
}

// ByTopic0 returns the event whose signature hash is topic, if any.
func (s Set) ByTopic0(topic common.Hash) (Event, bool) {
	for _, e := range s.Events {
		if e.Topic0 == topic {
			return e, true
		}
	}
	return Event{}, false
}

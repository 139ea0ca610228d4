package orchestrator

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/chainkit/evmindexer/internal/abi"
	"github.com/chainkit/evmindexer/internal/codec"
	"github.com/chainkit/evmindexer/internal/manifest"
	"github.com/chainkit/evmindexer/internal/rpcprovider"
)

// resolveFactoryAddresses is a best-effort, startup-time-only resolution of
// a factory contract's child addresses: it scans every historic log whose
// topic-0 is the factory's declared event, between the detail's StartBlock
// and the current chain head, and extracts the address named by
// Factory.AddressInput from each decoded log. The query filters on topic-0
// only, so logs of that event from any emitting address are included.
//
// This intentionally does not track new children the factory spawns after
// startup — doing that live would mean re-opening the scheduler tree's
// address list mid-run, which §4 doesn't describe a mechanism for. A
// manifest relying on a factory that creates contracts throughout the
// indexing window needs a restart to pick up addresses created after the
// last resolution (a SIGHUP reload only classifies the diff); this is recorded as an
// open-question simplification in DESIGN.md.
func resolveFactoryAddresses(ctx context.Context, provider *rpcprovider.Provider, factoryEvents *abi.Set, factory *manifest.Factory, fromBlock uint64) ([]common.Address, error) {
	event, ok := factoryEvents.Events[factory.Event]
	if !ok {
		return nil, fmt.Errorf("orchestrator: factory event %q not found in %q's ABI", factory.Event, factory.Contract)
	}

	cols, err := abi.Flatten(event)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: factory: flatten %s: %w", factory.Event, err)
	}

	addrIdx := -1
	for i, c := range cols {
		if c.Name(abi.StyleDotted) == factory.AddressInput {
			addrIdx = i
			break
		}
	}
	if addrIdx == -1 {
		return nil, fmt.Errorf("orchestrator: factory: address_input %q not found among %s's columns", factory.AddressInput, factory.Event)
	}

	head, err := provider.LatestBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: factory: latest block: %w", err)
	}

	logs, err := provider.GetLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(head),
		Topics:    [][]common.Hash{{event.Topic0}},
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: factory: get logs: %w", err)
	}

	seen := make(map[common.Address]bool)
	var out []common.Address
	for _, l := range logs {
		row, err := codec.DecodeLog(event, l)
		if err != nil {
			continue
		}
		if addrIdx >= len(row) || row[addrIdx].Kind != codec.KindAddress {
			continue
		}
		addr := row[addrIdx].Addr
		if !seen[addr] {
			seen[addr] = true
			out = append(out, addr)
		}
	}
	return out, nil
}

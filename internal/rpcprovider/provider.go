// Package rpcprovider wraps a single network's JSON-RPC endpoint: batched
// block fetches, latest-block polling, log filtering, and chain-id
// verification. It is the one place in the engine that talks to a node.
package rpcprovider

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
)

// maxBatchSize bounds a single eth_getBlockByNumber batch call; providers
// commonly reject or silently truncate larger batches.
const maxBatchSize = 1000

// Provider is a single network's RPC client.
type Provider struct {
	Name    string
	eth     *ethclient.Client
	rpc     *rpc.Client
	chainID *big.Int
	log     zerolog.Logger

	headers *headerCache
}

// Dial connects to rpcURL and verifies its chain ID matches expected.
func Dial(ctx context.Context, name, rpcURL string, expectedChainID int64, log zerolog.Logger) (*Provider, error) {
	rc, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("rpcprovider: dial %s: %w", name, err)
	}
	ec := ethclient.NewClient(rc)

	actual, err := ec.ChainID(ctx)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("rpcprovider: %s: chain id: %w", name, err)
	}
	if actual.Cmp(big.NewInt(expectedChainID)) != 0 {
		rc.Close()
		return nil, fmt.Errorf("rpcprovider: %s: chain id mismatch: manifest says %d, node says %s", name, expectedChainID, actual)
	}

	return &Provider{
		Name:    name,
		eth:     ec,
		rpc:     rc,
		chainID: actual,
		log:     log.With().Str("network", name).Logger(),
		headers: newHeaderCache(4096),
	}, nil
}

// ChainID returns the network's verified chain id.
func (p *Provider) ChainID() int64 { return p.chainID.Int64() }

// LatestBlock returns the current chain head.
func (p *Provider) LatestBlock(ctx context.Context) (uint64, error) {
	n, err := p.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("rpcprovider: %s: block number: %w", p.Name, err)
	}
	return n, nil
}

// GetLogs runs eth_getLogs for query.
func (p *Provider) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	logs, err := p.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rpcprovider: %s: get logs: %w", p.Name, err)
	}
	return logs, nil
}

// HeaderByNumber returns a block header, serving from the in-process cache
// when available.
func (p *Provider) HeaderByNumber(ctx context.Context, number uint64) (*types.Header, error) {
	if h, ok := p.headers.get(number); ok {
		return h, nil
	}
	h, err := p.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return nil, fmt.Errorf("rpcprovider: %s: header %d: %w", p.Name, number, err)
	}
	p.headers.put(number, h)
	return h, nil
}

// BatchHeaders fetches headers for [from, to] in chunks of at most
// maxBatchSize, flattening responses back into block-number order.
func (p *Provider) BatchHeaders(ctx context.Context, from, to uint64) ([]*types.Header, error) {
	if from > to {
		return nil, fmt.Errorf("rpcprovider: %s: invalid range [%d,%d]", p.Name, from, to)
	}

	var out []*types.Header
	for start := from; start <= to; start += maxBatchSize {
		end := start + maxBatchSize - 1
		if end > to {
			end = to
		}

		batch := make([]rpc.BatchElem, 0, end-start+1)
		results := make([]*types.Header, end-start+1)
		for i := range results {
			num := start + uint64(i)
			results[i] = new(types.Header)
			batch = append(batch, rpc.BatchElem{
				Method: "eth_getBlockByNumber",
				Args:   []interface{}{hexBlockNumber(num), false},
				Result: results[i],
			})
		}

		if err := p.rpc.BatchCallContext(ctx, batch); err != nil {
			return nil, fmt.Errorf("rpcprovider: %s: batch headers [%d,%d]: %w", p.Name, start, end, err)
		}
		for i, elem := range batch {
			if elem.Error != nil {
				return nil, fmt.Errorf("rpcprovider: %s: header %d: %w", p.Name, start+uint64(i), elem.Error)
			}
			p.headers.put(start+uint64(i), results[i])
		}
		out = append(out, results...)
	}
	return out, nil
}

// BlockTimestamps implements blockclock.HeaderSource.
func (p *Provider) BlockTimestamps(ctx context.Context, from, to uint64) ([]uint64, []uint64, error) {
	headers, err := p.BatchHeaders(ctx, from, to)
	if err != nil {
		return nil, nil, err
	}
	blocks := make([]uint64, len(headers))
	timestamps := make([]uint64, len(headers))
	for i, h := range headers {
		blocks[i] = h.Number.Uint64()
		timestamps[i] = h.Time
	}
	return blocks, timestamps, nil
}

// SubscribeNewHead subscribes to new headers over the same connection;
// returns an error if the endpoint does not support subscriptions (plain
// HTTP transports commonly don't).
func (p *Provider) SubscribeNewHead(ctx context.Context) (chan *types.Header, ethereum.Subscription, error) {
	headers := make(chan *types.Header)
	sub, err := p.eth.SubscribeNewHead(ctx, headers)
	if err != nil {
		return nil, nil, fmt.Errorf("rpcprovider: %s: subscribe new head: %w", p.Name, err)
	}
	return headers, sub, nil
}

// Close releases the underlying connection.
func (p *Provider) Close() {
	p.rpc.Close()
}

func hexBlockNumber(n uint64) string {
	return "0x" + new(big.Int).SetUint64(n).Text(16)
}

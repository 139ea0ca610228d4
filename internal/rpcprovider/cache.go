package rpcprovider

import (
	"container/list"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
)

// headerCache is a small fixed-capacity LRU of recently fetched headers,
// keyed by block number. It backs the BlockClock poller's and the
// Fetcher's bloom-check path, both of which tend to re-request headers for
// blocks seen moments earlier by a sibling event's fetch.
//
// This is deliberately not a third-party cache: it is a map plus an
// eviction list keyed by a scalar, which a generic LRU library would not
// meaningfully simplify.
type headerCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[uint64]*list.Element
}

type headerEntry struct {
	block  uint64
	header *types.Header
}

func newHeaderCache(capacity int) *headerCache {
	return &headerCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[uint64]*list.Element, capacity),
	}
}

func (c *headerCache) get(block uint64) (*types.Header, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[block]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*headerEntry).header, true
}

func (c *headerCache) put(block uint64, h *types.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[block]; ok {
		el.Value.(*headerEntry).header = h
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&headerEntry{block: block, header: h})
	c.entries[block] = el

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*headerEntry).block)
		}
	}
}

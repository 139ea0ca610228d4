package blockclock

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

// Registry is the process-wide BlockClock cache keyed by network name
// (§3's "Ownership" rule: the cache is process-wide, entries are shared
// read-only once constructed, construction is guarded by a per-network
// lock to avoid duplicate loads racing each other into the same file).
type Registry struct {
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	clocks  map[string]*Clock
	dir     string
	debug   bool
}

// NewRegistry creates a registry that persists one `<network>.blockclock`
// file per network under dir.
func NewRegistry(dir string, debug bool) *Registry {
	return &Registry{
		locks:  make(map[string]*sync.Mutex),
		clocks: make(map[string]*Clock),
		dir:    dir,
		debug:  debug,
	}
}

// Path returns the file path a network's Clock is persisted at.
func (r *Registry) Path(network string) string {
	return fmt.Sprintf("%s/%s.blockclock", r.dir, network)
}

// Get returns the shared Clock for network, opening its file (or creating
// a fresh in-memory Clock keyed by networkID if no file exists yet) the
// first time any caller asks for it. Concurrent callers for the same
// network block on each other rather than racing two independent opens;
// callers for different networks never contend.
func (r *Registry) Get(network string, networkID int64) (*Clock, error) {
	r.mu.Lock()
	lock, ok := r.locks[network]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[network] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	if c, ok := r.clocks[network]; ok {
		return c, nil
	}

	path := r.Path(network)
	clock, err := Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			clock = New(networkID)
		} else {
			return nil, fmt.Errorf("blockclock: registry open %s: %w", network, err)
		}
	}

	r.clocks[network] = clock
	return clock, nil
}

// Flush persists every loaded Clock to its file, used on checkpoint
// interval and on shutdown.
func (r *Registry) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for network, clock := range r.clocks {
		if err := clock.Flush(r.Path(network), r.debug); err != nil {
			return fmt.Errorf("blockclock: flush %s: %w", network, err)
		}
	}
	return nil
}

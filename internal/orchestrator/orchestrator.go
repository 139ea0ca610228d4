// Package orchestrator binds every other package into one running indexer:
// it dials a rpcprovider.Provider per network, owns the process-wide
// blockclock.Registry and progress.Store, builds the configured sinks, and
// turns each contract's manifest declaration into a scheduler tree (or a
// flat, order-free set of units for a contract with no declared
// dependencies) that it drives to completion and then keeps live.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/chainkit/evmindexer/internal/abi"
	"github.com/chainkit/evmindexer/internal/blockclock"
	"github.com/chainkit/evmindexer/internal/codec"
	"github.com/chainkit/evmindexer/internal/fetcher"
	"github.com/chainkit/evmindexer/internal/manifest"
	"github.com/chainkit/evmindexer/internal/processor"
	"github.com/chainkit/evmindexer/internal/progress"
	"github.com/chainkit/evmindexer/internal/rpcprovider"
	"github.com/chainkit/evmindexer/internal/scheduler"
	"github.com/chainkit/evmindexer/internal/sink"
	"github.com/chainkit/evmindexer/internal/sink/clickhouse"
	"github.com/chainkit/evmindexer/internal/sink/csvsink"
	"github.com/chainkit/evmindexer/internal/sink/postgres"
	"github.com/chainkit/evmindexer/internal/sink/stream"
)

// reorgSafeDistance is the number of confirmations the fetcher waits
// behind the chain head before treating a block as final. It applies to
// every network; the manifest has no per-network setting for it.
// §4.3/§4.6 discuss reorg safety without
// pinning one network-independent constant; 12 matches Ethereum mainnet's
// commonly-cited finality depth and is conservative enough for an L2/testnet
// default too.
const reorgSafeDistance = 12

// Config is the set of knobs that come from outside the manifest: file
// paths and permit-pool sizing a deployment chooses per environment rather
// than per project.
type Config struct {
	ProgressPath  string
	BlockClockDir string
	DatabaseURL   string
	RPCPermits    int
	BufferSize    int
}

// Orchestrator owns every long-lived resource an indexing run needs and
// the dependency trees built from the manifest.
type Orchestrator struct {
	log         zerolog.Logger
	manifest    *manifest.Manifest
	providers   map[string]*rpcprovider.Provider
	clocks      *blockclock.Registry
	store       *progress.Store
	sinks       []sink.Sink
	sem         *semaphore.Weighted
	bufferSize  int
	concurrency int
	trees       []tree
	pollers     []networkPoller
	postgres    *postgres.Sink
	clickhouse  *clickhouse.Sink
	closers     []func() error
}

type networkPoller struct {
	poller   *blockclock.Poller
	provider *rpcprovider.Provider
}

type tree struct {
	contract string
	network  string
	root     *scheduler.Node
}

// New builds every provider, sink, and dependency tree the manifest
// describes, but starts nothing — call Run to begin fetching.
func New(ctx context.Context, m *manifest.Manifest, cfg Config, log zerolog.Logger) (*Orchestrator, error) {
	permits := cfg.RPCPermits
	if permits <= 0 {
		permits = 100
	}
	if m.Config != nil && m.Config.RPCPermits != nil {
		permits = *m.Config.RPCPermits
	}

	bufferSize := cfg.BufferSize
	if m.Config != nil && m.Config.BufferSize != nil {
		bufferSize = *m.Config.BufferSize
	}

	concurrency := 0
	if m.Config != nil && m.Config.CallbackConcurrency != nil {
		concurrency = *m.Config.CallbackConcurrency
	}

	o := &Orchestrator{
		log:         log,
		manifest:    m,
		providers:   make(map[string]*rpcprovider.Provider),
		sem:         semaphore.NewWeighted(int64(permits)),
		bufferSize:  bufferSize,
		concurrency: concurrency,
	}

	for _, n := range m.Networks {
		p, err := rpcprovider.Dial(ctx, n.Name, n.RPC, n.ChainID, log)
		if err != nil {
			o.closeProvidersBestEffort()
			return nil, fmt.Errorf("orchestrator: dial %s: %w", n.Name, err)
		}
		o.providers[n.Name] = p
	}

	clockDir := cfg.BlockClockDir
	if clockDir == "" {
		clockDir = "."
	}
	o.clocks = blockclock.NewRegistry(clockDir, false)

	for _, n := range m.Networks {
		clock, err := o.clocks.Get(n.Name, n.ChainID)
		if err != nil {
			o.closeProvidersBestEffort()
			return nil, fmt.Errorf("orchestrator: %s: blockclock: %w", n.Name, err)
		}
		provider := o.providers[n.Name]
		p := blockclock.NewPoller(clock, provider, o.clocks.Path(n.Name), 1000, false, log)
		o.pollers = append(o.pollers, networkPoller{poller: p, provider: provider})
	}

	progressPath := cfg.ProgressPath
	if progressPath == "" {
		progressPath = "progress.db"
	}
	store, err := progress.Open(progressPath)
	if err != nil {
		o.closeProvidersBestEffort()
		return nil, fmt.Errorf("orchestrator: open progress store: %w", err)
	}
	o.store = store

	if err := o.buildSinks(ctx, cfg); err != nil {
		store.Close()
		o.closeProvidersBestEffort()
		return nil, err
	}

	fanout := sink.NewFanout(o.sinks...)

	abiSets := make(map[string]*abi.Set, len(m.Contracts))
	for _, c := range m.Contracts {
		set, err := abi.Load(c.ABI...)
		if err != nil {
			o.Close()
			return nil, fmt.Errorf("orchestrator: contract %q: %w", c.Name, err)
		}
		abiSets[c.Name] = set
	}

	for _, c := range m.Contracts {
		for _, d := range c.Details {
			t, err := o.buildContractTree(ctx, c, d, abiSets, fanout)
			if err != nil {
				o.Close()
				return nil, fmt.Errorf("orchestrator: contract %q on %q: %w", c.Name, d.Network, err)
			}
			o.trees = append(o.trees, t)
		}
	}

	return o, nil
}

func (o *Orchestrator) buildSinks(ctx context.Context, cfg Config) error {
	st := o.manifest.Storage
	if st == nil {
		return nil
	}

	if st.Postgres != nil && st.Postgres.Enabled {
		dsn := cfg.DatabaseURL
		if dsn == "" {
			return fmt.Errorf("postgres storage enabled but no database URL configured")
		}
		s, err := postgres.Open(ctx, dsn, o.log)
		if err != nil {
			return fmt.Errorf("postgres sink: %w", err)
		}
		o.postgres = s
		o.sinks = append(o.sinks, s)
		o.closers = append(o.closers, func() error { s.Close(); return nil })
	}

	if st.ClickHouse != nil && st.ClickHouse.Enabled {
		s, err := clickhouse.Open(ctx, st.ClickHouse.DSN, o.log)
		if err != nil {
			return fmt.Errorf("clickhouse sink: %w", err)
		}
		o.clickhouse = s
		o.sinks = append(o.sinks, s)
		o.closers = append(o.closers, s.Close)
	}

	if st.CSV != nil && st.CSV.Enabled {
		s, err := csvsink.New(st.CSV.Path, o.log)
		if err != nil {
			return fmt.Errorf("csv sink: %w", err)
		}
		o.sinks = append(o.sinks, s)
		o.closers = append(o.closers, s.Close)
	}

	if st.Streams != nil {
		streamSink, err := o.buildStreamSink(ctx, st.Streams)
		if err != nil {
			return err
		}
		if streamSink != nil {
			o.sinks = append(o.sinks, streamSink)
			o.closers = append(o.closers, streamSink.Close)
		}
	}

	return nil
}

func (o *Orchestrator) buildStreamSink(ctx context.Context, cfg *manifest.StreamsStorage) (*stream.Sink, error) {
	var transports []stream.Transport

	if cfg.NATS != nil && cfg.NATS.Enabled {
		t, err := stream.DialNATS(ctx, cfg.NATS.URL, cfg.NATS.StreamName, cfg.NATS.SubjectPrefix, 24*time.Hour, o.log)
		if err != nil {
			return nil, fmt.Errorf("nats stream: %w", err)
		}
		transports = append(transports, t)
	}

	if cfg.Kafka != nil && cfg.Kafka.Enabled {
		transports = append(transports, stream.DialKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic, o.log))
	}

	if len(transports) == 0 {
		return nil, nil
	}
	return stream.New(o.log, nil, transports...), nil
}

// buildContractTree resolves one (contract, network) binding's events into
// eventUnits and arranges them into the scheduler tree the manifest
// declares (or a single flat, unordered node when it declares none).
func (o *Orchestrator) buildContractTree(ctx context.Context, c manifest.Contract, d manifest.ContractDetail, abiSets map[string]*abi.Set, fanout sink.Sink) (tree, error) {
	provider, ok := o.providers[d.Network]
	if !ok {
		return tree{}, fmt.Errorf("network %q not dialed", d.Network)
	}

	set := abiSets[c.Name]

	addresses, err := o.resolveAddresses(ctx, c, d, abiSets, provider)
	if err != nil {
		return tree{}, err
	}

	units := make(map[string]*eventUnit, len(c.Events))
	for _, ec := range c.Events {
		event, ok := set.Events[ec.Name]
		if !ok {
			return tree{}, fmt.Errorf("event %q not found in contract %q's ABI", ec.Name, c.Name)
		}

		cols, err := abi.Flatten(event)
		if err != nil {
			return tree{}, fmt.Errorf("flatten %s.%s: %w", c.Name, ec.Name, err)
		}

		if err := o.ensureTables(ctx, c.Name, event, cols); err != nil {
			return tree{}, err
		}

		key := progress.Key{Indexer: o.manifest.Name, Contract: c.Name, Event: ec.Name, Network: d.Network}

		safe := reorgSafeDistance
		endBlock := d.EndBlock
		maxRange := o.maxRangeFor(d.Network)

		cfg := fetcherConfigFor(d.Network, c.Name, ec.Name, addresses, event, d.StartBlock, endBlock, uint64(safe), maxRange, provider, o.sem, o.log)
		cfg.BufferSize = o.bufferSize

		units[ec.Name] = &eventUnit{
			name:     fmt.Sprintf("%s.%s@%s", c.Name, ec.Name, d.Network),
			fetchCfg: cfg,
			proc: &processor.Processor{
				Key:          key,
				ContractName: c.Name,
				Event:        event,
				Columns:      cols,
				Sink:         fanout,
				Store:        o.store,
				IndexInOrder: ec.IndexInOrder,
				Concurrency:  o.concurrency,
				Log:          o.log,
			},
			store:       o.store,
			progressKey: key,
			liveEnabled: d.EndBlock == nil,
		}
	}

	root, err := buildTree(c, units)
	if err != nil {
		return tree{}, err
	}

	return tree{contract: c.Name, network: d.Network, root: root}, nil
}

// buildTree turns the manifest's DependencyTree (if declared) into a
// scheduler.Node, validating it only references this contract's own
// events first; a contract with no DependencyTree gets every configured
// event as peers in one flat node, since independent events carry no
// ordering constraint relative to each other (§4.7).
func buildTree(c manifest.Contract, units map[string]*eventUnit) (*scheduler.Node, error) {
	eventNames := make(map[string]bool, len(c.Events))
	for _, ec := range c.Events {
		eventNames[ec.Name] = true
	}

	if c.Dependencies == nil {
		peers := make([]scheduler.Unit, 0, len(units))
		for _, ec := range c.Events {
			peers = append(peers, units[ec.Name])
		}
		return &scheduler.Node{Peers: peers}, nil
	}

	evTree := manifestTreeToEventTree(c.Dependencies)
	if err := scheduler.Validate(eventNames, evTree); err != nil {
		return nil, err
	}
	return eventTreeToNode(evTree, units)
}

func manifestTreeToEventTree(d *manifest.DependencyTree) *scheduler.EventTree {
	if d == nil {
		return nil
	}
	return &scheduler.EventTree{
		Events: d.Events,
		Then:   manifestTreeToEventTree(d.Then),
	}
}

func eventTreeToNode(t *scheduler.EventTree, units map[string]*eventUnit) (*scheduler.Node, error) {
	if t == nil {
		return nil, nil
	}
	peers := make([]scheduler.Unit, 0, len(t.Events))
	for _, name := range t.Events {
		u, ok := units[name]
		if !ok {
			return nil, fmt.Errorf("dependency tree references %q, which has no event config on this contract", name)
		}
		peers = append(peers, u)
	}
	then, err := eventTreeToNode(t.Then, units)
	if err != nil {
		return nil, err
	}
	return &scheduler.Node{Peers: peers, Then: then}, nil
}

func (o *Orchestrator) resolveAddresses(ctx context.Context, c manifest.Contract, d manifest.ContractDetail, abiSets map[string]*abi.Set, provider *rpcprovider.Provider) ([]common.Address, error) {
	if d.Factory == nil {
		addrs := make([]common.Address, len(d.Addresses))
		for i, a := range d.Addresses {
			addrs[i] = common.HexToAddress(a)
		}
		return addrs, nil
	}

	factoryEvents, ok := abiSets[d.Factory.Contract]
	if !ok {
		return nil, fmt.Errorf("factory contract %q not declared in this manifest", d.Factory.Contract)
	}
	return resolveFactoryAddresses(ctx, provider, factoryEvents, d.Factory, d.StartBlock)
}

func (o *Orchestrator) maxRangeFor(network string) *uint64 {
	for _, n := range o.manifest.Networks {
		if n.Name == network {
			return n.MaxBlockRange
		}
	}
	return nil
}

func (o *Orchestrator) ensureTables(ctx context.Context, contractName string, event abi.Event, cols []abi.Column) error {
	tableName := tableNameFor(contractName, event.Name)
	columnNames := make([]string, len(cols))
	columnKinds := make([]codec.Kind, len(cols))
	for i, c := range cols {
		columnNames[i] = c.Name(abi.StyleSnake)
		kind, err := codec.KindForSolidityType(c.Type)
		if err != nil {
			return fmt.Errorf("ensure table %s: %w", tableName, err)
		}
		columnKinds[i] = kind
	}

	if o.postgres != nil {
		if err := o.postgres.EnsureTable(ctx, tableName, columnNames, columnKinds); err != nil {
			return fmt.Errorf("postgres ensure table %s: %w", tableName, err)
		}
	}

	if o.clickhouse != nil {
		if err := o.clickhouse.EnsureTable(ctx, tableName, cols); err != nil {
			return fmt.Errorf("clickhouse ensure table %s: %w", tableName, err)
		}
	}

	return nil
}

func tableNameFor(contract, event string) string {
	return fmt.Sprintf("%s_%s", lower(contract), lower(event))
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Run drives every contract's dependency tree to completion and keeps
// every live-enabled unit running until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, np := range o.pollers {
		np := np
		g.Go(func() error {
			return np.poller.Run(gctx, np.provider.LatestBlock)
		})
	}

	for _, t := range o.trees {
		t := t
		sched := &scheduler.Scheduler{}
		g.Go(func() error {
			if err := sched.Run(gctx, t.root); err != nil {
				return fmt.Errorf("%s@%s: %w", t.contract, t.network, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Shutdown flushes every BlockClock, flushes every sink, and closes the
// progress store — the order §4.10 asks for so a crash between steps
// never loses a durably-processed batch's watermark.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	var errs []error
	if err := o.clocks.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flush blockclocks: %w", err))
	}
	for _, s := range o.sinks {
		if err := s.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush sink: %w", err))
		}
	}
	if err := o.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close progress store: %w", err))
	}
	errs = append(errs, o.closeSinksBestEffort()...)
	return errors.Join(errs...)
}

// Close releases every dialed resource without attempting a graceful
// flush, used when New itself fails partway through construction.
func (o *Orchestrator) Close() {
	o.closeSinksBestEffort()
	if o.store != nil {
		o.store.Close()
	}
	o.closeProvidersBestEffort()
}

func (o *Orchestrator) closeSinksBestEffort() []error {
	var errs []error
	for _, c := range o.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	o.closers = nil
	return errs
}

func (o *Orchestrator) closeProvidersBestEffort() {
	for _, p := range o.providers {
		p.Close()
	}
}

// fetcherConfigFor builds the fetcher.Config for one (contract, event,
// network) unit. IndexedTopics is left nil: this engine filters indexed
// arguments by decoding every log for the event's topic-0 rather than by
// narrowing the eth_getLogs topic list further, since a manifest event
// config carries no per-argument filter value to narrow it with (§1's
// "phantom"/filter-expression layer is out of scope).
func fetcherConfigFor(network, contractName, eventName string, addresses []common.Address, event abi.Event, startBlock uint64, endBlock *uint64, safeDistance uint64, maxRange *uint64, provider *rpcprovider.Provider, sem *semaphore.Weighted, log zerolog.Logger) fetcher.Config {
	return fetcher.Config{
		Network:      network,
		EventName:    eventName,
		InfoName:     fmt.Sprintf("%s.%s@%s", contractName, eventName, network),
		Addresses:    addresses,
		Topic0:       event.Topic0,
		StartBlock:   startBlock,
		EndBlock:     endBlock,
		SafeDistance: safeDistance,
		MaxRange:     maxRange,
		Sem:          sem,
		Provider:     provider,
		Log:          log,
	}
}

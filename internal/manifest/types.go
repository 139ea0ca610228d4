// Package manifest defines the declarative YAML document that describes what
// an indexer instance indexes: networks, contracts, storage sinks, and
// tuning knobs. It intentionally does not implement a general-purpose YAML
// schema validator or the full `rindexer`-style CLI scaffolding commands —
// only the structures the core engine needs to bind against.
package manifest

// ProjectType distinguishes a manifest that drives generated typed handlers
// from one driven entirely by the no-code default path. Both project types
// bind to the same core engine; only C9's RequiresFullRestart classification
// treats a ProjectType change as identity-bearing.
type ProjectType string

const (
	ProjectTypeRust   ProjectType = "rust"
	ProjectTypeNoCode ProjectType = "no-code"
)

// Manifest is the root of one indexing project.
type Manifest struct {
	Name            string           `yaml:"name"`
	ProjectType     ProjectType      `yaml:"project_type"`
	Networks        []Network        `yaml:"networks"`
	Contracts       []Contract       `yaml:"contracts"`
	Storage         *Storage         `yaml:"storage,omitempty"`
	NativeTransfers bool             `yaml:"native_transfers,omitempty"`
	Phantom         *Phantom         `yaml:"phantom,omitempty"`
	Global          *Global          `yaml:"global,omitempty"`
	GraphQL         *GraphQL         `yaml:"graphql,omitempty"`
	Relationships   []Relationship   `yaml:"relationships,omitempty"`
	Config          *TuningConfig    `yaml:"config,omitempty"`
}

// TuningConfig holds pure runtime-tuning knobs: changing any of these is
// classified HotApply by the differ (C9) since none of them touch identity,
// wire format, or a connection that needs re-establishing.
type TuningConfig struct {
	BufferSize          *int `yaml:"buffer_size,omitempty"`
	CallbackConcurrency *int `yaml:"callback_concurrency,omitempty"`
	RPCPermits          *int `yaml:"rpc_permits,omitempty"`
}

// Network is one EVM-compatible chain the indexer talks to.
type Network struct {
	Name                  string   `yaml:"name"`
	ChainID               int64    `yaml:"chain_id"`
	RPC                   string   `yaml:"rpc"`
	MaxBlockRange         *uint64  `yaml:"max_block_range,omitempty"`
	BloomCheckDisabled    bool     `yaml:"disable_logs_bloom_checks,omitempty"`
	ComputeUnitsPerSecond *float64 `yaml:"compute_units_per_second,omitempty"`
}

// ContractDetail binds one network to an addressing strategy for a contract.
type ContractDetail struct {
	Network         string   `yaml:"network"`
	Addresses       []string `yaml:"addresses,omitempty"`
	FilterOnly      bool     `yaml:"filter_only,omitempty"`
	Factory         *Factory `yaml:"factory,omitempty"`
	StartBlock      uint64   `yaml:"start_block"`
	EndBlock        *uint64  `yaml:"end_block,omitempty"`
}

// Factory describes a parent contract whose events spawn new indexable
// child-contract addresses at runtime.
type Factory struct {
	Contract      string `yaml:"contract"`
	Event         string `yaml:"event"`
	AddressInput  string `yaml:"address_input"`
}

// EventConfig configures one included event of a contract, including
// whether it must index strictly in historic order before live-indexing.
type EventConfig struct {
	Name              string `yaml:"name"`
	IndexInOrder      bool   `yaml:"index_event_in_order,omitempty"`
}

// Contract is one indexing target: an ABI, the networks it lives on, the
// block range to cover, and the events of interest.
type Contract struct {
	Name         string           `yaml:"name"`
	ABI          []string         `yaml:"abi"`
	Details      []ContractDetail `yaml:"details"`
	Events       []EventConfig    `yaml:"events"`
	Dependencies *DependencyTree  `yaml:"dependencies,omitempty"`
}

// DependencyTree mirrors the scheduler's tree shape so a manifest can
// declare it directly: events in the same node run in parallel, `Then`
// cannot start until every peer has drained its historic phase.
type DependencyTree struct {
	Events []string         `yaml:"events"`
	Then   *DependencyTree  `yaml:"then,omitempty"`
}

// Relationship declares a cross-event foreign-key-like link. It is loaded
// and compared by the hot-reload differ; no sink constraint and no
// scheduler dependency edge is derived from it.
type Relationship struct {
	Contract    string `yaml:"contract"`
	Event       string `yaml:"event"`
	InputPath   string `yaml:"input_path"`
	ToContract  string `yaml:"to_contract"`
	ToEvent     string `yaml:"to_event"`
	ToInputPath string `yaml:"to_input_path"`
}

// Storage configures the sinks a batch of decoded rows is written to.
type Storage struct {
	Postgres   *PostgresStorage   `yaml:"postgres,omitempty"`
	ClickHouse *ClickHouseStorage `yaml:"clickhouse,omitempty"`
	CSV        *CSVStorage        `yaml:"csv,omitempty"`
	Streams    *StreamsStorage    `yaml:"streams,omitempty"`
}

// StreamsStorage configures the fan-out message-bus sink (§4.8/§9): zero
// or more transports, each batch published to every one of them.
type StreamsStorage struct {
	NATS  *NATSStream  `yaml:"nats,omitempty"`
	Kafka *KafkaStream `yaml:"kafka,omitempty"`
}

// NATSStream points at a JetStream-capable NATS server.
type NATSStream struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	StreamName    string `yaml:"stream_name"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// KafkaStream points at a Kafka cluster.
type KafkaStream struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// PostgresStorage points at a relational sink; the DSN itself is normally
// supplied via DATABASE_URL (see §6) rather than embedded in the manifest.
type PostgresStorage struct {
	Enabled bool `yaml:"enabled"`
}

// ClickHouseStorage points at a columnar sink.
type ClickHouseStorage struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn,omitempty"`
}

// CSVStorage points at a CSV directory sink.
type CSVStorage struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Phantom is carried through as an opaque block; the phantom clone/compile/
// deploy workflow itself is out of scope (§1).
type Phantom struct {
	Enabled bool `yaml:"enabled"`
}

// Global holds ABIs and settings shared across contracts.
type Global struct {
	Contracts []Contract `yaml:"contracts,omitempty"`
}

// GraphQL is carried through as an opaque block; the GraphQL server itself
// is out of scope (§1).
type GraphQL struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address,omitempty"`
}

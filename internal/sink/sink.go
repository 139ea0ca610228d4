// Package sink defines the storage/transport destinations a Processor can
// write decoded event batches to, and the bookkeeping every destination
// shares (bulk row insert, progress append, flush-on-shutdown).
package sink

import (
	"context"
	"strings"

	"github.com/chainkit/evmindexer/internal/codec"
	"github.com/chainkit/evmindexer/internal/progress"
)

// Table names one decoded batch's destination. Contract and Event are kept
// apart (rather than pre-joined into one string) so a sink whose layout is
// per-contract — CSV's <root>/<contract>/<contract>-<event>.csv — doesn't
// have to parse a combined identifier back into its parts.
type Table struct {
	Contract string
	Event    string
}

// Name returns the lower-cased "<contract>_<event>" identifier Postgres,
// ClickHouse, and the stream subject use.
func (t Table) Name() string {
	return strings.ToLower(t.Contract) + "_" + strings.ToLower(t.Event)
}

// Sink is the capability every concrete destination (Postgres, ClickHouse,
// CSV, NATS/Kafka stream) implements. columns and rows line up positionally:
// rows[i][j] is the value for columns[j].
type Sink interface {
	// BulkInsert writes one decoded batch for an event table.
	BulkInsert(ctx context.Context, table Table, columns []string, rows [][]codec.Variant) error

	// AppendProgress records that a batch up to block has been durably
	// written, independent of the BoltDB-backed progress.Store kept
	// in-process — some sinks (Postgres) persist their own watermark
	// alongside the data for crash-consistent resume, others are no-ops.
	AppendProgress(ctx context.Context, key progress.Key, block uint64) error

	// Flush forces any buffered writes out before shutdown.
	Flush(ctx context.Context) error
}

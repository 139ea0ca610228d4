// Package clickhouse is a Sink backed by ClickHouse, using a
// ReplacingMergeTree table per event so a replayed batch (same
// transaction_hash/log_index) is deduplicated by the engine's background
// merges instead of requiring an application-level conflict check.
package clickhouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/rs/zerolog"

	"github.com/chainkit/evmindexer/internal/abi"
	"github.com/chainkit/evmindexer/internal/codec"
	"github.com/chainkit/evmindexer/internal/progress"
	"github.com/chainkit/evmindexer/internal/sink"
)

const progressTable = "evmindexer_progress"

// Sink writes decoded batches to ClickHouse.
type Sink struct {
	conn driver.Conn
	log  zerolog.Logger
}

// Open connects to ClickHouse via dsn (a clickhouse:// DSN, as
// clickhouse-go/v2's clickhouse.ParseDSN expects) and ensures the shared
// progress table exists.
func Open(ctx context.Context, dsn string, log zerolog.Logger) (*Sink, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse sink: parse dsn: %w", err)
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("clickhouse sink: open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse sink: ping: %w", err)
	}

	s := &Sink{conn: conn, log: log}
	if err := s.ensureProgressTable(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureProgressTable(ctx context.Context) error {
	err := s.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			indexer String,
			contract String,
			event String,
			network String,
			last_synced_block UInt64,
			updated_at DateTime
		) ENGINE = ReplacingMergeTree(updated_at)
		ORDER BY (indexer, contract, event, network)
	`, progressTable))
	if err != nil {
		return fmt.Errorf("clickhouse sink: create progress table: %w", err)
	}
	return nil
}

// EnsureTable creates the event table if it doesn't exist yet. The engine
// is ReplacingMergeTree ordered by (network, block_number,
// transaction_hash, log_index), with inserted_at as its version column: a
// re-inserted row for the same log is collapsed to one copy by ClickHouse's
// background merge, the columnar equivalent of Postgres's ON CONFLICT DO
// NOTHING used for the same idempotency requirement.
func (s *Sink) EnsureTable(ctx context.Context, table string, columns []abi.Column) error {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", table)
	b.WriteString("  contract_address FixedString(42),\n")
	b.WriteString("  block_number UInt64,\n")
	b.WriteString("  block_hash FixedString(66),\n")
	b.WriteString("  transaction_hash FixedString(66),\n")
	b.WriteString("  transaction_index UInt32,\n")
	b.WriteString("  log_index UInt32,\n")
	b.WriteString("  network String,\n")
	for _, c := range columns {
		kind, err := codec.KindForSolidityType(c.Type)
		if err != nil {
			return fmt.Errorf("clickhouse sink: %w", err)
		}
		fmt.Fprintf(&b, "  %s %s,\n", c.Name(abi.StyleSnake), codec.ClickHouseColumnType(kind))
	}
	b.WriteString("  inserted_at DateTime DEFAULT now()\n")
	b.WriteString(") ENGINE = ReplacingMergeTree(inserted_at)\n")
	b.WriteString("ORDER BY (network, block_number, transaction_hash, log_index)")

	if err := s.conn.Exec(ctx, b.String()); err != nil {
		return fmt.Errorf("clickhouse sink: ensure table %s: %w", table, err)
	}
	return nil
}

// BulkInsert appends rows to table via ClickHouse's native batch protocol.
func (s *Sink) BulkInsert(ctx context.Context, table sink.Table, columns []string, rows [][]codec.Variant) error {
	if len(rows) == 0 {
		return nil
	}

	name := table.Name()
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (%s)", name, strings.Join(columns, ", ")))
	if err != nil {
		return fmt.Errorf("clickhouse sink: prepare batch for %s: %w", name, err)
	}

	for _, row := range rows {
		values := make([]interface{}, len(row))
		for i, v := range row {
			value, err := codec.ClickHouseValue(v)
			if err != nil {
				return fmt.Errorf("clickhouse sink: encode column %s: %w", columns[i], err)
			}
			values[i] = value
		}
		if err := batch.Append(values...); err != nil {
			return fmt.Errorf("clickhouse sink: append row to batch for %s: %w", name, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("clickhouse sink: send batch for %s: %w", name, err)
	}
	return nil
}

// AppendProgress records the current watermark as a new ReplacingMergeTree
// row; the most recent updated_at wins once ClickHouse merges duplicates.
func (s *Sink) AppendProgress(ctx context.Context, key progress.Key, block uint64) error {
	err := s.conn.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (indexer, contract, event, network, last_synced_block, updated_at)
		VALUES (?, ?, ?, ?, ?, now())
	`, progressTable), key.Indexer, key.Contract, key.Event, key.Network, block)
	if err != nil {
		return fmt.Errorf("clickhouse sink: append progress for %s: %w", key, err)
	}
	return nil
}

// Flush is a no-op: BulkInsert already sends each batch synchronously.
func (s *Sink) Flush(ctx context.Context) error {
	return nil
}

// Close releases the underlying connection.
func (s *Sink) Close() error {
	return s.conn.Close()
}

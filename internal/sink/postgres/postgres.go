// Package postgres is a Sink backed by a pgx connection pool: one table
// per event, multi-row INSERT for small batches and COPY for large ones,
// ON CONFLICT DO NOTHING for replay idempotency, plus a per-event progress
// table so Postgres resume doesn't depend solely on the BoltDB store.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/chainkit/evmindexer/internal/codec"
	"github.com/chainkit/evmindexer/internal/progress"
	"github.com/chainkit/evmindexer/internal/sink"
)

// copyThreshold is the row count at or above which BulkInsert switches from a
// multi-row INSERT statement to pgx's binary COPY protocol.
const copyThreshold = 500

const progressTable = "evmindexer_progress"

// Sink writes decoded batches to PostgreSQL.
type Sink struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// Open connects to dsn and ensures the shared progress table exists.
func Open(ctx context.Context, dsn string, log zerolog.Logger) (*Sink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres sink: ping: %w", err)
	}

	s := &Sink{pool: pool, log: log}
	if err := s.ensureProgressTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureProgressTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			indexer TEXT NOT NULL,
			contract TEXT NOT NULL,
			event TEXT NOT NULL,
			network TEXT NOT NULL,
			last_synced_block BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (indexer, contract, event, network)
		)`, progressTable))
	if err != nil {
		return fmt.Errorf("postgres sink: create progress table: %w", err)
	}
	return nil
}

// EnsureTable creates the event table if it doesn't exist yet, with one
// column per flattened field plus the injected provenance columns every
// table carries regardless of what the ABI defines.
func (s *Sink) EnsureTable(ctx context.Context, table string, columnNames []string, columnKinds []codec.Kind) error {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", pgx.Identifier{table}.Sanitize())
	fmt.Fprintf(&b, "  rindexer_id BIGSERIAL PRIMARY KEY,\n")
	fmt.Fprintf(&b, "  contract_address CHAR(42) NOT NULL,\n")
	fmt.Fprintf(&b, "  block_number BIGINT NOT NULL,\n")
	fmt.Fprintf(&b, "  block_hash CHAR(66) NOT NULL,\n")
	fmt.Fprintf(&b, "  transaction_hash CHAR(66) NOT NULL,\n")
	fmt.Fprintf(&b, "  transaction_index INT NOT NULL,\n")
	fmt.Fprintf(&b, "  log_index INT NOT NULL,\n")
	fmt.Fprintf(&b, "  network VARCHAR(50) NOT NULL,\n")
	for i, name := range columnNames {
		fmt.Fprintf(&b, "  %s %s,\n", pgx.Identifier{name}.Sanitize(), codec.PostgresColumnType(columnKinds[i]))
	}
	fmt.Fprintf(&b, "  UNIQUE (transaction_hash, log_index)\n)")

	if _, err := s.pool.Exec(ctx, b.String()); err != nil {
		return fmt.Errorf("postgres sink: ensure table %s: %w", table, err)
	}
	return nil
}

// BulkInsert writes rows to table, one row per decoded log. Below
// copyThreshold it uses a single multi-row INSERT with ON CONFLICT DO
// NOTHING (cheap, keeps the idempotency guard); at or above it, pgx's
// CopyFrom is used instead since COPY has no ON CONFLICT clause, so
// large backfill batches are expected to target tables without a
// concurrent writer racing the same rows.
func (s *Sink) BulkInsert(ctx context.Context, table sink.Table, columns []string, rows [][]codec.Variant) error {
	if len(rows) == 0 {
		return nil
	}

	if len(rows) >= copyThreshold {
		return s.copyInsert(ctx, table.Name(), columns, rows)
	}
	return s.multiRowInsert(ctx, table.Name(), columns, rows)
}

func (s *Sink) multiRowInsert(ctx context.Context, table string, columns []string, rows [][]codec.Variant) error {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (", pgx.Identifier{table}.Sanitize())
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgx.Identifier{c}.Sanitize())
	}
	b.WriteString(") VALUES ")

	args := make([]interface{}, 0, len(rows)*len(columns))
	argN := 1
	for r, row := range rows {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for i, v := range row {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", argN)
			argN++
			value, err := codec.PostgresValue(v)
			if err != nil {
				return fmt.Errorf("postgres sink: encode column %s: %w", columns[i], err)
			}
			args = append(args, value)
		}
		b.WriteString(")")
	}
	b.WriteString(" ON CONFLICT (transaction_hash, log_index) DO NOTHING")

	if _, err := s.pool.Exec(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("postgres sink: insert into %s: %w", table, err)
	}
	return nil
}

func (s *Sink) copyInsert(ctx context.Context, table string, columns []string, rows [][]codec.Variant) error {
	source := make([][]interface{}, len(rows))
	for r, row := range rows {
		encoded := make([]interface{}, len(row))
		for i, v := range row {
			value, err := codec.PostgresValue(v)
			if err != nil {
				return fmt.Errorf("postgres sink: encode column %s: %w", columns[i], err)
			}
			encoded[i] = value
		}
		source[r] = encoded
	}

	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(source))
	if err != nil {
		return fmt.Errorf("postgres sink: copy into %s: %w", table, err)
	}
	return nil
}

// AppendProgress upserts the per-event watermark. The upsert's WHERE guard
// refuses to move it backwards, the same rule progress.Store applies; the
// sink's own table is a secondary record, not the source of truth.
func (s *Sink) AppendProgress(ctx context.Context, key progress.Key, block uint64) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (indexer, contract, event, network, last_synced_block, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (indexer, contract, event, network)
		DO UPDATE SET last_synced_block = EXCLUDED.last_synced_block, updated_at = now()
		WHERE %s.last_synced_block <= EXCLUDED.last_synced_block
	`, progressTable, progressTable), key.Indexer, key.Contract, key.Event, key.Network, block)
	if err != nil {
		return fmt.Errorf("postgres sink: append progress for %s: %w", key, err)
	}
	return nil
}

// Flush is a no-op: every write above already committed synchronously.
func (s *Sink) Flush(ctx context.Context) error {
	return nil
}

// Close releases the connection pool.
func (s *Sink) Close() {
	s.pool.Close()
}

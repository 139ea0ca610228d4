package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/chainkit/evmindexer/internal/abi"
	"github.com/chainkit/evmindexer/internal/codec"
)

// ChangeKind classifies one detected difference between the columns an
// event's flattened ABI produces and the columns an existing table has.
type ChangeKind int

const (
	_ ChangeKind = iota
	AddColumn
	RemoveColumn
	ColumnTypeChanged
)

// SchemaChange is one detected difference for one table.
type SchemaChange struct {
	Kind       ChangeKind
	Table      string
	Column     string
	ColumnType string // for AddColumn
	OldType    string // for ColumnTypeChanged
	NewType    string // for ColumnTypeChanged
}

// Safe reports whether a change can be auto-applied without an operator
// confirming it first. Only adding a column is safe: removing one loses
// data, and changing a type can silently truncate existing rows.
func (c SchemaChange) Safe() bool {
	return c.Kind == AddColumn
}

func (c SchemaChange) String() string {
	switch c.Kind {
	case AddColumn:
		return fmt.Sprintf("add column %q (%s) to %s", c.Column, c.ColumnType, c.Table)
	case RemoveColumn:
		return fmt.Sprintf("column %q exists in %s but not in the current ABI", c.Column, c.Table)
	case ColumnTypeChanged:
		return fmt.Sprintf("column %q in %s changed type: %s -> %s", c.Column, c.Table, c.OldType, c.NewType)
	default:
		return "unknown schema change"
	}
}

// DetectSchemaChanges compares table's existing columns against the
// columns the current (possibly hot-reloaded) ABI flattening produces.
func (s *Sink) DetectSchemaChanges(ctx context.Context, table string, columns []abi.Column) ([]SchemaChange, error) {
	exists, err := s.tableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	existing, err := s.existingColumns(ctx, table)
	if err != nil {
		return nil, err
	}

	expected := make(map[string]string, len(columns))
	for _, c := range columns {
		expected[c.Name(abi.StyleSnake)] = normalizePgType(codec.PostgresColumnType(columnKind(c)))
	}

	var changes []SchemaChange
	for name, pgType := range expected {
		if _, ok := existing[name]; !ok {
			changes = append(changes, SchemaChange{Kind: AddColumn, Table: table, Column: name, ColumnType: pgType})
		}
	}

	protected := map[string]bool{
		"rindexer_id": true, "contract_address": true, "block_number": true, "block_hash": true,
		"transaction_hash": true, "transaction_index": true, "log_index": true, "network": true,
	}
	for name := range existing {
		if protected[name] {
			continue
		}
		if _, ok := expected[name]; !ok {
			changes = append(changes, SchemaChange{Kind: RemoveColumn, Table: table, Column: name})
		}
	}

	for name, wantType := range expected {
		if haveType, ok := existing[name]; ok && normalizePgType(haveType) != normalizePgType(wantType) {
			changes = append(changes, SchemaChange{Kind: ColumnTypeChanged, Table: table, Column: name, OldType: haveType, NewType: wantType})
		}
	}

	return changes, nil
}

// ApplySchemaChange executes one change. Column type changes are never
// auto-applied: they can silently truncate data, so they are rejected and
// must be migrated by hand, mirroring the "requires manual migration"
// behavior upstream indexer tooling uses for the same situation.
func (s *Sink) ApplySchemaChange(ctx context.Context, change SchemaChange) error {
	switch change.Kind {
	case AddColumn:
		sql := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
			pgx.Identifier{change.Table}.Sanitize(), pgx.Identifier{change.Column}.Sanitize(), change.ColumnType)
		if _, err := s.pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("postgres sink: add column %s.%s: %w", change.Table, change.Column, err)
		}
		return nil
	case RemoveColumn:
		sql := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s",
			pgx.Identifier{change.Table}.Sanitize(), pgx.Identifier{change.Column}.Sanitize())
		if _, err := s.pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("postgres sink: drop column %s.%s: %w", change.Table, change.Column, err)
		}
		return nil
	case ColumnTypeChanged:
		return fmt.Errorf("postgres sink: column %s.%s type change (%s -> %s) requires a manual migration",
			change.Table, change.Column, change.OldType, change.NewType)
	default:
		return fmt.Errorf("postgres sink: unknown schema change kind %d", change.Kind)
	}
}

func (s *Sink) tableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)
	`, table).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres sink: check table existence for %s: %w", table, err)
	}
	return exists, nil
}

func (s *Sink) existingColumns(ctx context.Context, table string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT column_name, data_type FROM information_schema.columns WHERE table_name = $1
	`, table)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: query columns for %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, fmt.Errorf("postgres sink: scan column row for %s: %w", table, err)
		}
		cols[name] = dataType
	}
	return cols, rows.Err()
}

func normalizePgType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	switch t {
	case "character varying", "varchar":
		return "varchar"
	case "character", "char", "bpchar":
		return "char"
	case "integer", "int", "int4":
		return "integer"
	case "bigint", "int8":
		return "bigint"
	case "numeric", "decimal":
		return "numeric"
	case "boolean", "bool":
		return "boolean"
	default:
		return t
	}
}

func columnKind(c abi.Column) codec.Kind {
	k, _ := codec.KindForSolidityType(c.Type)
	return k
}

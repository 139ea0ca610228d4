// Package csvsink is a Sink that appends decoded batches to one CSV file
// per (contract, event), laid out as <root>/<contract>/<contract>-<event>.csv.
package csvsink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/chainkit/evmindexer/internal/codec"
	"github.com/chainkit/evmindexer/internal/progress"
	"github.com/chainkit/evmindexer/internal/sink"
)

// Sink writes decoded batches to per-event CSV files under Root.
type Sink struct {
	Root string
	Log  zerolog.Logger

	mu      sync.Mutex
	writers map[sink.Table]*fileWriter
}

type fileWriter struct {
	f      *os.File
	w      *csv.Writer
	header bool
}

// New creates a Sink rooted at dir, creating dir if necessary.
func New(dir string, log zerolog.Logger) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("csvsink: create root %s: %w", dir, err)
	}
	return &Sink{Root: dir, Log: log, writers: make(map[sink.Table]*fileWriter)}, nil
}

// BulkInsert appends rows to the CSV file for table, writing a header row
// the first time the file is created.
func (s *Sink) BulkInsert(ctx context.Context, table sink.Table, columns []string, rows [][]codec.Variant) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fw, err := s.writerFor(table, columns)
	if err != nil {
		return err
	}

	for _, row := range rows {
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = codec.CSVValue(v)
		}
		if err := fw.w.Write(record); err != nil {
			return fmt.Errorf("csvsink: write row to %s: %w", table.Name(), err)
		}
	}
	fw.w.Flush()
	return fw.w.Error()
}

// writerFor returns the file writer for table, laid out as
// <root>/<contract>/<contract>-<event>.csv so every event of a contract
// sits alongside its siblings in one subdirectory.
func (s *Sink) writerFor(table sink.Table, columns []string) (*fileWriter, error) {
	if fw, ok := s.writers[table]; ok {
		return fw, nil
	}

	dir := filepath.Join(s.Root, table.Contract)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("csvsink: create contract dir %s: %w", dir, err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s-%s.csv", table.Contract, table.Event))
	_, statErr := os.Stat(path)
	needsHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("csvsink: open %s: %w", path, err)
	}

	fw := &fileWriter{f: f, w: csv.NewWriter(f)}
	if needsHeader {
		if err := fw.w.Write(columns); err != nil {
			f.Close()
			return nil, fmt.Errorf("csvsink: write header for %s: %w", table.Name(), err)
		}
		fw.w.Flush()
	}

	s.writers[table] = fw
	return fw, nil
}

// AppendProgress is a no-op: CSV has no transactional progress table, so
// resume relies entirely on the in-process progress.Store.
func (s *Sink) AppendProgress(ctx context.Context, key progress.Key, block uint64) error {
	return nil
}

// Flush flushes every open file's buffered writer.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for table, fw := range s.writers {
		fw.w.Flush()
		if err := fw.w.Error(); err != nil {
			return fmt.Errorf("csvsink: flush %s: %w", table.Name(), err)
		}
	}
	return nil
}

// Close flushes and closes every open file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for table, fw := range s.writers {
		fw.w.Flush()
		if err := fw.f.Close(); err != nil {
			return fmt.Errorf("csvsink: close %s: %w", table.Name(), err)
		}
	}
	return nil
}

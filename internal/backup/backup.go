// Package backup exports record tables to JSONL and imports them back.
//
// Each line holds one row: {"table":"movie_comments","record":{...}}.
// Imports keep the original ids and creation times, and rows whose id
// already exists are skipped, so importing the same file twice is harmless.
package backup

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/reelroom/reel/internal/backend/schema"
)

// Source reads rows for export. Implemented by *db.DB.
type Source interface {
	FetchSince(ctx context.Context, table string, since time.Time) ([]schema.Record, error)
}

// Sink stores imported rows. Implemented by *db.DB.
type Sink interface {
	ImportRecord(ctx context.Context, table string, rec schema.Record) (bool, error)
}

// Line is one JSONL row.
type Line struct {
	Table  string        `json:"table"`
	Record schema.Record `json:"record"`
}

// ExportOptions contains configuration for an export
type ExportOptions struct {
	Tables []string  // Tables to export (default: all)
	Since  time.Time // Only rows created at or after Since (default: all)
}

// ExportResult contains statistics about an export
type ExportResult struct {
	Rows     int
	PerTable map[string]int
}

// Export writes the selected rows to w, table by table, oldest first.
func Export(ctx context.Context, src Source, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	tables := opts.Tables
	if len(tables) == 0 {
		tables = schema.TableNames()
	}

	result := &ExportResult{PerTable: make(map[string]int, len(tables))}
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	for _, table := range tables {
		records, err := src.FetchSince(ctx, table, opts.Since)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", table, err)
		}
		for _, rec := range records {
			if err := enc.Encode(Line{Table: table, Record: rec}); err != nil {
				return nil, fmt.Errorf("failed to write %s row %s: %w", table, rec.ID, err)
			}
		}
		result.PerTable[table] = len(records)
		result.Rows += len(records)
	}

	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush export: %w", err)
	}
	return result, nil
}

// ExportFile writes the export to path atomically via a temp file.
func ExportFile(ctx context.Context, src Source, path string, opts ExportOptions) (*ExportResult, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	result, err := Export(ctx, src, f, opts)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close temp file: %w", closeErr)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return result, nil
}

// ImportOptions contains configuration for an import
type ImportOptions struct {
	DryRun bool // Parse and validate without writing
}

// ImportResult contains statistics about an import
type ImportResult struct {
	Imported int
	Skipped  int      // ids that already existed
	Errors   []string // rows the store rejected
}

// Import reads JSONL rows from r and stores them. A malformed line aborts
// the import; rows the store rejects are recorded in Errors and skipped.
func Import(ctx context.Context, sink Sink, r io.Reader, opts ImportOptions) (*ImportResult, error) {
	result := &ImportResult{}
	dec := json.NewDecoder(r)
	lineNum := 0

	for {
		var line Line
		if err := dec.Decode(&line); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return result, fmt.Errorf("invalid JSON at line %d: %w", lineNum+1, err)
		}
		lineNum++

		if _, err := schema.LookupTable(line.Table); err != nil {
			return result, fmt.Errorf("line %d: %w", lineNum, err)
		}

		if opts.DryRun {
			result.Imported++
			continue
		}

		inserted, err := sink.ImportRecord(ctx, line.Table, line.Record)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.Errors = append(result.Errors,
				fmt.Sprintf("line %d: %s %s: %v", lineNum, line.Table, line.Record.ID, err))
			continue
		}
		if inserted {
			result.Imported++
		} else {
			result.Skipped++
		}
	}

	return result, nil
}

// ImportFile imports the JSONL file at path.
func ImportFile(ctx context.Context, sink Sink, path string, opts ImportOptions) (*ImportResult, error) {
	// #nosec G304 - controlled path from CLI
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup file: %w", err)
	}
	defer f.Close()

	return Import(ctx, sink, f, opts)
}

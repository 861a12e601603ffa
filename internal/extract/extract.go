// Package extract pulls new rows from the two sources: ad-hoc CSV files
// dropped in an inbox directory, and the embedded SQLite store read
// incrementally above the stored watermark.
//
// Extraction is deliberately forgiving: an unreadable file or an unreachable
// source table is logged to the audit sink and skipped, and the run continues
// with whatever else was available. Inbox files are archived after the read
// attempt whether it succeeded or not, so a file is never processed twice.
package extract

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"salesetl/internal/audit"
	"salesetl/internal/schema"
	"salesetl/internal/watermark"
	"salesetl/pkg/records"
)

// OrdersTable is the canonical name the inbox batch is keyed under: one wide
// table carrying order-header and line-item columns together.
const OrdersTable = "orders"

// Extractor reads both source branches.
type Extractor struct {
	Registry schema.Registry
	Marks    *watermark.Store
	Audit    audit.Sink

	// InboxDir holds pending CSV batch files; ArchiveDir receives them after
	// processing.
	InboxDir   string
	ArchiveDir string

	// SourceDB is the path of the embedded SQLite store.
	SourceDB string
}

// Extract returns the pending batches keyed by table name: OrdersTable for
// the file branch, source-side table names for the store branch. An empty map
// means neither branch yielded data; the caller treats that as a terminal
// condition for the run.
func (e *Extractor) Extract(ctx context.Context) map[string][]records.Row {
	batches := map[string][]records.Row{}

	if rows := e.extractFiles(); len(rows) > 0 {
		batches[OrdersTable] = rows
	}
	for table, rows := range e.extractStore(ctx) {
		batches[table] = rows
	}

	if len(batches) == 0 {
		e.Audit.Record("extract", "global", "no usable data found (files + embedded store)")
	}
	return batches
}

// extractFiles reads every pending CSV file, concatenating rows in file
// order. Each file is moved to the archive after the read attempt.
func (e *Extractor) extractFiles() []records.Row {
	entries, err := os.ReadDir(e.InboxDir)
	if err != nil {
		if !os.IsNotExist(err) {
			e.Audit.Record("read_file", e.InboxDir, fmt.Sprintf("list inbox: %v", err))
		}
		return nil
	}

	var all []records.Row
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".csv") {
			continue
		}
		path := filepath.Join(e.InboxDir, entry.Name())

		rows, err := e.readFile(path, entry.Name())
		if err != nil {
			e.Audit.Record("read_file", entry.Name(), err.Error())
		} else {
			e.Audit.Record("read_ok", entry.Name(), fmt.Sprintf("%d rows to process", len(rows)))
			all = append(all, rows...)
		}
		e.archive(path)
	}
	return all
}

// readFile parses one CSV file into provenance-tagged rows. Headers are
// folded and mapped through the synonym table; short rows are padded with
// nulls, long rows truncated to the header width.
func (e *Extractor) readFile(path, name string) ([]records.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %v", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %v", err)
	}
	columns := make([]string, len(header))
	for i, h := range header {
		// A UTF-8 BOM survives csv parsing glued to the first header.
		columns[i] = e.Registry.CanonicalHeader(strings.TrimPrefix(h, "\uFEFF"))
	}

	var rows []records.Row
	line := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %v", line+1, err)
		}
		line++

		fields := make(records.Record, len(columns))
		for i, col := range columns {
			if i < len(rec) {
				fields[col] = rec[i]
			} else {
				fields[col] = nil
			}
		}
		rows = append(rows, records.Row{
			ID:     records.RowID{Source: name, Line: line},
			Fields: fields,
		})
	}
	return rows, nil
}

// archive moves a processed file out of the inbox. Failed parses are archived
// too; a bad file must never be retried automatically.
func (e *Extractor) archive(path string) {
	if err := os.MkdirAll(e.ArchiveDir, 0o755); err != nil {
		e.Audit.Record("archive", filepath.Base(path), fmt.Sprintf("mkdir: %v", err))
		return
	}
	dest := filepath.Join(e.ArchiveDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		e.Audit.Record("archive", filepath.Base(path), fmt.Sprintf("move: %v", err))
	}
}

// extractStore reads each known source table above its watermark. A failure
// on one table skips only that table.
func (e *Extractor) extractStore(ctx context.Context) map[string][]records.Row {
	out := map[string][]records.Row{}

	if _, err := os.Stat(e.SourceDB); err != nil {
		e.Audit.Record("store_connect", e.SourceDB, "embedded store not found")
		return out
	}
	db, err := sql.Open("sqlite", e.SourceDB)
	if err != nil {
		e.Audit.Record("store_connect", e.SourceDB, fmt.Sprintf("open: %v", err))
		return out
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		e.Audit.Record("store_connect", e.SourceDB, fmt.Sprintf("ping: %v", err))
		return out
	}

	for _, table := range e.Registry.SourceTables {
		keyCol, ok := e.Registry.SourceKeyColumns[table]
		if !ok {
			keyCol = "id"
		}
		last := e.Marks.Get(table)

		rows, err := e.queryTable(ctx, db, table, keyCol, last)
		if err != nil {
			e.Audit.Record("store_query", table, fmt.Sprintf("query failed: %v", err))
			continue
		}
		e.Audit.Record("store_ok", table, fmt.Sprintf("%d rows to process", len(rows)))
		if len(rows) > 0 {
			out[table] = rows
		}
	}
	return out
}

func (e *Extractor) queryTable(ctx context.Context, db *sql.DB, table, keyCol string, last int64) ([]records.Row, error) {
	q := fmt.Sprintf("SELECT * FROM %s WHERE %s > ?", table, keyCol)
	res, err := db.QueryContext(ctx, q, last)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	cols, err := res.Columns()
	if err != nil {
		return nil, err
	}

	var rows []records.Row
	line := 0
	for res.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := res.Scan(ptrs...); err != nil {
			return nil, err
		}
		line++

		fields := make(records.Record, len(cols))
		for i, c := range cols {
			fields[c] = values[i]
		}
		rows = append(rows, records.Row{
			ID:     records.RowID{Source: table, Line: line},
			Fields: fields,
		})
	}
	return rows, res.Err()
}

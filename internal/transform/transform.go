// Package transform implements the data-quality engine: text normalization,
// structural checks, type coercion, forbidden-value checks, in-batch and
// store-level deduplication, strict-duplicate removal, and cross-table
// foreign-key resolution.
//
// Rows flow through the steps in order; a row rejected at one step is
// excluded from every later step and logged exactly once with its source and
// row number. A table rejected structurally drops its whole batch for the
// run. Only a target-store lookup failure is fatal.
package transform

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/xxh3"

	"salesetl/internal/audit"
	"salesetl/internal/schema"
	"salesetl/pkg/records"
)

// Rejection event kinds, one per validation step.
const (
	KindStructure        = "structure"
	KindFormat           = "format"
	KindForbiddenValue   = "forbidden_value"
	KindDuplicate        = "duplicate"
	KindDuplicateInStore = "duplicate_in_store"
	KindStrictDuplicate  = "strict_duplicate"
	KindForeignKey       = "foreign_key"
)

// Lookup is the slice of the target store the transformer needs: distinct
// values of a column, for dedup and foreign-key resolution.
type Lookup interface {
	DistinctValues(ctx context.Context, table, column string) (map[string]struct{}, error)
}

// Transformer validates and cleans batches against the schema registry.
type Transformer struct {
	Registry schema.Registry
	Store    Lookup
	Audit    audit.Sink

	// Now is the clock used for the future-date check; defaults to time.Now.
	Now func() time.Time
}

// Transform cleans every batch and returns the surviving rows per table plus
// the rejected row identities per table. Tables with zero surviving rows are
// omitted from the clean mapping. The error is non-nil only when a target
// store lookup fails, which aborts the run.
func (t *Transformer) Transform(ctx context.Context, batches map[string][]records.Row) (map[string][]records.Row, map[string]map[records.RowID]struct{}, error) {
	clean := map[string][]records.Row{}
	rejected := map[string]map[records.RowID]struct{}{}
	for table := range batches {
		rejected[table] = map[records.RowID]struct{}{}
	}

	for _, table := range sortedKeys(batches) {
		rows := batches[table]
		if len(rows) == 0 {
			continue
		}
		survivors, err := t.cleanTable(ctx, table, rows, rejected[table])
		if err != nil {
			return nil, nil, err
		}
		if len(survivors) > 0 {
			clean[table] = survivors
		}
	}

	if err := t.resolveForeignKeys(ctx, clean, rejected); err != nil {
		return nil, nil, err
	}
	return clean, rejected, nil
}

// cleanTable runs steps 1-6 for one table's batch.
func (t *Transformer) cleanTable(ctx context.Context, table string, rows []records.Row, rejectedSet map[records.RowID]struct{}) ([]records.Row, error) {
	decl, known := t.Registry.Tables[table]
	if !known {
		decl = schema.Table{Name: table}
	}
	dateCols := toSet(decl.DateColumns)
	numCols := toSet(decl.NumericColumns)

	reject := func(row records.Row, kind, msg string) {
		rejectedSet[row.ID] = struct{}{}
		t.Audit.Record(kind, row.ID.Source, fmt.Sprintf("row %d: %s", row.ID.Line, msg))
	}

	// 1. Trim and lowercase every text column.
	for _, row := range rows {
		for col, v := range row.Fields {
			if _, isDate := dateCols[col]; isDate {
				continue
			}
			if _, isNum := numCols[col]; isNum {
				continue
			}
			if s, ok := v.(string); ok {
				row.Fields[col] = strings.ToLower(strings.TrimSpace(s))
			}
		}
	}

	// 2. Structural check: the whole batch is rejected when required columns
	// are missing from it.
	if missing := missingColumns(decl.Required, rows); len(missing) > 0 {
		t.Audit.Record(KindStructure, table, fmt.Sprintf("missing required columns: %v", missing))
		for _, row := range rows {
			rejectedSet[row.ID] = struct{}{}
		}
		return nil, nil
	}

	// 3. Type coercion. A value in a declared date or numeric column that is
	// missing, empty, or unparseable becomes null and rejects the row.
	alive := rows[:0]
	for _, row := range rows {
		badCol := ""
		for col := range dateCols {
			v, ok := coerceDate(row.Fields[col])
			row.Fields[col] = v
			if !ok && badCol == "" {
				badCol = col
			}
		}
		for col := range numCols {
			v, ok := coerceNumber(row.Fields[col])
			row.Fields[col] = v
			if !ok && badCol == "" {
				badCol = col
			}
		}
		if badCol != "" {
			reject(row, KindFormat, fmt.Sprintf("null value after coercion in %q", badCol))
			continue
		}
		alive = append(alive, row)
	}

	// 4. Forbidden values: negative numerics, null required columns, dates
	// after today.
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	today := now()
	next := alive[:0]
	for _, row := range alive {
		if msg := forbidden(row.Fields, decl, numCols, dateCols, today); msg != "" {
			reject(row, KindForbiddenValue, msg)
			continue
		}
		next = append(next, row)
	}
	alive = next

	// 5. Key dedup: first within the batch (keep the first occurrence), then
	// against the keys already present in the target store.
	if decl.Key != "" && len(alive) > 0 {
		if decl.InBatchDedup {
			seen := map[string]struct{}{}
			next = alive[:0]
			for _, row := range alive {
				k := records.AsString(row.Fields[decl.Key])
				if _, dup := seen[k]; dup {
					reject(row, KindDuplicate, fmt.Sprintf("duplicate key %q on %q", k, decl.Key))
					continue
				}
				seen[k] = struct{}{}
				next = append(next, row)
			}
			alive = next
		}

		stored, err := t.Store.DistinctValues(ctx, table, decl.Key)
		if err != nil {
			return nil, fmt.Errorf("transform: distinct keys of %s: %w", table, err)
		}
		next = alive[:0]
		for _, row := range alive {
			k := records.AsString(row.Fields[decl.Key])
			if _, dup := stored[k]; dup {
				reject(row, KindDuplicateInStore, fmt.Sprintf("key %q already present in store on %q", k, decl.Key))
				continue
			}
			next = append(next, row)
		}
		alive = next
	}

	// 6. Strict duplicates: byte-for-byte identical rows across all columns
	// except provenance.
	seen := map[uint64]struct{}{}
	next = alive[:0]
	for _, row := range alive {
		h := rowHash(row.Fields)
		if _, dup := seen[h]; dup {
			reject(row, KindStrictDuplicate, "strictly identical to an earlier row")
			continue
		}
		seen[h] = struct{}{}
		next = append(next, row)
	}
	return next, nil
}

// resolveForeignKeys runs step 7 over the cleaned tables. Valid referenced
// values are the union of the referenced column in the same-run cleaned batch
// and the distinct values already in the target store.
func (t *Transformer) resolveForeignKeys(ctx context.Context, clean map[string][]records.Row, rejected map[string]map[records.RowID]struct{}) error {
	// Snapshot sibling values before any FK filtering so resolution does not
	// depend on table iteration order.
	sibling := map[string]map[string]struct{}{}
	refOf := func(table, column string) string { return table + "." + column }
	for _, decl := range t.Registry.Tables {
		for _, fk := range decl.ForeignKeys {
			key := refOf(fk.RefTable, fk.RefColumn)
			if _, done := sibling[key]; done {
				continue
			}
			vals := map[string]struct{}{}
			for _, row := range clean[fk.RefTable] {
				vals[records.AsString(row.Fields[fk.RefColumn])] = struct{}{}
			}
			sibling[key] = vals
		}
	}

	stored := map[string]map[string]struct{}{}
	for _, table := range sortedKeys(clean) {
		decl := t.Registry.Tables[table]
		rows := clean[table]
		for _, fk := range decl.ForeignKeys {
			key := refOf(fk.RefTable, fk.RefColumn)
			if _, done := stored[key]; !done {
				vals, err := t.Store.DistinctValues(ctx, fk.RefTable, fk.RefColumn)
				if err != nil {
					return fmt.Errorf("transform: distinct %s: %w", key, err)
				}
				stored[key] = vals
			}

			next := rows[:0]
			for _, row := range rows {
				v := records.AsString(row.Fields[fk.Column])
				_, inBatch := sibling[key][v]
				_, inStore := stored[key][v]
				if !inBatch && !inStore {
					rejected[table][row.ID] = struct{}{}
					t.Audit.Record(KindForeignKey, row.ID.Source,
						fmt.Sprintf("row %d: %q value %q absent from %s", row.ID.Line, fk.Column, v, fk.RefTable))
					continue
				}
				next = append(next, row)
			}
			rows = next
		}
		if len(rows) == 0 {
			delete(clean, table)
		} else {
			clean[table] = rows
		}
	}
	return nil
}

// forbidden returns a rejection reason for the first forbidden value found,
// or "" when the row is acceptable.
func forbidden(fields records.Record, decl schema.Table, numCols, dateCols map[string]struct{}, today time.Time) string {
	for col := range numCols {
		if f, ok := fields[col].(float64); ok && f < 0 {
			return fmt.Sprintf("negative value in %q", col)
		}
	}
	for _, col := range decl.Required {
		v, ok := fields[col]
		if !ok || v == nil || v == "" {
			return fmt.Sprintf("null value in required column %q", col)
		}
	}
	for col := range dateCols {
		if d, ok := fields[col].(time.Time); ok && d.After(today) {
			return fmt.Sprintf("date in %q is in the future", col)
		}
	}
	return ""
}

// coerceDate parses a date column value into time.Time using the canonical
// layout. Returns (nil, false) when the value is missing or unparseable.
func coerceDate(v any) (any, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case []byte:
		v = string(t)
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return nil, false
	}
	d, err := time.Parse(schema.DateLayout, strings.TrimSpace(s))
	if err != nil {
		return nil, false
	}
	return d, true
}

// coerceNumber parses a numeric column value into float64. Returns
// (nil, false) when the value is missing or unparseable.
func coerceNumber(v any) (any, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case []byte:
		v = string(t)
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return nil, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil, false
	}
	return f, true
}

// rowHash hashes a record's values over its sorted column names, so two rows
// with identical content hash equal regardless of map iteration order.
func rowHash(fields records.Record) uint64 {
	cols := make([]string, 0, len(fields))
	for c := range fields {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	var b strings.Builder
	for _, c := range cols {
		b.WriteString(c)
		b.WriteByte('\x1f')
		b.WriteString(records.AsString(fields[c]))
		b.WriteByte('\x1e')
	}
	return xxh3.HashString(b.String())
}

// missingColumns returns required columns absent from every row of the batch.
func missingColumns(required []string, rows []records.Row) []string {
	present := map[string]struct{}{}
	for _, row := range rows {
		for col := range row.Fields {
			present[col] = struct{}{}
		}
	}
	var missing []string
	for _, col := range required {
		if _, ok := present[col]; !ok {
			missing = append(missing, col)
		}
	}
	sort.Strings(missing)
	return missing
}

func toSet(cols []string) map[string]struct{} {
	out := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		out[c] = struct{}{}
	}
	return out
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Package load inserts cleaned batches into the target store in dependency
// order, resolving store-assigned surrogate keys back into dependent tables
// before those are inserted.
//
// Inserts are per-row and individually committed: one row's failure is
// logged and skipped, the rest of the table and the remaining tables still
// load, and partial progress survives a mid-batch failure. Watermarks
// advance only after a table's batch completes.
package load

import (
	"context"
	"fmt"
	"math"
	"time"

	"salesetl/internal/audit"
	"salesetl/internal/schema"
	"salesetl/internal/storage"
	"salesetl/internal/watermark"
	"salesetl/pkg/records"
)

// Column orders for the target tables. The wide orders batch is split into
// the orders header and its line items.
var (
	regionCols     = []string{"id", "name"}
	resellerCols   = []string{"id", "name", "region_id"}
	productCols    = []string{"source_id", "name", "unit_cost"}
	orderCols      = []string{"order_number", "date", "reseller_id"}
	orderLineCols  = []string{"order_id", "product_id", "quantity", "unit_price"}
	productionCols = []string{"id", "product_id", "quantity", "date"}
)

// Loader writes cleaned rows to the target store.
type Loader struct {
	Registry schema.Registry
	Repo     storage.Repository
	Marks    *watermark.Store
	Audit    audit.Sink
}

// Load inserts the cleaned tables and returns the number of rows inserted
// per target table. Reference tables go first, then tables whose surrogate
// keys are needed downstream, then the dependents with remapped foreign
// keys. A nil error does not imply every row inserted; per-row failures are
// in the audit log.
func (l *Loader) Load(ctx context.Context, clean map[string][]records.Row) (map[string]int, error) {
	results := map[string]int{}

	// 1. Independent reference tables.
	if rows, ok := clean["regions"]; ok {
		results["regions"] = l.insertRows(ctx, "regions", regionCols, project(rows, regionCols))
		if err := l.advance("regions", rows, "id"); err != nil {
			return results, err
		}
	}
	if rows, ok := clean["resellers"]; ok {
		results["resellers"] = l.insertRows(ctx, "resellers", resellerCols, project(rows, resellerCols))
		if err := l.advance("resellers", rows, "id"); err != nil {
			return results, err
		}
	}
	if rows, ok := clean["products"]; ok {
		results["products"] = l.insertRows(ctx, "products", productCols, project(rows, productCols))
		if err := l.advance("products", rows, "source_id"); err != nil {
			return results, err
		}
	}

	// 2. Remap product business keys to their store-assigned surrogate ids.
	// Needed by order lines and production even when no product was loaded
	// this run.
	productIDs, err := l.Repo.KeyMap(ctx, "products", "source_id")
	if err != nil {
		return results, fmt.Errorf("load: product key map: %w", err)
	}

	// 3. Orders: insert the deduplicated header projection of the wide
	// batch, then remap order numbers to surrogate ids for the line items.
	if wide, ok := clean["orders"]; ok {
		headers := distinctProjection(wide, orderCols)
		results["orders"] = l.insertRows(ctx, "orders", orderCols, headers)

		orderIDs, err := l.Repo.KeyMap(ctx, "orders", "order_number")
		if err != nil {
			return results, fmt.Errorf("load: order key map: %w", err)
		}

		lines := make([]row, 0, len(wide))
		for _, r := range wide {
			orderID, ok := orderIDs[records.AsString(r.Fields["order_number"])]
			if !ok {
				l.Audit.Record("insert_error", "order_lines",
					fmt.Sprintf("row %d (%s): unresolved order number %q",
						r.ID.Line, r.ID.Source, records.AsString(r.Fields["order_number"])))
				continue
			}
			productID, ok := productIDs[records.AsString(r.Fields["product_id"])]
			if !ok {
				l.Audit.Record("insert_error", "order_lines",
					fmt.Sprintf("row %d (%s): unresolved product %q",
						r.ID.Line, r.ID.Source, records.AsString(r.Fields["product_id"])))
				continue
			}
			lines = append(lines, row{
				id: r.ID,
				values: []any{orderID, productID,
					marshal(r.Fields["quantity"]), marshal(r.Fields["unit_price"])},
			})
		}
		results["order_lines"] = l.insertRows(ctx, "order_lines", orderLineCols, lines)
	}

	// 4. Production, with product ids remapped.
	if rows, ok := clean["production"]; ok {
		batch := make([]row, 0, len(rows))
		for _, r := range rows {
			productID, ok := productIDs[records.AsString(r.Fields["product_id"])]
			if !ok {
				l.Audit.Record("insert_error", "production",
					fmt.Sprintf("row %d (%s): unresolved product %q",
						r.ID.Line, r.ID.Source, records.AsString(r.Fields["product_id"])))
				continue
			}
			batch = append(batch, row{
				id: r.ID,
				values: []any{marshal(r.Fields["id"]), productID,
					marshal(r.Fields["quantity"]), marshal(r.Fields["date"])},
			})
		}
		results["production"] = l.insertRows(ctx, "production", productionCols, batch)
		if err := l.advance("production", rows, "id"); err != nil {
			return results, err
		}
	}

	return results, nil
}

// row pairs insert values with the provenance used for failure logging.
type row struct {
	id     records.RowID
	values []any
}

// insertRows inserts each row independently and returns the success count.
// Failures are logged per row and do not abort the batch.
func (l *Loader) insertRows(ctx context.Context, table string, columns []string, batch []row) int {
	inserted := 0
	for _, r := range batch {
		if err := l.Repo.InsertRow(ctx, table, columns, r.values); err != nil {
			l.Audit.Record("insert_error", table,
				fmt.Sprintf("row %d (%s): %v", r.id.Line, r.id.Source, err))
			continue
		}
		inserted++
	}
	return inserted
}

// advance moves the watermark for the table to the highest key value in the
// batch, addressed by the source-side table name.
func (l *Loader) advance(table string, rows []records.Row, keyCol string) error {
	var max int64
	found := false
	for _, r := range rows {
		if v, ok := records.AsInt64(r.Fields[keyCol]); ok {
			if !found || v > max {
				max = v
				found = true
			}
		}
	}
	if !found {
		return nil
	}
	if err := l.Marks.Set(l.Registry.SourceTable(table), max); err != nil {
		return fmt.Errorf("load: advance watermark for %s: %w", table, err)
	}
	return nil
}

// project extracts the given columns from every row, marshaling values for
// driver portability.
func project(rows []records.Row, columns []string) []row {
	out := make([]row, len(rows))
	for i, r := range rows {
		values := make([]any, len(columns))
		for j, col := range columns {
			values[j] = marshal(r.Fields[col])
		}
		out[i] = row{id: r.ID, values: values}
	}
	return out
}

// distinctProjection projects columns and drops rows identical across all of
// them, keeping the first occurrence. Used for the orders header, which
// repeats once per line item in the wide batch.
func distinctProjection(rows []records.Row, columns []string) []row {
	seen := map[string]struct{}{}
	var out []row
	for _, r := range rows {
		values := make([]any, len(columns))
		key := ""
		for j, col := range columns {
			values[j] = marshal(r.Fields[col])
			key += records.AsString(r.Fields[col]) + "\x1f"
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, row{id: r.ID, values: values})
	}
	return out
}

// marshal converts coerced values into forms every backend driver binds
// cleanly: dates as canonical strings, integral floats as integers.
func marshal(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.Format(schema.DateLayout)
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) {
			return int64(t)
		}
		return t
	default:
		return v
	}
}

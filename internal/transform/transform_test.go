package transform

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"salesetl/internal/schema"
	"salesetl/pkg/records"
)

type event struct {
	kind, source, message string
}

type memSink struct {
	events []event
}

func (s *memSink) Record(kind, source, message string) {
	s.events = append(s.events, event{kind, source, message})
}

func (s *memSink) count(kind string) int {
	n := 0
	for _, e := range s.events {
		if e.kind == kind {
			n++
		}
	}
	return n
}

// fakeStore answers DistinctValues from a static table.column map. Missing
// entries are empty sets, not errors.
type fakeStore struct {
	values map[string]map[string]struct{}
	err    error
}

func (f *fakeStore) DistinctValues(ctx context.Context, table, column string) (map[string]struct{}, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.values[table+"."+column]; ok {
		return v, nil
	}
	return map[string]struct{}{}, nil
}

func set(vals ...string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, v := range vals {
		out[v] = struct{}{}
	}
	return out
}

func mkRow(source string, line int, fields map[string]any) records.Row {
	return records.Row{
		ID:     records.RowID{Source: source, Line: line},
		Fields: records.Record(fields),
	}
}

func orderRow(line int, number, date, reseller, product, qty, price string) records.Row {
	return mkRow("orders.csv", line, map[string]any{
		"order_number": number,
		"date":         date,
		"reseller_id":  reseller,
		"product_id":   product,
		"quantity":     qty,
		"unit_price":   price,
	})
}

func newTransformer(store Lookup, sink *memSink) *Transformer {
	return &Transformer{
		Registry: schema.Default(),
		Store:    store,
		Audit:    sink,
		Now:      func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) },
	}
}

// referenced gives every orders row a home: reseller 1 and product 10 exist in
// the store already.
func referenced() *fakeStore {
	return &fakeStore{values: map[string]map[string]struct{}{
		"resellers.id":       set("1"),
		"products.source_id": set("10"),
	}}
}

func TestTransformCleanRowSurvives(t *testing.T) {
	sink := &memSink{}
	tr := newTransformer(referenced(), sink)

	clean, rejected, err := tr.Transform(context.Background(), map[string][]records.Row{
		"orders": {orderRow(1, "CMD-1", "2024-05-01", "1", "10", "3", "59.90")},
	})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(clean["orders"]) != 1 {
		t.Fatalf("got %d clean rows, want 1", len(clean["orders"]))
	}
	if len(rejected["orders"]) != 0 {
		t.Fatalf("unexpected rejections: %v", rejected["orders"])
	}

	row := clean["orders"][0]
	if _, ok := row.Fields["date"].(time.Time); !ok {
		t.Fatalf("date not coerced: %T", row.Fields["date"])
	}
	if q, ok := row.Fields["quantity"].(float64); !ok || q != 3 {
		t.Fatalf("quantity not coerced: %v", row.Fields["quantity"])
	}
	if row.Fields["order_number"] != "cmd-1" {
		t.Fatalf("text not normalized: %v", row.Fields["order_number"])
	}
}

func TestTransformFormatRejection(t *testing.T) {
	sink := &memSink{}
	tr := newTransformer(referenced(), sink)

	clean, rejected, err := tr.Transform(context.Background(), map[string][]records.Row{
		"orders": {
			orderRow(1, "CMD-1", "01/05/2024", "1", "10", "3", "59.90"),
			orderRow(2, "CMD-2", "2024-05-01", "1", "10", "abc", "59.90"),
			orderRow(3, "CMD-3", "2024-05-01", "1", "10", "3", "59.90"),
		},
	})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(clean["orders"]) != 1 {
		t.Fatalf("got %d survivors, want 1", len(clean["orders"]))
	}
	if len(rejected["orders"]) != 2 {
		t.Fatalf("got %d rejections, want 2", len(rejected["orders"]))
	}
	if sink.count(KindFormat) != 2 {
		t.Fatalf("got %d format events, want 2", sink.count(KindFormat))
	}
}

func TestTransformForbiddenValues(t *testing.T) {
	sink := &memSink{}
	tr := newTransformer(referenced(), sink)

	clean, _, err := tr.Transform(context.Background(), map[string][]records.Row{
		"orders": {
			orderRow(1, "CMD-1", "2024-05-01", "1", "10", "-3", "59.90"),
			orderRow(2, "CMD-2", "2099-01-01", "1", "10", "3", "59.90"),
			orderRow(3, "", "2024-05-01", "1", "10", "3", "59.90"),
			orderRow(4, "CMD-4", "2024-05-01", "1", "10", "3", "59.90"),
		},
	})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(clean["orders"]) != 1 {
		t.Fatalf("got %d survivors, want 1", len(clean["orders"]))
	}
	if sink.count(KindForbiddenValue) != 3 {
		t.Fatalf("got %d forbidden_value events, want 3", sink.count(KindForbiddenValue))
	}
	for _, e := range sink.events {
		if e.kind != KindForbiddenValue {
			continue
		}
		if !strings.HasPrefix(e.message, "row ") {
			t.Fatalf("event lacks row provenance: %q", e.message)
		}
	}
}

func TestTransformInBatchDedup(t *testing.T) {
	sink := &memSink{}
	tr := newTransformer(&fakeStore{}, sink)

	clean, _, err := tr.Transform(context.Background(), map[string][]records.Row{
		"products": {
			mkRow("product", 1, map[string]any{"source_id": "10", "name": "Widget A", "unit_cost": "4.50"}),
			mkRow("product", 2, map[string]any{"source_id": "10", "name": "Widget B", "unit_cost": "5.50"}),
		},
	})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(clean["products"]) != 1 {
		t.Fatalf("got %d survivors, want 1", len(clean["products"]))
	}
	if clean["products"][0].Fields["name"] != "widget a" {
		t.Fatalf("dedup must keep the first occurrence, kept %v", clean["products"][0].Fields["name"])
	}
	if sink.count(KindDuplicate) != 1 {
		t.Fatalf("got %d duplicate events, want 1", sink.count(KindDuplicate))
	}
}

func TestTransformStoreDedup(t *testing.T) {
	sink := &memSink{}
	store := &fakeStore{values: map[string]map[string]struct{}{
		"products.source_id": set("10"),
	}}
	tr := newTransformer(store, sink)

	clean, _, err := tr.Transform(context.Background(), map[string][]records.Row{
		"products": {
			mkRow("product", 1, map[string]any{"source_id": "10", "name": "Widget A", "unit_cost": "4.50"}),
			mkRow("product", 2, map[string]any{"source_id": "11", "name": "Widget B", "unit_cost": "5.50"}),
		},
	})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(clean["products"]) != 1 || clean["products"][0].Fields["source_id"] != "11" {
		t.Fatalf("store-level dedup failed: %v", clean["products"])
	}
	if sink.count(KindDuplicateInStore) != 1 {
		t.Fatalf("got %d duplicate_in_store events, want 1", sink.count(KindDuplicateInStore))
	}
}

func TestTransformOrdersSkipInBatchKeyDedup(t *testing.T) {
	// One order with two line items repeats its order number; both lines must
	// survive key dedup.
	sink := &memSink{}
	tr := newTransformer(referenced(), sink)

	clean, _, err := tr.Transform(context.Background(), map[string][]records.Row{
		"orders": {
			orderRow(1, "CMD-1", "2024-05-01", "1", "10", "3", "59.90"),
			orderRow(2, "CMD-1", "2024-05-01", "1", "10", "5", "12.00"),
		},
	})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(clean["orders"]) != 2 {
		t.Fatalf("got %d survivors, want both line items", len(clean["orders"]))
	}
	if sink.count(KindDuplicate) != 0 {
		t.Fatalf("unexpected duplicate events: %v", sink.events)
	}
}

func TestTransformStrictDuplicate(t *testing.T) {
	sink := &memSink{}
	tr := newTransformer(referenced(), sink)

	clean, _, err := tr.Transform(context.Background(), map[string][]records.Row{
		"orders": {
			orderRow(1, "CMD-1", "2024-05-01", "1", "10", "3", "59.90"),
			orderRow(2, "CMD-1", "2024-05-01", "1", "10", "3", "59.90"),
		},
	})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(clean["orders"]) != 1 {
		t.Fatalf("got %d survivors, want 1", len(clean["orders"]))
	}
	if sink.count(KindStrictDuplicate) != 1 {
		t.Fatalf("got %d strict_duplicate events, want 1", sink.count(KindStrictDuplicate))
	}
}

func TestTransformStructureRejectsWholeBatch(t *testing.T) {
	sink := &memSink{}
	tr := newTransformer(&fakeStore{}, sink)

	clean, rejected, err := tr.Transform(context.Background(), map[string][]records.Row{
		"products": {
			mkRow("product", 1, map[string]any{"source_id": "10", "name": "Widget A"}),
			mkRow("product", 2, map[string]any{"source_id": "11", "name": "Widget B"}),
		},
	})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(clean) != 0 {
		t.Fatalf("structurally invalid batch survived: %v", clean)
	}
	if len(rejected["products"]) != 2 {
		t.Fatalf("got %d rejections, want whole batch", len(rejected["products"]))
	}
	if sink.count(KindStructure) != 1 {
		t.Fatalf("structure event must be logged once per table, got %d", sink.count(KindStructure))
	}
	if !strings.Contains(sink.events[0].message, "unit_cost") {
		t.Fatalf("structure event must name the missing column: %q", sink.events[0].message)
	}
}

func TestTransformForeignKeyAgainstStore(t *testing.T) {
	sink := &memSink{}
	store := &fakeStore{values: map[string]map[string]struct{}{
		"resellers.id":       set("1"),
		"products.source_id": set("10"),
	}}
	tr := newTransformer(store, sink)

	clean, rejected, err := tr.Transform(context.Background(), map[string][]records.Row{
		"orders": {
			orderRow(1, "CMD-1", "2024-05-01", "1", "10", "3", "59.90"),
			orderRow(2, "CMD-2", "2024-05-01", "3", "10", "3", "59.90"),
		},
	})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(clean["orders"]) != 1 {
		t.Fatalf("got %d survivors, want 1", len(clean["orders"]))
	}
	if len(rejected["orders"]) != 1 {
		t.Fatalf("got %d rejections, want 1", len(rejected["orders"]))
	}
	if sink.count(KindForeignKey) != 1 {
		t.Fatalf("got %d foreign_key events, want 1", sink.count(KindForeignKey))
	}
}

func TestTransformForeignKeyResolvedBySiblingBatch(t *testing.T) {
	// The referenced reseller arrives in the same run; the store knows nothing
	// about it yet.
	sink := &memSink{}
	store := &fakeStore{values: map[string]map[string]struct{}{
		"products.source_id": set("10"),
		"regions.id":         set("1"),
	}}
	tr := newTransformer(store, sink)

	clean, _, err := tr.Transform(context.Background(), map[string][]records.Row{
		"resellers": {
			mkRow("reseller", 1, map[string]any{"id": "7", "name": "North Shop", "region_id": "1"}),
		},
		"orders": {
			orderRow(1, "CMD-1", "2024-05-01", "7", "10", "3", "59.90"),
		},
	})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(clean["orders"]) != 1 {
		t.Fatalf("sibling-batch reference not resolved: %v", sink.events)
	}
	if sink.count(KindForeignKey) != 0 {
		t.Fatalf("unexpected foreign_key events: %v", sink.events)
	}
}

func TestTransformTableWithNoSurvivorsRemoved(t *testing.T) {
	sink := &memSink{}
	tr := newTransformer(&fakeStore{}, sink)

	clean, _, err := tr.Transform(context.Background(), map[string][]records.Row{
		"orders": {
			orderRow(1, "CMD-1", "2024-05-01", "99", "98", "3", "59.90"),
		},
	})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if _, ok := clean["orders"]; ok {
		t.Fatalf("table with zero survivors must be removed from the clean set")
	}
}

func TestTransformStoreFailureIsFatal(t *testing.T) {
	sink := &memSink{}
	store := &fakeStore{err: fmt.Errorf("connection reset")}
	tr := newTransformer(store, sink)

	_, _, err := tr.Transform(context.Background(), map[string][]records.Row{
		"products": {
			mkRow("product", 1, map[string]any{"source_id": "10", "name": "Widget A", "unit_cost": "4.50"}),
		},
	})
	if err == nil {
		t.Fatalf("expected an error when the target store is unreachable")
	}
}

func TestTransformRejectionLoggedOnce(t *testing.T) {
	// A row failing coercion must not also be evaluated by later steps.
	sink := &memSink{}
	tr := newTransformer(referenced(), sink)

	_, rejected, err := tr.Transform(context.Background(), map[string][]records.Row{
		"orders": {
			orderRow(1, "CMD-1", "not-a-date", "99", "98", "-1", "59.90"),
		},
	})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(sink.events) != 1 {
		t.Fatalf("row must be logged exactly once, got %d events: %v", len(sink.events), sink.events)
	}
	if sink.events[0].kind != KindFormat {
		t.Fatalf("first failing step must win, got %q", sink.events[0].kind)
	}
	if len(rejected["orders"]) != 1 {
		t.Fatalf("rejected set = %v", rejected["orders"])
	}
}

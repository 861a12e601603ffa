package prompush

import (
	"testing"

	"salesetl/internal/metrics"
)

func TestNewBackendRequiresURL(t *testing.T) {
	if _, err := NewBackend("etl", ""); err == nil {
		t.Fatalf("expected an error for an empty gateway URL")
	}
}

func TestIncCounterTranslation(t *testing.T) {
	b, err := NewBackend("etl", "http://localhost:9091")
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}

	b.IncCounter("etl_step_total", 1, metrics.Labels{"step": "extract", "status": "success"})
	b.IncCounter("etl_rows_total", 5, metrics.Labels{"table": "orders", "kind": "loaded"})
	b.IncCounter("unknown_metric", 1, nil)
	b.ObserveHistogram("etl_step_duration_seconds", 0.25, metrics.Labels{"step": "extract", "status": "success"})
	b.ObserveHistogram("unknown_metric", 1, nil)

	families, err := b.reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	got := map[string]bool{}
	for _, fam := range families {
		got[fam.GetName()] = true
	}
	for _, name := range []string{"etl_step_total", "etl_rows_total", "etl_step_duration_seconds"} {
		if !got[name] {
			t.Fatalf("metric %q not recorded, have %v", name, got)
		}
	}
	if got["unknown_metric"] {
		t.Fatalf("unknown metric names must be ignored")
	}
}

func TestCounterValues(t *testing.T) {
	b, err := NewBackend("etl", "http://localhost:9091")
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}

	b.IncCounter("etl_rows_total", 3, metrics.Labels{"table": "orders", "kind": "loaded"})
	b.IncCounter("etl_rows_total", 2, metrics.Labels{"table": "orders", "kind": "loaded"})

	families, err := b.reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != "etl_rows_total" {
			continue
		}
		if n := len(fam.GetMetric()); n != 1 {
			t.Fatalf("got %d series, want 1", n)
		}
		if v := fam.GetMetric()[0].GetCounter().GetValue(); v != 5 {
			t.Fatalf("counter = %v, want 5", v)
		}
		return
	}
	t.Fatalf("etl_rows_total not found")
}

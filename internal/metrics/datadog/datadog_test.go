package datadog

import (
	"sort"
	"testing"

	"salesetl/internal/metrics"
)

func TestNewBackendRequiresAddr(t *testing.T) {
	if _, err := NewBackend(Config{}); err == nil {
		t.Fatalf("expected an error for an empty Addr")
	}
}

func TestNewBackendAndEmit(t *testing.T) {
	// DogStatsD is UDP; no agent needs to be listening.
	b, err := NewBackend(Config{
		Addr:       "127.0.0.1:8125",
		Namespace:  "etl.",
		GlobalTags: []string{"job:sales_etl_test"},
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}

	b.IncCounter("etl_step_total", 1, metrics.Labels{"step": "extract", "status": "success"})
	b.ObserveHistogram("etl_step_duration_seconds", 0.5, metrics.Labels{"step": "extract", "status": "success"})
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestLabelsToTags(t *testing.T) {
	tags := labelsToTags(metrics.Labels{"step": "load", "status": "failure"})
	sort.Strings(tags)
	want := []string{"status:failure", "step:load"}
	if len(tags) != len(want) {
		t.Fatalf("got %v, want %v", tags, want)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Fatalf("got %v, want %v", tags, want)
		}
	}
}

func TestLabelsToTagsEmpty(t *testing.T) {
	if tags := labelsToTags(nil); tags != nil {
		t.Fatalf("nil labels must produce nil tags, got %v", tags)
	}
}

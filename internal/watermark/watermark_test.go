package watermark

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetMissing(t *testing.T) {
	s := New(t.TempDir())
	if got := s.Get("product"); got != 0 {
		t.Fatalf("missing watermark = %d, want 0", got)
	}
}

func TestSetGet(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "log"))
	if err := s.Set("product", 42); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := s.Get("product"); got != 42 {
		t.Fatalf("Get = %d, want 42", got)
	}
}

func TestSetMonotonic(t *testing.T) {
	s := New(t.TempDir())
	if err := s.Set("region", 10); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("region", 5); err != nil {
		t.Fatalf("Set lower: %v", err)
	}
	if got := s.Get("region"); got != 10 {
		t.Fatalf("watermark regressed to %d", got)
	}
}

func TestGetUnparseable(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "last_product_id.txt"), []byte("garbage"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := New(dir).Get("product"); got != 0 {
		t.Fatalf("unparseable watermark = %d, want 0", got)
	}
}

func TestPurge(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	for _, table := range []string{"product", "region"} {
		if err := s.Set(table, 7); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	// Unrelated files in the same directory must survive.
	other := filepath.Join(dir, "log_etl_2024-01-01.csv")
	if err := os.WriteFile(other, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := s.Purge(); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if got := s.Get("product"); got != 0 {
		t.Fatalf("watermark survived purge: %d", got)
	}
	if _, err := os.Stat(other); err != nil {
		t.Fatalf("purge removed unrelated file: %v", err)
	}
}

func TestPurgeMissingDir(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nope"))
	if err := s.Purge(); err != nil {
		t.Fatalf("Purge on missing dir: %v", err)
	}
}

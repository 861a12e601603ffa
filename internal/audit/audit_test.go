package audit

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileSinkDailyFile(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSink(dir)
	s.now = func() time.Time {
		return time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	}

	s.Record("format", "orders.csv", "row 3: bad date")
	s.Record("foreign_key", "orders.csv", "row 4: unknown reseller")

	path := filepath.Join(dir, "log_etl_2024-03-15.csv")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("parse log: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header + 2 events", len(rows))
	}
	if rows[0][1] != "event_kind" {
		t.Fatalf("header = %v", rows[0])
	}
	if rows[1][1] != "format" || rows[1][2] != "orders.csv" {
		t.Fatalf("first event = %v", rows[1])
	}
	if rows[2][1] != "foreign_key" {
		t.Fatalf("second event = %v", rows[2])
	}
	if rows[1][0] != "2024-03-15 10:30:00" {
		t.Fatalf("timestamp = %q", rows[1][0])
	}
}

func TestFileSinkRollsToNewDay(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSink(dir)

	day := time.Date(2024, 3, 15, 23, 59, 0, 0, time.UTC)
	s.now = func() time.Time { return day }
	s.Record("read_ok", "a.csv", "10 rows to process")

	day = day.Add(2 * time.Minute)
	s.Record("read_ok", "b.csv", "5 rows to process")

	for _, name := range []string{"log_etl_2024-03-15.csv", "log_etl_2024-03-16.csv"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}
}

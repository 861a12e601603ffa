// Package audit provides the append-only event log that every rejection and
// pipeline event is written to. The core treats the sink as write-only and
// fire-and-forget: a failing sink never fails the run.
package audit

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// Sink receives audit events. Implementations must tolerate being called for
// every rejected row without failing the caller.
type Sink interface {
	// Record appends one event: kind classifies the event (e.g. "format",
	// "foreign_key", "insert_error"), source identifies the originating file
	// or table, message carries the human-readable detail.
	Record(kind, source, message string)
}

// FileSink appends events to a daily CSV file log_etl_YYYY-MM-DD.csv under a
// log directory, writing the header row when the file is first created.
type FileSink struct {
	dir string
	now func() time.Time
}

// NewFileSink returns a FileSink writing under dir.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir, now: time.Now}
}

// Record implements Sink. Write errors are reported to the process log and
// otherwise swallowed; auditing must never abort the pipeline.
func (s *FileSink) Record(kind, source, message string) {
	now := s.now()
	path := filepath.Join(s.dir, fmt.Sprintf("log_etl_%s.csv", now.Format("2006-01-02")))

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		log.Printf("audit: mkdir: %v", err)
		return
	}
	_, statErr := os.Stat(path)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("audit: open %s: %v", path, err)
		return
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		_ = w.Write([]string{"timestamp", "event_kind", "source", "message"})
	}
	_ = w.Write([]string{now.Format("2006-01-02 15:04:05"), kind, source, message})
	w.Flush()
	if err := w.Error(); err != nil {
		log.Printf("audit: write: %v", err)
	}
}

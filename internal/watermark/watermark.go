// Package watermark persists, per source table, the last successfully loaded
// primary-key value. One plain-text file per table keeps the store trivially
// inspectable and recoverable by hand.
package watermark

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Store reads and writes watermark files under a single directory. Files are
// named last_<table>_id.txt and hold one integer.
type Store struct {
	dir string
}

// New returns a Store rooted at dir. The directory is created lazily on the
// first write.
func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(table string) string {
	return filepath.Join(s.dir, fmt.Sprintf("last_%s_id.txt", table))
}

// Get returns the stored watermark for table, or 0 when the file is absent or
// unparseable. A missing watermark simply means "extract everything".
func (s *Store) Get(table string) int64 {
	b, err := os.ReadFile(s.path(table))
	if err != nil {
		return 0
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// Set records id as the watermark for table. Watermarks are monotonically
// non-decreasing: an id lower than the stored value is ignored.
func (s *Store) Set(table string, id int64) error {
	if id <= s.Get(table) {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("watermark: mkdir: %w", err)
	}
	if err := os.WriteFile(s.path(table), []byte(strconv.FormatInt(id, 10)), 0o644); err != nil {
		return fmt.Errorf("watermark: write %s: %w", table, err)
	}
	return nil
}

// Purge removes every watermark file. Called when the target store is being
// provisioned from scratch: a fresh store has no load history.
func (s *Store) Purge() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("watermark: read dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "last_") && strings.HasSuffix(name, "_id.txt") {
			if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
				return fmt.Errorf("watermark: remove %s: %w", name, err)
			}
		}
	}
	return nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"salesetl/internal/storage"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"DATA_IN", "DATA_PROCESSED", "DATA_LOG", "WATERMARK_DIR", "SOURCE_DB_PATH", "DB_KIND", "DB_DSN", "ETL_JOB"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg := Load(filepath.Join(t.TempDir(), "absent.env"))
	if cfg.InboxDir != "data/in" || cfg.ArchiveDir != "data/processed" || cfg.LogDir != "data/log" {
		t.Fatalf("directory defaults: %+v", cfg)
	}
	if cfg.WatermarkDir != cfg.LogDir {
		t.Fatalf("WatermarkDir should default to LogDir, got %q", cfg.WatermarkDir)
	}
	if cfg.Store.Kind != "mysql" {
		t.Fatalf("default store kind = %q", cfg.Store.Kind)
	}
	if cfg.Job != "sales_etl" {
		t.Fatalf("default job = %q", cfg.Job)
	}
}

func TestLoadEnvFile(t *testing.T) {
	for _, key := range []string{"DATA_IN", "DB_KIND", "DB_DSN"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	path := filepath.Join(t.TempDir(), ".env")
	content := "DATA_IN=/srv/etl/in\nDB_KIND=sqlite\nDB_DSN=file:target.sqlite\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg := Load(path)
	if cfg.InboxDir != "/srv/etl/in" {
		t.Fatalf("InboxDir = %q", cfg.InboxDir)
	}
	if cfg.Store.Kind != "sqlite" || cfg.Store.DSN != "file:target.sqlite" {
		t.Fatalf("store = %+v", cfg.Store)
	}
}

func TestValidateIssues(t *testing.T) {
	cfg := Config{
		InboxDir:   "data/in",
		ArchiveDir: "data/processed",
		Store:      storage.Config{Kind: "oracle"},
	}

	issues := Validate(cfg)
	errors, warnings := 0, 0
	for _, i := range issues {
		switch i.Severity {
		case SeverityError:
			errors++
		case SeverityWarning:
			warnings++
		}
	}
	if errors != 2 {
		t.Fatalf("got %d errors, want 2 (dsn, kind): %+v", errors, issues)
	}
	if warnings != 1 {
		t.Fatalf("got %d warnings, want 1 (source db): %+v", warnings, issues)
	}
}

func TestValidateOK(t *testing.T) {
	cfg := Config{
		InboxDir:   "data/in",
		ArchiveDir: "data/processed",
		SourceDB:   "data/stock.sqlite",
		Store:      storage.Config{Kind: "sqlite", DSN: "file:target.sqlite"},
	}
	if issues := Validate(cfg); len(issues) != 0 {
		t.Fatalf("unexpected issues: %+v", issues)
	}
}

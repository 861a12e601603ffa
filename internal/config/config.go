// Package config defines the runtime configuration for the pipeline,
// loaded from environment variables with an optional .env file. The
// resulting Config is immutable after Load and passed explicitly to each
// component; there is no ambient global state.
package config

import (
	"os"

	"github.com/joho/godotenv"

	"salesetl/internal/storage"
)

// Config is the full pipeline configuration.
type Config struct {
	// InboxDir holds pending CSV batch files; ArchiveDir receives processed
	// files; LogDir receives the daily audit log.
	InboxDir   string
	ArchiveDir string
	LogDir     string

	// WatermarkDir holds the per-table watermark files. Defaults to LogDir,
	// matching where the files have historically lived.
	WatermarkDir string

	// SourceDB is the path of the embedded SQLite source store.
	SourceDB string

	// Store selects and parameterizes the target store backend.
	Store storage.Config

	// Job names this pipeline in metrics.
	Job string
}

// Load reads configuration from the environment. When envFile is non-empty
// it is loaded first (missing file is not an error; the environment may be
// fully populated already).
func Load(envFile string) Config {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	} else {
		_ = godotenv.Load()
	}

	cfg := Config{
		InboxDir:     getenv("DATA_IN", "data/in"),
		ArchiveDir:   getenv("DATA_PROCESSED", "data/processed"),
		LogDir:       getenv("DATA_LOG", "data/log"),
		WatermarkDir: os.Getenv("WATERMARK_DIR"),
		SourceDB:     getenv("SOURCE_DB_PATH", "data/stock.sqlite"),
		Store: storage.Config{
			Kind: getenv("DB_KIND", "mysql"),
			DSN:  os.Getenv("DB_DSN"),
		},
		Job: getenv("ETL_JOB", "sales_etl"),
	}
	if cfg.WatermarkDir == "" {
		cfg.WatermarkDir = cfg.LogDir
	}
	return cfg
}

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one configuration problem found by Validate.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

var knownKinds = map[string]struct{}{
	"mysql":    {},
	"postgres": {},
	"sqlite":   {},
}

// Validate reports configuration problems. Errors make the configuration
// unusable; warnings are informational.
func Validate(cfg Config) []Issue {
	var issues []Issue
	if cfg.Store.DSN == "" {
		issues = append(issues, Issue{SeverityError, "store.dsn", "target store DSN is required (DB_DSN)"})
	}
	if _, ok := knownKinds[cfg.Store.Kind]; !ok {
		issues = append(issues, Issue{SeverityError, "store.kind", "unknown target store kind (DB_KIND): " + cfg.Store.Kind})
	}
	if cfg.InboxDir == "" {
		issues = append(issues, Issue{SeverityError, "inbox", "inbox directory is required (DATA_IN)"})
	}
	if cfg.ArchiveDir == "" {
		issues = append(issues, Issue{SeverityError, "archive", "archive directory is required (DATA_PROCESSED)"})
	}
	if cfg.SourceDB == "" {
		issues = append(issues, Issue{SeverityWarning, "source_db", "no embedded source store configured (SOURCE_DB_PATH); only the file branch will run"})
	}
	return issues
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

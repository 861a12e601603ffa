// Package storage contains the storage-agnostic contract for the target
// store plus a factory keyed by backend kind. Concrete backends live in
// subpackages and register themselves at init time; callers select one
// through configuration without importing it directly.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config selects and parameterizes a backend.
type Config struct {
	// Kind selects the backend: "mysql", "postgres", or "sqlite".
	Kind string

	// DSN is the backend-specific connection string.
	DSN string
}

// Repository is the target store as seen by the pipeline. Implementations
// must use parameterized statements for all value interpolation.
type Repository interface {
	// Exists reports whether the target schema has been provisioned.
	Exists(ctx context.Context) (bool, error)

	// EnsureSchema creates the six target tables (idempotent).
	EnsureSchema(ctx context.Context) error

	// InsertRow inserts one row. A failure affects only that row; callers
	// decide whether to continue.
	InsertRow(ctx context.Context, table string, columns []string, values []any) error

	// DistinctValues returns the distinct values of a column in canonical
	// string form, for dedup and foreign-key resolution.
	DistinctValues(ctx context.Context, table, column string) (map[string]struct{}, error)

	// KeyMap returns the mapping from a business-key column's values (in
	// canonical string form) to the store-assigned surrogate id.
	KeyMap(ctx context.Context, table, keyColumn string) (map[string]int64, error)

	// RefreshViews (re)creates the derived reporting views.
	RefreshViews(ctx context.Context) error

	Close()
}

// Factory constructs a Repository from a Config.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the factory for a backend kind. It is
// called from backend packages' init functions.
func Register(kind string, fn Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = fn
}

// Open constructs the Repository selected by cfg.Kind.
func Open(ctx context.Context, cfg Config) (Repository, error) {
	mu.RLock()
	fn, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: unknown kind %q (registered: %v)", cfg.Kind, Kinds())
	}
	return fn(ctx, cfg)
}

// Kinds returns the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

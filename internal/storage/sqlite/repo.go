// Package sqlite implements a SQLite-backed storage.Repository using
// database/sql. It is the lightest target backend and doubles as the store
// used by the integration-style tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"salesetl/internal/storage"
	"salesetl/pkg/records"
)

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return NewRepository(ctx, cfg.DSN)
	})
}

// Repository is a SQLite-backed implementation of storage.Repository.
type Repository struct {
	db *sql.DB
}

// NewRepository opens a SQLite connection for the given DSN, e.g.
// "file:central.db?_fk=1" or a plain path.
func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	_, _ = db.ExecContext(ctx, "PRAGMA foreign_keys = ON;")
	return &Repository{db: db}, nil
}

// Close closes the underlying connection pool.
func (r *Repository) Close() { r.db.Close() }

// Exists reports whether the target schema has been provisioned, using the
// regions table as the sentinel.
func (r *Repository) Exists(ctx context.Context) (bool, error) {
	var name string
	err := r.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'regions'`,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: exists: %w", err)
	}
	return true, nil
}

var ddl = []string{
	`CREATE TABLE IF NOT EXISTS regions (
		id INTEGER NOT NULL PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS resellers (
		id INTEGER NOT NULL PRIMARY KEY,
		name TEXT NOT NULL,
		region_id INTEGER NOT NULL,
		FOREIGN KEY (region_id) REFERENCES regions(id)
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		unit_cost REAL NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS production (
		id INTEGER NOT NULL PRIMARY KEY,
		product_id INTEGER NOT NULL,
		quantity INTEGER NOT NULL,
		date TEXT NOT NULL,
		FOREIGN KEY (product_id) REFERENCES products(id)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_number TEXT NOT NULL,
		date TEXT NOT NULL,
		reseller_id INTEGER NOT NULL,
		FOREIGN KEY (reseller_id) REFERENCES resellers(id)
	)`,
	`CREATE TABLE IF NOT EXISTS order_lines (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id INTEGER NOT NULL,
		product_id INTEGER NOT NULL,
		quantity INTEGER NOT NULL,
		unit_price REAL NOT NULL,
		FOREIGN KEY (order_id) REFERENCES orders(id),
		FOREIGN KEY (product_id) REFERENCES products(id)
	)`,
}

// EnsureSchema creates the six target tables if they do not exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range ddl {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: ensure schema: %w", err)
		}
	}
	return nil
}

// InsertRow inserts one row with placeholder parameters.
func (r *Repository) InsertRow(ctx context.Context, table string, columns []string, values []any) error {
	placeholders := make([]string, len(columns))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	if _, err := r.db.ExecContext(ctx, stmt, values...); err != nil {
		return fmt.Errorf("sqlite: insert into %s: %w", table, err)
	}
	return nil
}

// DistinctValues returns the distinct values of table.column in canonical
// string form.
func (r *Repository) DistinctValues(ctx context.Context, table, column string) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf("SELECT DISTINCT %s FROM %s", column, table))
	if err != nil {
		return nil, fmt.Errorf("sqlite: distinct %s.%s: %w", table, column, err)
	}
	defer rows.Close()

	out := map[string]struct{}{}
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("sqlite: scan distinct: %w", err)
		}
		out[records.AsString(v)] = struct{}{}
	}
	return out, rows.Err()
}

// KeyMap returns business key -> surrogate id for table.
func (r *Repository) KeyMap(ctx context.Context, table, keyColumn string) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf("SELECT id, %s FROM %s", keyColumn, table))
	if err != nil {
		return nil, fmt.Errorf("sqlite: key map %s: %w", table, err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var id int64
		var key any
		if err := rows.Scan(&id, &key); err != nil {
			return nil, fmt.Errorf("sqlite: scan key map: %w", err)
		}
		out[records.AsString(key)] = id
	}
	return out, rows.Err()
}

var views = []string{
	`DROP VIEW IF EXISTS v_stock`,
	`CREATE VIEW v_stock AS
	SELECT
		p.source_id AS product_source_id,
		p.name      AS product,
		COALESCE(prod.total_produced, 0) AS total_produced,
		COALESCE(ord.total_ordered, 0)   AS total_ordered,
		COALESCE(prod.total_produced, 0) - COALESCE(ord.total_ordered, 0) AS stock
	FROM products AS p
	LEFT JOIN (
		SELECT product_id, SUM(quantity) AS total_produced
		FROM production GROUP BY product_id
	) AS prod ON prod.product_id = p.id
	LEFT JOIN (
		SELECT product_id, SUM(quantity) AS total_ordered
		FROM order_lines GROUP BY product_id
	) AS ord ON ord.product_id = p.id
	ORDER BY p.source_id`,
	`DROP VIEW IF EXISTS v_orders_by_region`,
	`CREATE VIEW v_orders_by_region AS
	SELECT
		r.name      AS region,
		p.source_id AS product_source_id,
		p.name      AS product,
		SUM(ol.quantity) AS total_ordered
	FROM order_lines ol
	JOIN orders    o  ON ol.order_id   = o.id
	JOIN resellers rs ON o.reseller_id = rs.id
	JOIN regions   r  ON rs.region_id  = r.id
	JOIN products  p  ON ol.product_id = p.id
	GROUP BY r.name, p.source_id, p.name
	ORDER BY r.name, p.source_id`,
	`DROP VIEW IF EXISTS v_revenue_by_region`,
	`CREATE VIEW v_revenue_by_region AS
	SELECT
		r.id   AS region_id,
		r.name AS region,
		ROUND(SUM(ol.quantity * ol.unit_price), 2) AS revenue,
		COUNT(DISTINCT o.order_number) AS order_count
	FROM order_lines AS ol
	JOIN orders    AS o  ON ol.order_id   = o.id
	JOIN resellers AS rs ON o.reseller_id = rs.id
	JOIN regions   AS r  ON rs.region_id  = r.id
	GROUP BY r.id, r.name
	ORDER BY r.name`,
}

// RefreshViews (re)creates the derived reporting views.
func (r *Repository) RefreshViews(ctx context.Context) error {
	for _, stmt := range views {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: refresh views: %w", err)
		}
	}
	return nil
}

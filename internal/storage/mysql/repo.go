// Package mysql implements the default MySQL-backed storage.Repository using
// database/sql and the go-sql-driver. Creating the database itself and its
// user is left to the one-time provisioning script; this backend provisions
// tables and views inside an existing database.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"salesetl/internal/storage"
	"salesetl/pkg/records"
)

func init() {
	storage.Register("mysql", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return NewRepository(ctx, cfg.DSN)
	})
}

// Repository is a MySQL-backed implementation of storage.Repository.
type Repository struct {
	db *sql.DB
}

// NewRepository opens a MySQL connection pool for the given DSN, e.g.
// "user:pass@tcp(localhost:3306)/central".
func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("mysql: DSN must not be empty")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}
	return &Repository{db: db}, nil
}

// Close closes the underlying connection pool.
func (r *Repository) Close() { r.db.Close() }

// Exists reports whether the target schema has been provisioned, using the
// regions table as the sentinel.
func (r *Repository) Exists(ctx context.Context) (bool, error) {
	var name string
	err := r.db.QueryRowContext(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = DATABASE() AND table_name = 'regions'`,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mysql: exists: %w", err)
	}
	return true, nil
}

var ddl = []string{
	`CREATE TABLE IF NOT EXISTS regions (
		id INT NOT NULL PRIMARY KEY,
		name VARCHAR(50) NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS resellers (
		id INT NOT NULL PRIMARY KEY,
		name VARCHAR(50) NOT NULL,
		region_id INT NOT NULL,
		FOREIGN KEY (region_id) REFERENCES regions(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS products (
		id INT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		source_id INT NOT NULL,
		name VARCHAR(50) NOT NULL,
		unit_cost FLOAT NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS production (
		id INT NOT NULL PRIMARY KEY,
		product_id INT NOT NULL,
		quantity INT NOT NULL,
		date DATE NOT NULL,
		FOREIGN KEY (product_id) REFERENCES products(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS orders (
		id INT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		order_number VARCHAR(30) NOT NULL,
		date DATE NOT NULL,
		reseller_id INT NOT NULL,
		FOREIGN KEY (reseller_id) REFERENCES resellers(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS order_lines (
		id INT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		order_id INT NOT NULL,
		product_id INT NOT NULL,
		quantity INT NOT NULL,
		unit_price FLOAT NOT NULL,
		FOREIGN KEY (order_id) REFERENCES orders(id),
		FOREIGN KEY (product_id) REFERENCES products(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// EnsureSchema creates the six target tables if they do not exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range ddl {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mysql: ensure schema: %w", err)
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
		return fmt.Errorf("mysql: insert into %s: %w", table, err)
	}
	return nil
}

// DistinctValues returns the distinct values of table.column in canonical
// string form.
func (r *Repository) DistinctValues(ctx context.Context, table, column string) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf("SELECT DISTINCT %s FROM %s", column, table))
	if err != nil {
		return nil, fmt.Errorf("mysql: distinct %s.%s: %w", table, column, err)
	}
	defer rows.Close()

	out := map[string]struct{}{}
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("mysql: scan distinct: %w", err)
		}
		out[records.AsString(v)] = struct{}{}
	}
	return out, rows.Err()
}

// KeyMap returns business key -> surrogate id for table.
func (r *Repository) KeyMap(ctx context.Context, table, keyColumn string) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf("SELECT id, %s FROM %s", keyColumn, table))
	if err != nil {
		return nil, fmt.Errorf("mysql: key map %s: %w", table, err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var id int64
		var key any
		if err := rows.Scan(&id, &key); err != nil {
			return nil, fmt.Errorf("mysql: scan key map: %w", err)
		}
		out[records.AsString(key)] = id
	}
	return out, rows.Err()
}

var views = []string{
	`CREATE OR REPLACE VIEW v_stock AS
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
	`CREATE OR REPLACE VIEW v_orders_by_region AS
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
	`CREATE OR REPLACE VIEW v_revenue_by_region AS
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
			return fmt.Errorf("mysql: refresh views: %w", err)
		}
	}
	return nil
}

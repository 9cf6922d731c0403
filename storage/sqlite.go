package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"promo-bot/models"
	"promo-bot/utils"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps products in a local SQLite file.
// Insertion order is the implicit rowid, which only grows since rows are never deleted.
type SQLiteStore struct {
	db     *sql.DB
	logger *utils.Logger
	now    func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates the database at path
func NewSQLiteStore(path string, logger *utils.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection serialises writers; the stages never write concurrently anyway.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA busy_timeout=5000;"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, logger: logger.With("store"), now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	s.logger.Debug("Opened SQLite store at %s", path)
	return s, nil
}

// Backend returns the database backend name.
func (s *SQLiteStore) Backend() string { return "SQLite" }

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS products (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		link       TEXT NOT NULL DEFAULT '',
		image_url  TEXT NOT NULL DEFAULT '',
		price      TEXT NOT NULL DEFAULT '',
		discount   INTEGER NOT NULL DEFAULT 0,
		sales      TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	existing := map[string]bool{}
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info('products')`)
	if err != nil {
		return fmt.Errorf("inspect columns: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		existing[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, c := range additiveColumns {
		if existing[c.name] {
			continue
		}
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE products ADD COLUMN %s %s", c.name, c.sqlite)); err != nil {
			return fmt.Errorf("add column %s: %w", c.name, err)
		}
		s.logger.Debug("Added column products.%s", c.name)
	}

	_, err = s.db.ExecContext(ctx, `
	CREATE INDEX IF NOT EXISTS idx_products_delivered ON products (delivered);
	CREATE INDEX IF NOT EXISTS idx_products_category  ON products (category);
	`)
	return err
}

const sqliteInsert = `
	INSERT INTO products (id, name, link, image_url, price, discount, sales, sales_count,
		rating, commission, shop, category, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO NOTHING`

// InsertIfAbsent inserts p unless a row with the same ID exists
func (s *SQLiteStore) InsertIfAbsent(ctx context.Context, p models.Product) (bool, error) {
	res, err := s.db.ExecContext(ctx, sqliteInsert, insertArgs(p, s.now())...)
	if err != nil {
		return false, fmt.Errorf("insert %s: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// InsertBatch inserts products in a single transaction, skipping duplicates
func (s *SQLiteStore) InsertBatch(ctx context.Context, products []models.Product) (inserted []string, err error) {
	if len(products) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, sqliteInsert)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := s.now()
	for _, p := range products {
		res, execErr := stmt.ExecContext(ctx, insertArgs(p, now)...)
		if execErr != nil {
			err = fmt.Errorf("insert %s: %w", p.ID, execErr)
			return nil, err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			inserted = append(inserted, p.ID)
		}
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.logger.Info("Inserted %d/%d products into SQLite", len(inserted), len(products))
	return inserted, nil
}

// SelectPending returns undelivered products
func (s *SQLiteStore) SelectPending(ctx context.Context, q models.SelectQuery) ([]models.Product, error) {
	query := "SELECT " + productColumns + " FROM products WHERE delivered = 0"
	var args []interface{}
	if len(q.Categories) > 0 {
		query += " AND category IN (" + placeholders(len(q.Categories)) + ")"
		for _, c := range q.Categories {
			args = append(args, c)
		}
	}
	if q.OrderBy == models.OrderSalesDesc {
		query += " ORDER BY sales_count DESC, rowid ASC"
	} else {
		query += " ORDER BY rowid ASC"
	}
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select pending: %w", err)
	}
	return scanProducts(rows)
}

// MarkDelivered flips delivered=true for the given IDs
func (s *SQLiteStore) MarkDelivered(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := []interface{}{s.now()}
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE products SET delivered = 1, delivered_at = ? WHERE delivered = 0 AND id IN ("+placeholders(len(ids))+")",
		args...)
	if err != nil {
		return 0, fmt.Errorf("mark delivered: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Counts returns total, delivered and pending row counts
func (s *SQLiteStore) Counts(ctx context.Context) (models.Counts, error) {
	var c models.Counts
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN delivered = 1 THEN 1 ELSE 0 END), 0) FROM products`).Scan(&c.Total, &c.Delivered)
	if err != nil {
		return c, fmt.Errorf("counts: %w", err)
	}
	c.Pending = c.Total - c.Delivered
	return c, nil
}

// CountsByCategory groups counts per category
func (s *SQLiteStore) CountsByCategory(ctx context.Context) (map[string]models.Counts, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, COUNT(*), COALESCE(SUM(CASE WHEN delivered = 1 THEN 1 ELSE 0 END), 0) FROM products GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("counts by category: %w", err)
	}
	return scanCategoryCounts(rows)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

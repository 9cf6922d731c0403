package storage

import (
	"database/sql"
	"strings"

	"promo-bot/models"
	"promo-bot/utils"
)

const productColumns = `id, name, link, image_url, price, discount, sales, sales_count,
	rating, commission, shop, category, delivered, delivered_at, created_at`

// column is a non-key column added by migrations when missing
type column struct {
	name     string
	postgres string
	sqlite   string
}

// Columns beyond the original (id, name, link, image_url, price, discount,
// sales, created_at) layout. Older tables get them via ALTER TABLE ADD COLUMN.
var additiveColumns = []column{
	{"sales_count", "BIGINT NOT NULL DEFAULT 0", "INTEGER NOT NULL DEFAULT 0"},
	{"rating", "TEXT NOT NULL DEFAULT ''", "TEXT NOT NULL DEFAULT ''"},
	{"commission", "TEXT NOT NULL DEFAULT ''", "TEXT NOT NULL DEFAULT ''"},
	{"shop", "TEXT NOT NULL DEFAULT ''", "TEXT NOT NULL DEFAULT ''"},
	{"category", "TEXT NOT NULL DEFAULT 'Other'", "TEXT NOT NULL DEFAULT 'Other'"},
	{"delivered", "BOOLEAN NOT NULL DEFAULT FALSE", "INTEGER NOT NULL DEFAULT 0"},
	{"delivered_at", "TIMESTAMPTZ", "DATETIME"},
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(row scanner) (models.Product, error) {
	var p models.Product
	var deliveredAt, createdAt sql.NullTime
	if err := row.Scan(&p.ID, &p.Name, &p.Link, &p.ImageURL, &p.Price, &p.Discount, &p.Sales, &p.SalesCount,
		&p.Rating, &p.Commission, &p.Shop, &p.Category, &p.Delivered, &deliveredAt, &createdAt); err != nil {
		return p, err
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		p.DeliveredAt = &t
	}
	if createdAt.Valid {
		p.CreatedAt = createdAt.Time
	}
	return p, nil
}

func scanProducts(rows *sql.Rows) ([]models.Product, error) {
	defer rows.Close()
	var out []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func categoryOrDefault(c string) string {
	if strings.TrimSpace(c) == "" {
		return models.DefaultCategory
	}
	return c
}

// Open picks a backend from the DSN: postgres:// URLs use PostgreSQL,
// anything else is an SQLite file path (optionally prefixed with sqlite://).
func Open(dsn string, logger *utils.Logger) (Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return NewPostgresStore(dsn, logger)
	}
	return NewSQLiteStore(strings.TrimPrefix(dsn, "sqlite://"), logger)
}

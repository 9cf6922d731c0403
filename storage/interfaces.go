package storage

import (
	"context"

	"promo-bot/models"
)

// Store is the durable, idempotent set of known products.
// Both PostgreSQL and SQLite implementations satisfy it.
type Store interface {
	// InsertIfAbsent inserts p unless its ID exists; it never overwrites.
	InsertIfAbsent(ctx context.Context, p models.Product) (bool, error)
	// InsertBatch inserts products in one transaction and returns the IDs
	// that were new. On error nothing from the batch is kept.
	InsertBatch(ctx context.Context, products []models.Product) ([]string, error)
	// SelectPending returns undelivered products ordered per q.OrderBy;
	// ties break by insertion order.
	SelectPending(ctx context.Context, q models.SelectQuery) ([]models.Product, error)
	// MarkDelivered flips delivered for the given IDs and returns how many
	// rows actually changed. Unknown IDs are ignored.
	MarkDelivered(ctx context.Context, ids []string) (int, error)
	Counts(ctx context.Context) (models.Counts, error)
	CountsByCategory(ctx context.Context) (map[string]models.Counts, error)

	// Backend returns "PostgreSQL" or "SQLite".
	Backend() string
	Close() error
}

package services

import (
	"context"
	"fmt"
	"strings"

	"promo-bot/models"
)

// PendingSource is the read side of the store the selector needs
type PendingSource interface {
	SelectPending(ctx context.Context, q models.SelectQuery) ([]models.Product, error)
}

// SelectOptions chooses what to render next
type SelectOptions struct {
	Limit      int      // <= 0 means no limit
	Strategy   string   // "default" (insertion order) or "sales"
	Categories []string // empty = all categories
}

// Selector picks undelivered products for rendering. It has no side effects.
type Selector struct {
	store PendingSource
}

// NewSelector creates a Selector over store
func NewSelector(store PendingSource) *Selector {
	return &Selector{store: store}
}

// ParseStrategy maps a strategy name to a store ordering
func ParseStrategy(s string) (models.OrderBy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return models.OrderInsertion, nil
	case "sales":
		return models.OrderSalesDesc, nil
	default:
		return 0, fmt.Errorf("unknown selection strategy %q (want default or sales)", s)
	}
}

// Select returns up to opts.Limit pending products
func (s *Selector) Select(ctx context.Context, opts SelectOptions) ([]models.Product, error) {
	order, err := ParseStrategy(opts.Strategy)
	if err != nil {
		return nil, err
	}
	var cats []string
	for _, c := range opts.Categories {
		if c = strings.TrimSpace(c); c != "" {
			cats = append(cats, c)
		}
	}
	return s.store.SelectPending(ctx, models.SelectQuery{Limit: opts.Limit, OrderBy: order, Categories: cats})
}

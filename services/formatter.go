package services

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"promo-bot/models"
	"promo-bot/utils"
)

// ErrUnparseable marks an offer whose mandatory numeric fields cannot be read
var ErrUnparseable = errors.New("unparseable offer")

// Formatter normalizes raw offers into display-ready products
type Formatter struct {
	categorizer *Categorizer
	logger      *utils.Logger
	now         func() time.Time
}

// NewFormatter creates a new Formatter
func NewFormatter(categorizer *Categorizer, logger *utils.Logger) *Formatter {
	return &Formatter{categorizer: categorizer, logger: logger.With("formatter"), now: time.Now}
}

// Format converts one offer. Missing or unparseable price or rating yields ErrUnparseable.
func (f *Formatter) Format(o models.Offer) (models.Product, error) {
	if strings.TrimSpace(o.ItemID) == "" {
		return models.Product{}, fmt.Errorf("%w: empty item id", ErrUnparseable)
	}
	priceMin, err := parseDecimal(o.PriceMin)
	if err != nil {
		return models.Product{}, fmt.Errorf("%w: priceMin %q", ErrUnparseable, o.PriceMin)
	}
	rating, err := parseDecimal(o.RatingStar)
	if err != nil {
		return models.Product{}, fmt.Errorf("%w: ratingStar %q", ErrUnparseable, o.RatingStar)
	}
	// optional fields fall back to zero
	priceMax, _ := parseDecimal(o.PriceMax)
	commission, _ := parseDecimal(o.CommissionRate)

	name := strings.TrimSpace(o.ProductName)
	if name == "" {
		name = "Produto sem nome"
	}
	link := strings.TrimSpace(o.OfferLink)
	if link == "" {
		link = strings.TrimSpace(o.ProductLink)
	}

	return models.Product{
		ID:         strings.TrimSpace(o.ItemID),
		Name:       name,
		Link:       link,
		ImageURL:   strings.TrimSpace(o.ImageURL),
		Price:      FormatPrice(priceMin, priceMax),
		Discount:   o.PriceDiscountRate,
		Sales:      FormatSales(o.Sales),
		SalesCount: o.Sales,
		Rating:     strconv.FormatFloat(rating, 'f', 1, 64),
		Commission: fmt.Sprintf("%.0f%%", commission*100),
		Shop:       strings.TrimSpace(o.ShopName),
		Category:   f.categorizer.Categorize(name),
		CreatedAt:  f.now().UTC(),
	}, nil
}

// FormatAll formats a batch, skipping (and counting) offers that fail to parse
func (f *Formatter) FormatAll(offers []models.Offer) ([]models.Product, int) {
	products := make([]models.Product, 0, len(offers))
	skipped := 0
	for _, o := range offers {
		p, err := f.Format(o)
		if err != nil {
			f.logger.Warn("Skipping offer %s: %v", o.ItemID, err)
			skipped++
			continue
		}
		products = append(products, p)
	}
	f.logger.Info("Formatted %d offers from %d raw records (%d skipped)", len(products), len(offers), skipped)
	return products, skipped
}

// FormatPrice renders the current price and, when max > min, the original in a "de" clause
func FormatPrice(min, max float64) string {
	s := fmt.Sprintf("R$%.2f", min)
	if max > min {
		s += fmt.Sprintf(" (de R$%.2f)", max)
	}
	return s
}

// FormatSales renders a sales count, e.g. 2500 -> "2mil+ vendas", 999 -> "999+ vendas"
func FormatSales(n int) string {
	if n >= 1000 {
		return fmt.Sprintf("%dmil+ vendas", n/1000)
	}
	return fmt.Sprintf("%d+ vendas", n)
}

func parseDecimal(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("empty")
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, fmt.Errorf("out of range: %s", raw)
	}
	return v, nil
}

package services

import (
	"promo-bot/models"
	"promo-bot/utils"
)

// InsightService computes summary figures over a run's formatted products
type InsightService struct {
	logger *utils.Logger
}

// NewInsightService creates a new InsightService
func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

// Generate computes the insights for products
func (s *InsightService) Generate(products []models.Product) *models.CollectionInsights {
	report := &models.CollectionInsights{
		ByCategory: make(map[string]int),
	}

	if len(products) == 0 {
		s.logger.Warn("No products to generate insights from")
		return report
	}

	shops := make(map[string]int)
	var maxCommission float64
	for _, p := range products {
		report.Total++

		if p.Discount > report.MaxDiscount {
			report.MaxDiscount = p.Discount
		}

		// commission is stored formatted, e.g. "7%"
		if c, err := parseDecimal(trimPercent(p.Commission)); err == nil && c > maxCommission {
			maxCommission = c
			report.MaxCommission = p.Commission
		}

		if p.Shop != "" {
			shops[p.Shop]++
			n := shops[p.Shop]
			// ties keep the shop seen first
			if n > report.TopShopCount {
				report.TopShop = p.Shop
				report.TopShopCount = n
			}
		}

		report.ByCategory[p.Category]++
	}
	return report
}

func trimPercent(s string) string {
	if n := len(s); n > 0 && s[n-1] == '%' {
		return s[:n-1]
	}
	return s
}

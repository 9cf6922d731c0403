package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"promo-bot/models"
	"promo-bot/utils"
)

// CSVWriter keeps a raw snapshot of every collection run, before formatting
type CSVWriter struct {
	dir    string
	logger *utils.Logger
}

// NewCSVWriter creates a CSVWriter that writes into dir
func NewCSVWriter(dir string, logger *utils.Logger) *CSVWriter {
	return &CSVWriter{dir: dir, logger: logger.With("csv")}
}

// WriteOffers writes offers to {dir}/offers_{YYYYmmdd_HHMMSS}_{runID}.csv and returns the path
func (w *CSVWriter) WriteOffers(runID string, at time.Time, offers []models.Offer) (string, error) {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(w.dir, fmt.Sprintf("offers_%s_%s.csv", at.Format("20060102_150405"), runID))

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{
		"item_id", "product_name", "price_min", "price_max", "discount",
		"sales", "rating", "commission", "shop", "offer_link", "image_url",
	}
	if err := writer.Write(header); err != nil {
		return "", fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, o := range offers {
		row := []string{
			o.ItemID,
			o.ProductName,
			o.PriceMin,
			o.PriceMax,
			strconv.Itoa(o.PriceDiscountRate),
			strconv.Itoa(o.Sales),
			o.RatingStar,
			o.CommissionRate,
			o.ShopName,
			o.OfferLink,
			o.ImageURL,
		}
		if err := writer.Write(row); err != nil {
			w.logger.Error("Failed to write CSV row for '%s': %v", o.ItemID, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", fmt.Errorf("failed to flush CSV: %w", err)
	}
	w.logger.Info("Raw offers written to: %s (%d rows)", path, len(offers))
	return path, nil
}

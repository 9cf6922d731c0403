// Package render turns selected products into queued advertisement units.
package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"promo-bot/models"
	"promo-bot/queue"
	"promo-bot/utils"
)

// Renderer writes one text unit (and image when available) per product
type Renderer struct {
	queue       *queue.FileQueue
	http        *http.Client
	maxAttempts int
	backoff     time.Duration
	logger      *utils.Logger
}

// NewRenderer creates a Renderer. maxAttempts bounds tries per product.
func NewRenderer(q *queue.FileQueue, maxAttempts int, backoff, downloadTimeout time.Duration, logger *utils.Logger) *Renderer {
	return &Renderer{
		queue:       q,
		http:        &http.Client{Timeout: downloadTimeout},
		maxAttempts: maxAttempts,
		backoff:     backoff,
		logger:      logger.With("render"),
	}
}

// RenderBatch clears the pending directory, then renders products in order
// with indices starting at 1. Failures are counted, never fatal.
func (r *Renderer) RenderBatch(ctx context.Context, products []models.Product) (*models.RenderReport, error) {
	report := &models.RenderReport{Selected: len(products)}

	r.logger.Info("Clearing %s before rendering %d products", r.queue.PendingDir, len(products))
	if err := r.queue.Clear(); err != nil {
		return report, fmt.Errorf("clear pending: %w", err)
	}

	for i, p := range products {
		index := i + 1
		var unit queue.Unit
		err := utils.Retry(ctx, r.maxAttempts, r.backoff, func(attempt int) error {
			r.logger.Debug("Rendering %d/%d %s (attempt %d)", index, len(products), p.ID, attempt)
			u, err := r.renderOne(ctx, index, p)
			if err != nil {
				return err
			}
			unit = u
			return nil
		}, r.logger)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			r.logger.Error("Giving up on product %s: %v", p.ID, err)
			report.Failed++
			continue
		}
		report.Succeeded++
		if !unit.HasImage() {
			report.ImagesMissing++
		}
	}

	r.logger.Info("Render finished: %d ok, %d failed, %d without image", report.Succeeded, report.Failed, report.ImagesMissing)
	return report, nil
}

func (r *Renderer) renderOne(ctx context.Context, index int, p models.Product) (queue.Unit, error) {
	if p.ID == "" {
		return queue.Unit{}, utils.Permanent(errors.New("product has no id"))
	}
	u, err := r.queue.Enqueue(index, p.ID, Message(p))
	if err != nil {
		return queue.Unit{}, err
	}
	if p.ImageURL == "" {
		return u, nil
	}
	if err := r.Download(ctx, p.ImageURL, r.queue.ImagePath(u)); err != nil {
		// the text unit stands on its own
		r.logger.Warn("Image for %s not downloaded: %v", p.ID, err)
		return u, nil
	}
	return r.queue.AttachImage(u), nil
}

// Download streams url into dest, removing partial files on failure
func (r *Renderer) Download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}

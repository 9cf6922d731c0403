package shopee

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"promo-bot/models"
	"promo-bot/utils"
)

// ErrNothingCollected means the very first request failed, so the run produced nothing
var ErrNothingCollected = errors.New("no offers collected")

// OfferSource returns one page of offers
type OfferSource interface {
	ProductOffers(ctx context.Context, page, limit, sortType int) ([]models.Offer, error)
}

// CollectOptions tunes a collection run
type CollectOptions struct {
	Target      int
	MinDiscount int
	MinSales    int
	PageSize    int
	MaxPages    int
	SortType    int
}

// CollectResult is what a run accumulated. Err holds the request failure that
// ended the run early, if any; the offers gathered before it remain valid.
type CollectResult struct {
	Offers  []models.Offer
	Pages   int
	Fetched int
	Partial bool
	Err     error
}

// Collector paginates the affiliate API and filters offers
type Collector struct {
	source      OfferSource
	logger      *utils.Logger
	rateLimiter *utils.RateLimiter
	maxRetries  int
	retryDelay  time.Duration
}

// NewCollector creates a Collector. pageDelay is enforced between page requests.
func NewCollector(source OfferSource, pageDelay time.Duration, maxRetries int, retryDelay time.Duration, logger *utils.Logger) *Collector {
	return &Collector{
		source:      source,
		logger:      logger.With("collector"),
		rateLimiter: utils.NewRateLimiterDuration(pageDelay),
		maxRetries:  maxRetries,
		retryDelay:  retryDelay,
	}
}

func (o *CollectOptions) defaults() {
	if o.PageSize <= 0 {
		o.PageSize = 50
	}
	if o.MaxPages <= 0 {
		o.MaxPages = 20
	}
}

// Collect gathers up to opts.Target offers with sales >= MinSales and
// discount >= MinDiscount. Pages are requested in increasing order starting
// at 1. It stops on target, on an empty page, past MaxPages, or on the first
// request that keeps failing after retries; partial results are not an error.
// The returned error is non-nil only when nothing could be fetched at all.
func (c *Collector) Collect(ctx context.Context, opts CollectOptions) (*CollectResult, error) {
	opts.defaults()
	res := &CollectResult{}
	if opts.Target <= 0 {
		return res, nil
	}
	seen := utils.NewIDTracker()

	c.logger.Info("Collecting up to %d offers (min discount %d%%, min sales %d)", opts.Target, opts.MinDiscount, opts.MinSales)

	for page := 1; page <= opts.MaxPages && len(res.Offers) < opts.Target; page++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			res.Partial = true
			res.Err = err
			break
		}

		nodes, err := c.fetchPage(ctx, page, opts)
		if err != nil {
			c.logger.Error("Page %d failed, keeping %d offers: %v", page, len(res.Offers), err)
			res.Partial = true
			res.Err = err
			break
		}
		res.Pages++
		res.Fetched += len(nodes)
		if len(nodes) == 0 {
			c.logger.Info("Page %d returned no offers, stopping", page)
			break
		}

		kept := 0
		for _, o := range nodes {
			if o.Sales < opts.MinSales || o.PriceDiscountRate < opts.MinDiscount {
				continue
			}
			if !seen.Add(o.ItemID) {
				continue
			}
			res.Offers = append(res.Offers, o)
			kept++
		}
		c.logger.Info("Page %d: %d/%d offers qualified (have %d/%d)", page, kept, len(nodes), len(res.Offers), opts.Target)
	}

	if len(res.Offers) > opts.Target {
		res.Offers = res.Offers[:opts.Target]
	}
	if len(res.Offers) < opts.Target {
		c.logger.Warn("Only %d qualifying offers found (wanted %d)", len(res.Offers), opts.Target)
	}

	if res.Err != nil && res.Pages == 0 && ctx.Err() == nil {
		return res, fmt.Errorf("%w: %v", ErrNothingCollected, res.Err)
	}
	return res, nil
}

func (c *Collector) fetchPage(ctx context.Context, page int, opts CollectOptions) ([]models.Offer, error) {
	var nodes []models.Offer
	err := utils.Retry(ctx, c.maxRetries, c.retryDelay, func(attempt int) error {
		c.logger.Debug("Requesting page %d (attempt %d)", page, attempt)
		got, err := c.source.ProductOffers(ctx, page, opts.PageSize, opts.SortType)
		if err != nil {
			if IsTransient(err) {
				return err
			}
			return utils.Permanent(err)
		}
		nodes = got
		return nil
	}, c.logger)
	return nodes, err
}

// Search pages offers by relevance and keeps those whose name contains term
// (case-insensitive), returning at most limit matches.
func (c *Collector) Search(ctx context.Context, term string, limit int, opts CollectOptions) ([]models.Offer, error) {
	opts.defaults()
	needle := strings.ToLower(strings.TrimSpace(term))
	if needle == "" || limit <= 0 {
		return nil, nil
	}
	opts.SortType = SortRelevance
	seen := utils.NewIDTracker()

	var matches []models.Offer
	for page := 1; page <= opts.MaxPages && len(matches) < limit; page++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return matches, err
		}
		nodes, err := c.fetchPage(ctx, page, opts)
		if err != nil {
			c.logger.Error("Search page %d failed: %v", page, err)
			break
		}
		if len(nodes) == 0 {
			break
		}
		for _, o := range nodes {
			if strings.Contains(strings.ToLower(o.ProductName), needle) && seen.Add(o.ItemID) {
				matches = append(matches, o)
			}
		}
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

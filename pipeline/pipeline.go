// Package pipeline wires collection, rendering and delivery into the
// operations exposed by the CLI and the control server.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"promo-bot/config"
	"promo-bot/delivery"
	"promo-bot/events"
	"promo-bot/lock"
	"promo-bot/models"
	"promo-bot/queue"
	"promo-bot/render"
	"promo-bot/responder"
	"promo-bot/scraper/shopee"
	"promo-bot/services"
	"promo-bot/storage"
	"promo-bot/utils"

	"github.com/google/uuid"
)

// ErrBusy is returned when another stage is already running in this process
var ErrBusy = errors.New("another stage is running")

// OfferCollector is the collection side of the affiliate client
type OfferCollector interface {
	Collect(ctx context.Context, opts shopee.CollectOptions) (*shopee.CollectResult, error)
}

// Deps are the collaborators of a Pipeline
type Deps struct {
	Collector    OfferCollector
	Store        storage.Store
	Queue        *queue.FileQueue
	Publisher    events.Publisher
	Snapshots    *storage.CSVWriter // optional
	NewTransport func() delivery.MessageTransport
	NewLocker    func() lock.Locker

	// optional, for Respond
	Searcher responder.Searcher
	NewChat  func() responder.Chat
}

// Pipeline runs one stage at a time
type Pipeline struct {
	cfg    *config.Config
	deps   Deps
	logger *utils.Logger

	formatter *services.Formatter
	selector  *services.Selector
	renderer  *render.Renderer
	insights  *services.InsightService

	mu  sync.Mutex
	now func() time.Time
}

// New creates a Pipeline
func New(cfg *config.Config, deps Deps, logger *utils.Logger) *Pipeline {
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	categorizer := services.NewCategorizer(cfg.CategoryTable)
	return &Pipeline{
		cfg:       cfg,
		deps:      deps,
		logger:    logger.With("pipeline"),
		formatter: services.NewFormatter(categorizer, logger),
		selector:  services.NewSelector(deps.Store),
		renderer:  render.NewRenderer(deps.Queue, cfg.RenderAttempts, cfg.RenderBackoff, cfg.HTTPTimeout, logger),
		insights:  services.NewInsightService(logger),
		now:       time.Now,
	}
}

func (p *Pipeline) begin() (func(), error) {
	if !p.mu.TryLock() {
		return nil, ErrBusy
	}
	return p.mu.Unlock, nil
}

func newRunID() string {
	return uuid.NewString()[:8]
}

// Collect fetches up to target offers with at least minDiscount% off and
// stores the new ones. Values <= 0 fall back to configuration.
// Partial runs are reported, not returned as errors.
func (p *Pipeline) Collect(ctx context.Context, target, minDiscount int) (*models.CollectReport, error) {
	done, err := p.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	if target <= 0 {
		target = p.cfg.CollectTarget
	}
	if minDiscount <= 0 {
		minDiscount = p.cfg.MinDiscount
	}
	report := &models.CollectReport{RunID: newRunID(), StartedAt: p.now().UTC()}
	log := p.logger.With(report.RunID)
	log.Info("Collect: target %d, min discount %d%%", target, minDiscount)

	res, err := p.deps.Collector.Collect(ctx, shopee.CollectOptions{
		Target:      target,
		MinDiscount: minDiscount,
		MinSales:    p.cfg.MinSales,
		PageSize:    p.cfg.PageSize,
		MaxPages:    p.cfg.MaxPages,
		SortType:    p.cfg.SortType,
	})
	if res != nil {
		report.Pages = res.Pages
		report.Fetched = res.Fetched
		report.Qualified = len(res.Offers)
		report.Partial = res.Partial
		if res.Err != nil {
			report.Error = res.Err.Error()
		}
	}
	if err != nil {
		return report, err
	}

	if p.deps.Snapshots != nil && len(res.Offers) > 0 {
		if _, err := p.deps.Snapshots.WriteOffers(report.RunID, p.now(), res.Offers); err != nil {
			// Non-fatal: the store is the source of truth
			log.Warn("Snapshot not written: %v", err)
		}
	}

	products, skipped := p.formatter.FormatAll(res.Offers)
	report.Formatted = len(products)
	report.Skipped = skipped

	inserted, err := p.deps.Store.InsertBatch(ctx, products)
	if err != nil {
		return report, fmt.Errorf("store products: %w", err)
	}
	report.Inserted = len(inserted)
	report.Duplicates = len(products) - len(inserted)
	report.Insights = p.insights.Generate(products)

	p.publishCollected(ctx, report.RunID, products, inserted)

	log.Info("Collect done: %d new, %d already known, %d skipped", report.Inserted, report.Duplicates, report.Skipped)
	return report, nil
}

func (p *Pipeline) publishCollected(ctx context.Context, runID string, products []models.Product, inserted []string) {
	isNew := make(map[string]bool, len(inserted))
	for _, id := range inserted {
		isNew[id] = true
	}
	for i := range products {
		if !isNew[products[i].ID] {
			continue
		}
		e := events.Event{Type: events.TypeCollected, ItemID: products[i].ID, RunID: runID, At: p.now().UTC(), Product: &products[i]}
		if err := p.deps.Publisher.Publish(ctx, e); err != nil {
			p.logger.Warn("Publishing %s: %v", products[i].ID, err)
			return
		}
	}
}

// RenderRequest selects what to render
type RenderRequest struct {
	Quantity   int
	Strategy   string
	Categories []string
}

// Render selects pending products and replaces the pending queue with them
func (p *Pipeline) Render(ctx context.Context, req RenderRequest) (*models.RenderReport, error) {
	done, err := p.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	if req.Quantity <= 0 {
		req.Quantity = p.cfg.RenderQuantity
	}
	if req.Strategy == "" {
		req.Strategy = p.cfg.Strategy
	}
	if req.Categories == nil {
		req.Categories = p.cfg.Categories
	}
	runID := newRunID()
	log := p.logger.With(runID)

	products, err := p.selector.Select(ctx, services.SelectOptions{
		Limit:      req.Quantity,
		Strategy:   req.Strategy,
		Categories: req.Categories,
	})
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	log.Info("Render: %d products selected (strategy %s, categories %v)", len(products), req.Strategy, req.Categories)

	report, err := p.renderer.RenderBatch(ctx, products)
	if report != nil {
		report.RunID = runID
	}
	return report, err
}

// Deliver sends up to max pending units; max <= 0 means no cap.
// It holds the delivery lock for the whole run.
func (p *Pipeline) Deliver(ctx context.Context, max int) (*models.DeliveryReport, error) {
	done, err := p.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	locker := p.deps.NewLocker()
	if err := locker.Acquire(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if err := locker.Release(); err != nil {
			p.logger.Warn("Releasing lock: %v", err)
		}
	}()

	if max < 0 {
		max = 0
	}
	runID := newRunID()
	loop := delivery.NewLoop(p.deps.NewTransport(), p.deps.Queue, p.deps.Store, p.deps.Publisher, delivery.Options{
		GroupName:    p.cfg.GroupName,
		ShortLocate:  p.cfg.ShortLocate,
		LongLocate:   p.cfg.LongLocate,
		SendInterval: p.cfg.SendInterval,
		MaxSends:     max,
		Order:        p.cfg.DeliveryOrder,
		RequireImage: p.cfg.RequireImage,
		RunID:        runID,
	}, p.logger.With(runID))
	return loop.Run(ctx)
}

// Respond answers direct chats with offers until ctx is cancelled. It drives
// the same browser profile as Deliver, so it holds the delivery lock; it does
// not touch the store or the queue and runs outside the stage mutex.
func (p *Pipeline) Respond(ctx context.Context) error {
	if p.deps.Searcher == nil || p.deps.NewChat == nil {
		return errors.New("chat responder not configured")
	}
	locker := p.deps.NewLocker()
	if err := locker.Acquire(ctx); err != nil {
		return err
	}
	defer func() {
		if err := locker.Release(); err != nil {
			p.logger.Warn("Releasing lock: %v", err)
		}
	}()

	r := responder.New(p.deps.NewChat(), p.deps.Searcher, p.renderer, p.formatter, responder.Options{
		PollInterval: p.cfg.RespondInterval,
		ErrorBackoff: 10 * time.Second,
		ReplyDelay:   p.cfg.RespondReplyDelay,
		MaxPerPoll:   10,
		TempDir:      filepath.Join(p.cfg.DataDir, "temp"),
		Search: shopee.CollectOptions{
			PageSize: p.cfg.PageSize,
			MaxPages: p.cfg.RespondMaxPages,
		},
	}, p.logger)
	return r.Run(ctx)
}

// Pending lists undelivered products without side effects
func (p *Pipeline) Pending(ctx context.Context, opts services.SelectOptions) ([]models.Product, error) {
	return p.selector.Select(ctx, opts)
}

// MarkDelivered reconciles the store with the sent directory: only IDs whose
// message was archived by a delivery run are marked, the rest are ignored.
func (p *Pipeline) MarkDelivered(ctx context.Context, ids []string) (int, error) {
	archived, err := p.deps.Queue.ArchivedIDs()
	if err != nil {
		return 0, err
	}
	var sent []string
	for _, id := range ids {
		if archived[id] {
			sent = append(sent, id)
		} else {
			p.logger.Warn("Not marking %s: no archived delivery", id)
		}
	}
	if len(sent) == 0 {
		return 0, nil
	}
	return p.deps.Store.MarkDelivered(ctx, sent)
}

// Status summarises the store and the pending queue
func (p *Pipeline) Status(ctx context.Context) (*models.StatusReport, error) {
	counts, err := p.deps.Store.Counts(ctx)
	if err != nil {
		return nil, err
	}
	byCat, err := p.deps.Store.CountsByCategory(ctx)
	if err != nil {
		return nil, err
	}
	units, err := p.deps.Queue.ListPending()
	if err != nil {
		return nil, err
	}
	return &models.StatusReport{
		Backend:    p.deps.Store.Backend(),
		Counts:     counts,
		ByCategory: byCat,
		Queued:     len(units),
	}, nil
}

// flagPath is the marker written once the daily collect+render has run
func (p *Pipeline) flagPath(day time.Time) string {
	return filepath.Join(p.cfg.DataDir, "prepared_"+day.Format("2006-01-02")+".flag")
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"promo-bot/config"
	"promo-bot/delivery"
	"promo-bot/events"
	"promo-bot/lock"
	"promo-bot/pipeline"
	"promo-bot/queue"
	"promo-bot/responder"
	"promo-bot/scraper/shopee"
	"promo-bot/server"
	"promo-bot/services"
	"promo-bot/storage"
	"promo-bot/transport/whatsapp"
	"promo-bot/utils"

	"github.com/go-redis/redis/v8"
)

const usage = `usage: promo-bot <command> [flags]

commands:
  collect     fetch discounted offers and store the new ones
  render      build the pending message queue from stored offers
  deliver     send pending messages to the group
  run         prepare today's batch, then deliver continuously
  serve       start the HTTP control server
  respond     answer direct chats with matching offers
  status      show store and queue counts
  pending     list undelivered products as JSON
  search      search offers by name without storing them
  categories  list the marketplace category tree`

// Exit codes
const (
	exitOK           = 0
	exitError        = 1
	exitLocked       = 2
	exitConversation = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		fmt.Fprintln(os.Stderr, usage)
		if len(args) == 0 {
			return exitError
		}
		return exitOK
	}

	// ================== Bootstrap ====================
	logger := utils.NewLogger()
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Configuration: %v", err)
		return exitError
	}
	logger.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "search":
		return exitCode(logger, runSearch(ctx, cfg, rest, logger))
	case "categories":
		return exitCode(logger, runCategories(ctx, cfg, logger))
	}

	app, err := newApp(cfg, logger)
	if err != nil {
		logger.Error("Startup failed: %v", err)
		return exitError
	}
	defer app.close()

	switch cmd {
	case "collect":
		err = app.collect(ctx, rest)
	case "render":
		err = app.render(ctx, rest)
	case "deliver":
		err = app.deliver(ctx, rest)
	case "run":
		err = app.cycle(ctx)
	case "serve":
		err = app.serve(ctx)
	case "respond":
		err = app.respond(ctx)
	case "status":
		err = app.status(ctx)
	case "pending":
		err = app.pending(ctx, rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", cmd, usage)
		return exitError
	}
	return exitCode(logger, err)
}

func exitCode(logger *utils.Logger, err error) int {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return exitOK
	case errors.Is(err, flag.ErrHelp):
		return exitOK
	case errors.Is(err, lock.ErrLocked):
		logger.Error("%v", err)
		return exitLocked
	case errors.Is(err, delivery.ErrConversationNotFound):
		logger.Error("%v", err)
		return exitConversation
	default:
		logger.Error("%v", err)
		return exitError
	}
}

// app owns the long-lived resources shared by the commands
type app struct {
	cfg       *config.Config
	logger    *utils.Logger
	store     storage.Store
	publisher events.Publisher
	redis     *redis.Client
	pipeline  *pipeline.Pipeline
}

func newApp(cfg *config.Config, logger *utils.Logger) (*app, error) {
	// =================== Storage ========================================
	store, err := storage.Open(cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	q, err := queue.New(cfg.PendingDir, cfg.SentDir)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open queue: %w", err)
	}

	// =================== Events =========================================
	publisher, err := events.New(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	if err != nil {
		// Non-fatal: events are best effort
		logger.Warn("Event publishing disabled: %v", err)
		publisher = events.NopPublisher{}
	}

	a := &app{cfg: cfg, logger: logger, store: store, publisher: publisher}

	client := shopee.NewClient(cfg.AppID, cfg.AppSecret, cfg.APIURL, cfg.HTTPTimeout)
	collector := shopee.NewCollector(client, cfg.PageDelay, cfg.MaxRetries, cfg.RetryDelay, logger)
	a.pipeline = pipeline.New(cfg, pipeline.Deps{
		Collector:    collector,
		Store:        store,
		Queue:        q,
		Publisher:    publisher,
		Snapshots:    storage.NewCSVWriter(cfg.DataDir+"/snapshots", logger),
		NewTransport: a.newTransport,
		NewLocker:    a.newLocker,
		Searcher:     collector,
		NewChat:      func() responder.Chat { return a.newBrowser() },
	}, logger)

	logger.Info("Store: %s | Queue: %s", store.Backend(), cfg.PendingDir)
	return a, nil
}

func (a *app) newTransport() delivery.MessageTransport {
	return a.newBrowser()
}

func (a *app) newBrowser() *whatsapp.Transport {
	return whatsapp.New(whatsapp.Config{
		URL:            a.cfg.WhatsAppURL,
		ProfileDir:     a.cfg.ChromeProfileDir,
		Headless:       a.cfg.Headless,
		ConfirmTimeout: a.cfg.ConfirmTimeout,
	}, a.logger)
}

func (a *app) newLocker() lock.Locker {
	if strings.EqualFold(a.cfg.LockBackend, "redis") {
		if a.redis == nil {
			a.redis = redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
		}
		return lock.NewRedisLock(a.redis, "promo-bot:delivery", a.cfg.LockTTL)
	}
	return lock.NewFileLock(a.cfg.LockFile)
}

func (a *app) close() {
	if err := a.publisher.Close(); err != nil {
		a.logger.Warn("Closing publisher: %v", err)
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Closing store: %v", err)
	}
}

// =============== Commands ===================================

func (a *app) collect(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("collect", flag.ContinueOnError)
	quantity := fs.Int("quantity", 0, "offers to collect (default COLLECT_TARGET)")
	minDiscount := fs.Int("min-discount", 0, "minimum discount percentage (default MIN_DISCOUNT)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.cfg.ValidateAPI(); err != nil {
		return err
	}
	report, err := a.pipeline.Collect(ctx, *quantity, *minDiscount)
	if report != nil {
		services.PrintCollectReport(os.Stdout, report)
	}
	return err
}

func (a *app) render(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	quantity := fs.Int("quantity", 0, "messages to render (default RENDER_QUANTITY)")
	strategy := fs.String("strategy", "", `"default" or "sales"`)
	categories := fs.String("categories", "", "comma-separated category allow-list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := services.ParseStrategy(*strategy); err != nil {
		return err
	}
	report, err := a.pipeline.Render(ctx, pipeline.RenderRequest{
		Quantity:   *quantity,
		Strategy:   *strategy,
		Categories: splitList(*categories),
	})
	if report != nil {
		services.PrintRenderReport(os.Stdout, report)
	}
	return err
}

func (a *app) deliver(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("deliver", flag.ContinueOnError)
	max := fs.Int("max", 0, "maximum messages to send, 0 for all")
	if err := fs.Parse(args); err != nil {
		return err
	}
	report, err := a.pipeline.Deliver(ctx, *max)
	if report != nil {
		services.PrintDeliveryReport(os.Stdout, report)
	}
	return err
}

func (a *app) cycle(ctx context.Context) error {
	if err := a.cfg.ValidateAPI(); err != nil {
		return err
	}
	return pipeline.NewCycle(a.pipeline, a.cfg.CycleInterval, a.cfg.CycleBatch, a.logger).Run(ctx)
}

func (a *app) serve(ctx context.Context) error {
	if err := a.cfg.ValidateAPI(); err != nil {
		a.logger.Warn("Collect will fail until configured: %v", err)
	}
	return server.New(a.pipeline, a.logger).Start(ctx, a.cfg.HTTPAddr)
}

func (a *app) respond(ctx context.Context) error {
	if err := a.cfg.ValidateAPI(); err != nil {
		return err
	}
	return a.pipeline.Respond(ctx)
}

func (a *app) status(ctx context.Context) error {
	report, err := a.pipeline.Status(ctx)
	if err != nil {
		return err
	}
	services.PrintStatusReport(os.Stdout, report)
	return nil
}

func (a *app) pending(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("pending", flag.ContinueOnError)
	quantity := fs.Int("quantity", 0, "maximum products, 0 for all")
	strategy := fs.String("strategy", "", `"default" or "sales"`)
	categories := fs.String("categories", "", "comma-separated category allow-list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	products, err := a.pipeline.Pending(ctx, services.SelectOptions{
		Limit:      *quantity,
		Strategy:   *strategy,
		Categories: splitList(*categories),
	})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(products)
}

func runSearch(ctx context.Context, cfg *config.Config, args []string, logger *utils.Logger) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	limit := fs.Int("limit", 10, "maximum matches")
	if err := fs.Parse(args); err != nil {
		return err
	}
	term := strings.Join(fs.Args(), " ")
	if term == "" {
		return fmt.Errorf("search needs a term")
	}
	if err := cfg.ValidateAPI(); err != nil {
		return err
	}
	client := shopee.NewClient(cfg.AppID, cfg.AppSecret, cfg.APIURL, cfg.HTTPTimeout)
	collector := shopee.NewCollector(client, cfg.PageDelay, cfg.MaxRetries, cfg.RetryDelay, logger)
	offers, err := collector.Search(ctx, term, *limit, shopee.CollectOptions{PageSize: cfg.PageSize, MaxPages: cfg.MaxPages})
	if err != nil {
		return err
	}
	for _, o := range offers {
		fmt.Printf("%-14s %3d%%  %-10s %s\n", o.ItemID, o.PriceDiscountRate, o.PriceMin, o.ProductName)
	}
	logger.Info("%d match(es) for %q", len(offers), term)
	return nil
}

func runCategories(ctx context.Context, cfg *config.Config, logger *utils.Logger) error {
	if err := cfg.ValidateAPI(); err != nil {
		return err
	}
	client := shopee.NewClient(cfg.AppID, cfg.AppSecret, cfg.APIURL, cfg.HTTPTimeout)
	cats, err := client.Categories(ctx, "pt-br")
	if err != nil {
		return err
	}
	for _, c := range cats {
		fmt.Printf("%8d  %8d  %s\n", c.ID, c.ParentID, c.DisplayName)
	}
	logger.Info("%d categories", len(cats))
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

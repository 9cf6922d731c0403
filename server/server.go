// Package server exposes the pipeline stages over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"promo-bot/delivery"
	"promo-bot/lock"
	"promo-bot/models"
	"promo-bot/pipeline"
	"promo-bot/scraper/shopee"
	"promo-bot/services"
	"promo-bot/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Operations is what the server drives; *pipeline.Pipeline implements it
type Operations interface {
	Collect(ctx context.Context, target, minDiscount int) (*models.CollectReport, error)
	Render(ctx context.Context, req pipeline.RenderRequest) (*models.RenderReport, error)
	Deliver(ctx context.Context, max int) (*models.DeliveryReport, error)
	Pending(ctx context.Context, opts services.SelectOptions) ([]models.Product, error)
	MarkDelivered(ctx context.Context, ids []string) (int, error)
	Status(ctx context.Context) (*models.StatusReport, error)
}

var _ Operations = (*pipeline.Pipeline)(nil)

// Server is the control HTTP server
type Server struct {
	ops    Operations
	router chi.Router
	logger *utils.Logger
}

// New creates a server over ops
func New(ops Operations, logger *utils.Logger) *Server {
	s := &Server{ops: ops, logger: logger.With("http")}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/collect", s.handleCollect)
		r.Post("/render", s.handleRender)
		r.Post("/deliver", s.handleDeliver)
		r.Get("/products/pending", s.handlePending)
		r.Post("/deliveries", s.handleDeliveries)
		r.Get("/status", s.handleStatus)
	})

	s.router = r
}

// ServeHTTP lets the server be mounted or tested directly
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server starting on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("Shutting down")
	return srv.Shutdown(shutdownCtx)
}

// --- API Handlers ---

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	quantity, err := intParam(r, "quantity")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	minDiscount, err := intParam(r, "min_discount")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	report, err := s.ops.Collect(r.Context(), quantity, minDiscount)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	opts, err := selectOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	report, err := s.ops.Render(r.Context(), pipeline.RenderRequest{
		Quantity:   opts.Limit,
		Strategy:   opts.Strategy,
		Categories: opts.Categories,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleDeliver(w http.ResponseWriter, r *http.Request) {
	max, err := intParam(r, "max")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	report, err := s.ops.Deliver(r.Context(), max)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	opts, err := selectOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	products, err := s.ops.Pending(r.Context(), opts)
	if err != nil {
		s.fail(w, err)
		return
	}
	if products == nil {
		products = []models.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

type deliveryRecord struct {
	ItemID string `json:"itemId"`
	SentAt string `json:"sent_at,omitempty"`
}

func (s *Server) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	var records []deliveryRecord
	if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.ItemID != "" {
			ids = append(ids, rec.ItemID)
		}
	}
	n, err := s.ops.MarkDelivered(r.Context(), ids)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.ops.Status(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// fail maps pipeline errors to status codes
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, lock.ErrLocked):
		status = http.StatusLocked
	case errors.Is(err, shopee.ErrNothingCollected), errors.Is(err, delivery.ErrConversationNotFound):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed: %v", err)
	}
	writeError(w, status, err)
}

func selectOptions(r *http.Request) (services.SelectOptions, error) {
	quantity, err := intParam(r, "quantity")
	if err != nil {
		return services.SelectOptions{}, err
	}
	strategy := r.URL.Query().Get("order_by")
	if _, err := services.ParseStrategy(strategy); err != nil {
		return services.SelectOptions{}, err
	}
	return services.SelectOptions{
		Limit:      quantity,
		Strategy:   strategy,
		Categories: r.URL.Query()["category"],
	}, nil
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/iho/ynabimport/internal/adapter/http/handler"
	"github.com/iho/ynabimport/internal/adapter/http/middleware"
	"github.com/iho/ynabimport/internal/infrastructure/metrics"
	"github.com/iho/ynabimport/internal/usecase"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	ImportHandler   *handler.ImportHandler
	CategoryHandler *handler.CategoryHandler
	HealthHandler   *handler.HealthHandler

	// APISecret guards everything under /api/v1.
	APISecret        string
	IdempotencyStore usecase.IdempotencyStore
	IdempotencyTTL   time.Duration
	RateLimiter      *middleware.RateLimiter
	Metrics          *metrics.Metrics
	// MetricsHandler serves /metrics; nil disables the endpoint.
	MetricsHandler http.Handler
	Logger         zerolog.Logger
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Metrics(cfg.Metrics))
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Limit)
	}

	// Health endpoints
	r.Get("/health", cfg.HealthHandler.Liveness)
	r.Get("/ready", cfg.HealthHandler.Readiness)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireSecret(cfg.APISecret))

		// Idempotency middleware for mutating requests
		if cfg.IdempotencyStore != nil {
			idempotencyMiddleware := middleware.NewIdempotencyMiddleware(cfg.IdempotencyStore, cfg.IdempotencyTTL, cfg.Logger)
			r.Use(idempotencyMiddleware.Wrap)
		}

		// Imports
		r.Route("/import", func(r chi.Router) {
			r.Post("/comdirect/start", cfg.ImportHandler.StartComdirect)
			r.Post("/comdirect/confirm", cfg.ImportHandler.ConfirmComdirect)
			r.Post("/{source}", cfg.ImportHandler.ImportFile)
		})

		r.Get("/categories", cfg.CategoryHandler.List)
	})

	return r
}

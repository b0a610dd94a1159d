package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	httpAdapter "github.com/iho/ynabimport/internal/adapter/http"
	"github.com/iho/ynabimport/internal/adapter/http/handler"
	"github.com/iho/ynabimport/internal/adapter/http/middleware"
	redisRepo "github.com/iho/ynabimport/internal/adapter/repository/redis"
	"github.com/iho/ynabimport/internal/app"
	"github.com/iho/ynabimport/internal/domain"
	"github.com/iho/ynabimport/internal/infrastructure/config"
	loggerpkg "github.com/iho/ynabimport/internal/infrastructure/logger"
	"github.com/iho/ynabimport/internal/infrastructure/metrics"
)

const (
	rateLimitPerSecond = 5
	rateLimitBurst     = 20
	limiterCleanup     = 10 * time.Minute
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Logger = loggerpkg.New(loggerpkg.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	m := metrics.NewWithRegisterer(registry)

	a := app.New(cfg, log.Logger, m)
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close connections")
		}
	}()

	server, limiter, err := newServer(ctx, cfg, a, m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), log.Logger)
	if err != nil {
		return err
	}
	go limiter.Run(ctx, limiterCleanup)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("server stopped")
	return nil
}

// newServer wires the HTTP front door. Redis is always connected: it backs
// request idempotency and the category cache.
func newServer(
	ctx context.Context,
	cfg *config.Config,
	a *app.App,
	m *metrics.Metrics,
	metricsHandler http.Handler,
	logger zerolog.Logger,
) (*http.Server, *middleware.RateLimiter, error) {
	if cfg.APISecret == "" {
		return nil, nil, &domain.ConfigError{Key: "API_SECRET"}
	}

	redisClient, err := a.Redis(ctx)
	if err != nil {
		return nil, nil, err
	}

	// Fail fast on storage settings instead of on the first request.
	if _, err := a.LedgerStore(ctx); err != nil {
		return nil, nil, err
	}
	if _, err := a.SessionStore(ctx); err != nil {
		return nil, nil, err
	}

	auth, err := a.AuthUseCase(ctx)
	if err != nil {
		return nil, nil, err
	}
	importer, err := a.ImportUseCase(ctx, false)
	if err != nil {
		return nil, nil, err
	}
	categories, err := a.BudgetUseCase()
	if err != nil {
		return nil, nil, err
	}

	checks := map[string]handler.Check{
		"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	}
	if pool := a.Postgres(); pool != nil {
		checks["postgres"] = pool.Ping
	}

	limiter := middleware.NewRateLimiter(rateLimitPerSecond, rateLimitBurst, m)

	router := httpAdapter.NewRouter(httpAdapter.RouterConfig{
		ImportHandler:    handler.NewImportHandler(auth, importer, a, cfg.MaxUploadBytes, logger),
		CategoryHandler:  handler.NewCategoryHandler(categories, cfg.BudgetID),
		HealthHandler:    handler.NewHealthHandler(checks),
		APISecret:        cfg.APISecret,
		IdempotencyStore: redisRepo.NewIdempotencyStore(redisClient),
		IdempotencyTTL:   cfg.IdempotencyTTL,
		RateLimiter:      limiter,
		Metrics:          m,
		MetricsHandler:   metricsHandler,
		Logger:           logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return server, limiter, nil
}

// Package app assembles the importer from configuration. Both binaries build
// their commands and handlers on top of an App.
package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iho/ynabimport/internal/adapter/categorizer"
	"github.com/iho/ynabimport/internal/adapter/comdirect"
	fileRepo "github.com/iho/ynabimport/internal/adapter/repository/file"
	postgresRepo "github.com/iho/ynabimport/internal/adapter/repository/postgres"
	redisRepo "github.com/iho/ynabimport/internal/adapter/repository/redis"
	sqliteRepo "github.com/iho/ynabimport/internal/adapter/repository/sqlite"
	"github.com/iho/ynabimport/internal/adapter/source"
	"github.com/iho/ynabimport/internal/adapter/ynab"
	"github.com/iho/ynabimport/internal/domain"
	"github.com/iho/ynabimport/internal/infrastructure/config"
	"github.com/iho/ynabimport/internal/infrastructure/crypto"
	"github.com/iho/ynabimport/internal/infrastructure/idgen"
	"github.com/iho/ynabimport/internal/infrastructure/metrics"
	"github.com/iho/ynabimport/internal/infrastructure/postgres"
	"github.com/iho/ynabimport/internal/infrastructure/redis"
	"github.com/iho/ynabimport/internal/infrastructure/retry"
	"github.com/iho/ynabimport/internal/normalize"
	"github.com/iho/ynabimport/internal/usecase"
)

// File source kinds accepted by FileSource.
const (
	KindCSV    = domain.SourceCSV
	KindPDF    = domain.SourcePDF
	KindPayPal = domain.SourcePayPal
)

// App holds the configured collaborators. Remote clients are created on first
// use so that commands only need the settings they actually touch.
type App struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	redis    *goredis.Client
	pool     *pgxpool.Pool
	ledger   usecase.LedgerStore
	sessions usecase.SessionStore
	budget   *ynab.Client
	bank     *comdirect.Client
	closers  []func() error
}

// New creates an App. m may be nil.
func New(cfg *config.Config, logger zerolog.Logger, m *metrics.Metrics) *App {
	return &App{cfg: cfg, logger: logger, metrics: m}
}

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Close releases every opened connection.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Redis connects to Redis once.
func (a *App) Redis(ctx context.Context) (*goredis.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.redisLocked(ctx)
}

func (a *App) redisLocked(ctx context.Context) (*goredis.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	client, err := redis.NewClientWithConfig(ctx, redis.Config{URL: a.cfg.RedisURL, OperationTimeout: a.cfg.RemoteTimeout})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.logger.Info().Msg("connected to redis")
	a.redis = client
	a.closers = append(a.closers, client.Close)
	return client, nil
}

func (a *App) postgresLocked(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	if err := postgres.RunMigrations(a.cfg.DatabaseURL, a.logger); err != nil {
		return nil, err
	}
	pool, err := postgres.NewPoolWithConfig(ctx, postgres.PoolConfig{
		DatabaseURL:    a.cfg.DatabaseURL,
		MaxConns:       a.cfg.DatabaseMaxConns,
		MinConns:       a.cfg.DatabaseMinConns,
		ConnectTimeout: a.cfg.DatabaseTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a.logger.Info().Msg("connected to postgres")
	a.pool = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })
	return pool, nil
}

// Postgres returns the pool when the ledger lives in PostgreSQL, nil otherwise.
func (a *App) Postgres() *pgxpool.Pool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pool
}

// LedgerStore opens the configured ledger backend once.
func (a *App) LedgerStore(ctx context.Context) (usecase.LedgerStore, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ledger != nil {
		return a.ledger, nil
	}
	if err := a.cfg.ValidateStorage(); err != nil {
		return nil, err
	}

	var store usecase.LedgerStore
	switch a.cfg.LedgerBackend {
	case config.BackendFile:
		s, err := fileRepo.NewLedgerStore(a.cfg.LedgerPath)
		if err != nil {
			return nil, err
		}
		store = s
	case config.BackendSQLite:
		s, err := sqliteRepo.NewLedgerStore(ctx, a.cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		store = s
	case config.BackendRedis:
		client, err := a.redisLocked(ctx)
		if err != nil {
			return nil, err
		}
		store = redisRepo.NewLedgerStore(client, a.ledgerName())
	case config.BackendPostgres:
		pool, err := a.postgresLocked(ctx)
		if err != nil {
			return nil, err
		}
		store = postgresRepo.NewLedgerStore(pool, a.ledgerName(), a.logger)
	}

	a.logger.Debug().Str("backend", a.cfg.LedgerBackend).Msg("ledger store opened")
	a.ledger = store
	return store, nil
}

// ledgerName scopes shared backends by budget so that two budgets never
// share import ids.
func (a *App) ledgerName() string {
	if a.cfg.BudgetID != "" {
		return a.cfg.BudgetID
	}
	return "default"
}

// SessionStore opens the configured session backend once.
func (a *App) SessionStore(ctx context.Context) (usecase.SessionStore, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sessions != nil {
		return a.sessions, nil
	}
	if err := a.cfg.ValidateStorage(); err != nil {
		return nil, err
	}

	sealer, err := crypto.NewSealer(a.cfg.SessionPassphrase)
	if err != nil {
		return nil, err
	}

	switch a.cfg.SessionBackend {
	case config.BackendRedis:
		client, err := a.redisLocked(ctx)
		if err != nil {
			return nil, err
		}
		a.sessions = redisRepo.NewSessionStore(client, sealer, a.cfg.ChallengeTTL)
	default:
		store, err := fileRepo.NewSessionStore(filepath.Clean(a.cfg.SessionPath), sealer)
		if err != nil {
			return nil, err
		}
		a.sessions = store
	}
	return a.sessions, nil
}

func (a *App) retrier() *retry.Retrier {
	return retry.New(a.logger)
}

// Budget creates the budgeting API client once.
func (a *App) Budget() (*ynab.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.budget != nil {
		return a.budget, nil
	}
	if err := a.cfg.ValidateBudget(); err != nil {
		return nil, err
	}
	client, err := ynab.NewClient(ynab.Config{
		BaseURL: a.cfg.YNABBaseURL,
		Token:   a.cfg.YNABToken,
		Timeout: a.cfg.RemoteTimeout,
	}, a.logger, ynab.WithRetrier(a.retrier()), ynab.WithMetrics(a.metrics))
	if err != nil {
		return nil, err
	}
	a.budget = client
	return client, nil
}

// Bank creates the bank API client once.
func (a *App) Bank() (*comdirect.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.bank != nil {
		return a.bank, nil
	}
	if err := a.cfg.ValidateComdirect(); err != nil {
		return nil, err
	}
	a.bank = comdirect.NewClient(comdirect.Config{
		BaseURL:      a.cfg.ComdirectBaseURL,
		ClientID:     a.cfg.ComdirectClientID,
		ClientSecret: a.cfg.ComdirectClientSecret,
		Username:     a.cfg.ComdirectUsername,
		Password:     a.cfg.ComdirectPassword,
		Timeout:      a.cfg.RemoteTimeout,
	}, a.logger, comdirect.WithRetrier(a.retrier()), comdirect.WithMetrics(a.metrics))
	return a.bank, nil
}

// BudgetUseCase lists categories, through the Redis cache when one is connected.
func (a *App) BudgetUseCase() (*usecase.BudgetUseCase, error) {
	budget, err := a.Budget()
	if err != nil {
		return nil, err
	}
	uc := usecase.NewBudgetUseCase(budget)

	a.mu.Lock()
	client := a.redis
	a.mu.Unlock()
	if client != nil {
		uc = uc.WithCategoryCache(redisRepo.NewCategoryCache(client), a.cfg.CategoryCacheTTL, a.logger)
	}
	return uc, nil
}

// AuthUseCase creates the bank login flow.
func (a *App) AuthUseCase(ctx context.Context) (*usecase.AuthUseCase, error) {
	bank, err := a.Bank()
	if err != nil {
		return nil, err
	}
	sessions, err := a.SessionStore(ctx)
	if err != nil {
		return nil, err
	}
	return usecase.NewAuthUseCase(bank, sessions, idgen.NewULIDGenerator(), usecase.SystemClock{}, a.metrics, a.logger, a.cfg.ChallengeTTL), nil
}

// ImportUseCase creates the orchestrator. In dry-run mode neither the ledger
// nor the budgeting API is required.
func (a *App) ImportUseCase(ctx context.Context, dryRun bool) (*usecase.ImportUseCase, error) {
	var (
		budget usecase.BudgetAPI
		store  usecase.LedgerStore
		lister normalize.CategoryLister
	)

	if !dryRun {
		client, err := a.Budget()
		if err != nil {
			return nil, err
		}
		budget = client
		if store, err = a.LedgerStore(ctx); err != nil {
			return nil, err
		}
		if lister, err = a.BudgetUseCase(); err != nil {
			return nil, err
		}
	}

	var enricher *normalize.Enricher
	if a.cfg.CategorizerEnabled() {
		enricher = normalize.NewEnricher(normalize.EnricherConfig{
			Categorizer: categorizer.NewClient(categorizer.Config{
				BaseURL: a.cfg.CategorizerURL,
				Secret:  a.cfg.CategorizerSecret,
				Timeout: a.cfg.CategorizerTimeout,
			}, a.metrics, a.logger),
			Lister:   lister,
			BudgetID: a.cfg.BudgetID,
			Logger:   a.logger,
			Observe:  a.metrics.ObserveEnrichment,
		})
	}

	return usecase.NewImportUseCase(budget, store, normalize.NewDefaultPipeline(enricher), a.metrics, a.logger), nil
}

// FileSource creates the source for an uploaded or local file of kind.
func (a *App) FileSource(kind string, data []byte) (usecase.Source, error) {
	switch kind {
	case KindCSV:
		p := a.cfg.Profile.CSV
		cfg := source.CSVConfig{
			Columns:    p.Columns,
			DateLayout: p.DateLayout,
			SkipLines:  p.SkipLines,
		}
		if p.Separator != "" {
			cfg.Separator = []rune(p.Separator)[0]
		}
		return source.NewCSVSource(bytes.NewReader(data), cfg), nil
	case KindPDF:
		return source.NewPDFSourceFromBytes(data), nil
	case KindPayPal:
		return source.NewPayPalSource(bytes.NewReader(data), a.cfg.Profile.PayPal.TransferPayee), nil
	default:
		return nil, &domain.ConfigError{Key: "source", Reason: fmt.Sprintf("%q is not a file source", kind)}
	}
}

// ReadFileSource reads r fully and creates the source of kind.
func (a *App) ReadFileSource(kind string, r io.Reader) (usecase.Source, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s input: %w", kind, err)
	}
	return a.FileSource(kind, data)
}

// BankSource creates the source for the account of an authenticated session.
func (a *App) BankSource(session *domain.Session) (usecase.Source, error) {
	bank, err := a.Bank()
	if err != nil {
		return nil, err
	}
	selector := comdirect.AccountSelector{IBAN: a.cfg.ComdirectIBAN, AccountType: a.cfg.ComdirectAccountType}
	return comdirect.NewSource(bank, session, selector, a.cfg.ComdirectPagingCount), nil
}

// CheckImport validates the settings a batch from source needs. It makes no
// network call, so callers run it before contacting the bank or creating a
// sink. Dry runs need neither the budget nor an account mapping.
func (a *App) CheckImport(source string, dryRun bool) error {
	if _, err := a.cfg.FromDate(); err != nil {
		return err
	}
	if dryRun {
		return nil
	}
	if err := a.cfg.ValidateBudget(); err != nil {
		return err
	}
	if err := a.cfg.ValidateStorage(); err != nil {
		return err
	}
	_, err := a.cfg.AccountFor(source)
	return err
}

// ImportInput fills the batch settings for src from configuration.
func (a *App) ImportInput(src usecase.Source, sink usecase.Sink) (usecase.ImportInput, error) {
	from, err := a.cfg.FromDate()
	if err != nil {
		return usecase.ImportInput{}, err
	}
	input := usecase.ImportInput{
		FromDate: from,
		Source:   src,
		Sink:     sink,
		BudgetID: a.cfg.BudgetID,
	}

	account, err := a.cfg.AccountFor(src.Name())
	if err != nil && sink == nil {
		return usecase.ImportInput{}, err
	}
	input.AccountID = account
	return input, nil
}

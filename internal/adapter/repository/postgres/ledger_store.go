// Package postgres stores the import ledger in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/iho/ynabimport/internal/infrastructure/retry"
)

// SQLSTATE codes worth another attempt.
const (
	pgErrDeadlock             = "40P01"
	pgErrSerializationFailure = "40001"
	pgErrClassConnection      = "08"
	appendRetries             = 3
)

type pgxPool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// LedgerStore implements usecase.LedgerStore on the imported_transactions table.
type LedgerStore struct {
	pool    pgxPool
	ledger  string
	lockKey int64
	retrier *retry.Retrier
}

// NewLedgerStore creates a LedgerStore. ledger separates ledgers sharing one
// table, typically the budget id.
func NewLedgerStore(pool *pgxpool.Pool, ledger string, logger zerolog.Logger) *LedgerStore {
	return newLedgerStoreWithPool(pool, ledger, retry.New(logger).WithPolicy(appendRetries, isRetryableError))
}

func newLedgerStoreWithPool(pool pgxPool, ledger string, retrier *retry.Retrier) *LedgerStore {
	return &LedgerStore{
		pool:    pool,
		ledger:  ledger,
		lockKey: advisoryKey(ledger),
		retrier: retrier,
	}
}

// Load returns every import id of the ledger.
func (s *LedgerStore) Load(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT import_id FROM imported_transactions WHERE ledger = $1 ORDER BY imported_at, import_id`,
		s.ledger,
	)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}
	return ids, nil
}

// Append inserts importID; existing rows are left untouched.
func (s *LedgerStore) Append(ctx context.Context, importID string) error {
	err := s.retrier.Retry(ctx, "ledger_append", func() error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO imported_transactions (ledger, import_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			s.ledger, importID,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	return nil
}

// Lock takes a transaction-scoped advisory lock. Releasing rolls the holding
// transaction back, which frees the lock.
func (s *LedgerStore) Lock(ctx context.Context) (func() error, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock ledger: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, s.lockKey); err != nil {
		_ = tx.Rollback(context.Background())
		return nil, fmt.Errorf("lock ledger: %w", err)
	}

	return func() error {
		return tx.Rollback(context.Background())
	}, nil
}

func advisoryKey(ledger string) int64 {
	h := fnv.New64a()
	h.Write([]byte("ynabimport:ledger:" + ledger))
	return int64(h.Sum64())
}

// isRetryableError reports deadlocks, serialization failures and lost
// connections.
func isRetryableError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgErrDeadlock ||
		pgErr.Code == pgErrSerializationFailure ||
		strings.HasPrefix(pgErr.Code, pgErrClassConnection)
}

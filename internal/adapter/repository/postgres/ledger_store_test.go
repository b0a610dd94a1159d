package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rs/zerolog"

	"github.com/iho/ynabimport/internal/infrastructure/retry"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	pool, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgxmock pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func assertExpectations(t *testing.T, pool pgxmock.PgxPoolIface) {
	t.Helper()
	if err := pool.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations were not met: %v", err)
	}
}

func fastRetrier() *retry.Retrier {
	return retry.New(zerolog.Nop()).
		WithIntervals(time.Millisecond, 2*time.Millisecond).
		WithPolicy(appendRetries, isRetryableError)
}

func TestLedgerStoreLoad(t *testing.T) {
	mockPool := newMockPool(t)
	mockPool.ExpectQuery("SELECT import_id FROM imported_transactions").
		WithArgs("budget-1").
		WillReturnRows(pgxmock.NewRows([]string{"import_id"}).AddRow("PP.1").AddRow("HB.2"))

	store := newLedgerStoreWithPool(mockPool, "budget-1", fastRetrier())
	ids, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 || ids[0] != "PP.1" || ids[1] != "HB.2" {
		t.Fatalf("unexpected ids: %v", ids)
	}

	assertExpectations(t, mockPool)
}

func TestLedgerStoreAppendRetriesDeadlock(t *testing.T) {
	mockPool := newMockPool(t)
	mockPool.ExpectExec("INSERT INTO imported_transactions").
		WithArgs("budget-1", "PP.1").
		WillReturnError(&pgconn.PgError{Code: pgErrDeadlock})
	mockPool.ExpectExec("INSERT INTO imported_transactions").
		WithArgs("budget-1", "PP.1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	store := newLedgerStoreWithPool(mockPool, "budget-1", fastRetrier())
	if err := store.Append(context.Background(), "PP.1"); err != nil {
		t.Fatalf("expected append to succeed after retry, got %v", err)
	}

	assertExpectations(t, mockPool)
}

func TestLedgerStoreAppendPermanentError(t *testing.T) {
	mockPool := newMockPool(t)
	boom := errors.New("disk full")
	mockPool.ExpectExec("INSERT INTO imported_transactions").
		WithArgs("budget-1", "PP.1").
		WillReturnError(boom)

	store := newLedgerStoreWithPool(mockPool, "budget-1", fastRetrier())
	if err := store.Append(context.Background(), "PP.1"); !errors.Is(err, boom) {
		t.Fatalf("expected permanent error, got %v", err)
	}

	assertExpectations(t, mockPool)
}

func TestLedgerStoreLockHoldsTransaction(t *testing.T) {
	mockPool := newMockPool(t)
	store := newLedgerStoreWithPool(mockPool, "budget-1", fastRetrier())

	mockPool.ExpectBegin()
	mockPool.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(store.lockKey).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mockPool.ExpectRollback()

	unlock, err := store.Lock(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := unlock(); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}

	assertExpectations(t, mockPool)
}

func TestLedgerStoreLockFailureRollsBack(t *testing.T) {
	mockPool := newMockPool(t)
	store := newLedgerStoreWithPool(mockPool, "budget-1", fastRetrier())

	mockPool.ExpectBegin()
	mockPool.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(store.lockKey).
		WillReturnError(errors.New("canceled"))
	mockPool.ExpectRollback()

	if _, err := store.Lock(context.Background()); err == nil {
		t.Fatalf("expected lock error")
	}

	assertExpectations(t, mockPool)
}

func TestAdvisoryKeyIsStablePerLedger(t *testing.T) {
	if advisoryKey("a") != advisoryKey("a") {
		t.Fatalf("expected stable advisory key")
	}
	if advisoryKey("a") == advisoryKey("b") {
		t.Fatalf("expected distinct advisory keys")
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&pgconn.PgError{Code: pgErrDeadlock}, true},
		{&pgconn.PgError{Code: pgErrSerializationFailure}, true},
		{fmt.Errorf("exec: %w", &pgconn.PgError{Code: "08006"}), true},
		{&pgconn.PgError{Code: "23505"}, false},
		{errors.New("other"), false},
	}

	for _, tt := range tests {
		if got := isRetryableError(tt.err); got != tt.want {
			t.Fatalf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

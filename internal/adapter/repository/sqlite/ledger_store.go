// Package sqlite stores the import ledger in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS imported_transactions (
	import_id   TEXT PRIMARY KEY,
	imported_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// LedgerStore implements usecase.LedgerStore on SQLite.
type LedgerStore struct {
	db       *sql.DB
	lockPath string
}

// NewLedgerStore opens (or creates) the database at path.
func NewLedgerStore(ctx context.Context, path string) (*LedgerStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger table: %w", err)
	}

	return &LedgerStore{db: db, lockPath: path + ".lock"}, nil
}

// Load returns every recorded import id in insertion order.
func (s *LedgerStore) Load(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT import_id FROM imported_transactions ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Append inserts importID; an existing id is left untouched.
func (s *LedgerStore) Append(ctx context.Context, importID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO imported_transactions (import_id) VALUES (?) ON CONFLICT(import_id) DO NOTHING`,
		importID,
	)
	if err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	return nil
}

// Lock serializes batches sharing the database file, whether they run in
// other processes or on this same store.
func (s *LedgerStore) Lock(ctx context.Context) (func() error, error) {
	lock := flock.New(s.lockPath)
	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("lock ledger: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("lock ledger: %s is held by another batch", s.lockPath)
	}
	return lock.Unlock, nil
}

// Close closes the database.
func (s *LedgerStore) Close() error {
	return s.db.Close()
}

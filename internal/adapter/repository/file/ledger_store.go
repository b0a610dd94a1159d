// Package file stores the import ledger and pending bank sessions on the local
// filesystem.
package file

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 100 * time.Millisecond

// LedgerStore implements usecase.LedgerStore as a newline-delimited file of
// import ids. A line is complete only once its trailing newline is on disk.
type LedgerStore struct {
	path     string
	lockPath string
}

// NewLedgerStore creates a LedgerStore backed by path. The lock file lives next
// to it as path + ".lock".
func NewLedgerStore(path string) (*LedgerStore, error) {
	if path == "" {
		return nil, errors.New("ledger path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	return &LedgerStore{
		path:     path,
		lockPath: path + ".lock",
	}, nil
}

// Load returns every complete line of the ledger file. A missing file is an
// empty ledger.
func (s *LedgerStore) Load(ctx context.Context) ([]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	// A crash mid-append leaves an unterminated tail; it was never recorded.
	if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
		data = data[:i+1]
	} else {
		data = nil
	}

	var ids []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if id := strings.TrimSpace(scanner.Text()); id != "" {
			ids = append(ids, id)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}
	return ids, nil
}

// Append writes one id and fsyncs before returning. Duplicate lines are
// collapsed on load.
func (s *LedgerStore) Append(ctx context.Context, importID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if importID == "" || strings.ContainsAny(importID, "\r\n") {
		return fmt.Errorf("invalid import id %q", importID)
	}

	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	if err := truncatePartialTail(f); err != nil {
		return err
	}

	if _, err := f.WriteString(importID + "\n"); err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync ledger: %w", err)
	}
	return nil
}

// Lock takes an exclusive advisory lock shared by every process using the
// same ledger path. Each call opens its own descriptor, so two batches in one
// process exclude each other as well.
func (s *LedgerStore) Lock(ctx context.Context) (func() error, error) {
	lock := flock.New(s.lockPath)
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock ledger: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("lock ledger: %s is held by another batch", s.lockPath)
	}
	return lock.Unlock, nil
}

// truncatePartialTail cuts an unterminated last line left by an interrupted
// append so the next record cannot complete it.
func truncatePartialTail(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat ledger: %w", err)
	}

	end := info.Size()
	buf := make([]byte, 4096)
	for pos := end; pos > 0; {
		n := int64(len(buf))
		if pos < n {
			n = pos
		}
		pos -= n
		chunk := buf[:n]
		if _, err := f.ReadAt(chunk, pos); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read ledger tail: %w", err)
		}
		if i := bytes.LastIndexByte(chunk, '\n'); i >= 0 {
			return truncateAt(f, pos+int64(i)+1, end)
		}
	}
	return truncateAt(f, 0, end)
}

func truncateAt(f *os.File, size, end int64) error {
	if size == end {
		return nil
	}
	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("truncate ledger tail: %w", err)
	}
	return nil
}

// Package sink writes normalized transactions to a local tabular file in
// place of the remote budgeting API.
package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/iho/ynabimport/internal/domain"
	"github.com/iho/ynabimport/internal/normalize"
)

// Header is the column order of the sink file.
var Header = []string{"import_id", "date", "cleared", "amount", "payee", "memo"}

// CSVSink writes one row per transaction.
type CSVSink struct {
	w       *csv.Writer
	closer  io.Closer
	started bool
}

// NewCSVSink writes to w. Close does not close w.
func NewCSVSink(w io.Writer) *CSVSink {
	return &CSVSink{w: csv.NewWriter(w)}
}

// CreateCSVSink creates or truncates the file at path.
func CreateCSVSink(path string) (*CSVSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sink dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create sink file: %w", err)
	}
	s := NewCSVSink(f)
	s.closer = f
	return s, nil
}

// Write appends txn, emitting the header before the first row.
func (s *CSVSink) Write(ctx context.Context, txn domain.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.header(); err != nil {
		return err
	}

	row := []string{
		txn.ImportID,
		txn.DateString(),
		string(txn.Cleared),
		normalize.FormatMilliunits(txn.Amount),
		txn.Payee,
		txn.Memo,
	}
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("write sink row: %w", err)
	}
	return nil
}

func (s *CSVSink) header() error {
	if s.started {
		return nil
	}
	s.started = true
	if err := s.w.Write(Header); err != nil {
		return fmt.Errorf("write sink header: %w", err)
	}
	return nil
}

// Close flushes buffered rows. An empty batch still produces the header.
func (s *CSVSink) Close() error {
	if err := s.header(); err != nil {
		return err
	}
	s.w.Flush()
	err := s.w.Error()
	if s.closer != nil {
		if cerr := s.closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("close sink: %w", err)
	}
	return nil
}

package source

import (
	"context"
	"errors"
	"io"
	"iter"

	"github.com/iho/ynabimport/internal/domain"
)

// Column mapping keys and their defaults.
const (
	ColumnDate     = "date"
	ColumnAmount   = "amount"
	ColumnPayee    = "payee"
	ColumnMemo     = "memo"
	ColumnImportID = "import_id"
)

var defaultCSVColumns = map[string]string{
	ColumnDate:   "Buchungstag",
	ColumnAmount: "Betrag",
	ColumnPayee:  "Name Zahlungsbeteiligter",
	ColumnMemo:   "Verwendungszweck",
}

const (
	defaultCSVSeparator  = ';'
	defaultCSVDateLayout = "02.01.2006"
	csvIDPrefix          = "CSV."
)

// CSVConfig describes a generic CSV export.
type CSVConfig struct {
	// Columns maps the Column* keys to header names; missing keys use the defaults.
	Columns    map[string]string
	Separator  rune
	DateLayout string
	SkipLines  int
}

func (c CSVConfig) column(key string) string {
	if name, ok := c.Columns[key]; ok && name != "" {
		return name
	}
	return defaultCSVColumns[key]
}

// CSVSource reads a generic bank CSV export.
type CSVSource struct {
	r   io.Reader
	cfg CSVConfig
}

// NewCSVSource creates a CSVSource over r.
func NewCSVSource(r io.Reader, cfg CSVConfig) *CSVSource {
	if cfg.Separator == 0 {
		cfg.Separator = defaultCSVSeparator
	}
	if cfg.DateLayout == "" {
		cfg.DateLayout = defaultCSVDateLayout
	}
	return &CSVSource{r: r, cfg: cfg}
}

// Name returns the source name.
func (s *CSVSource) Name() string { return domain.SourceCSV }

// Records yields one record per data row.
func (s *CSVSource) Records(ctx context.Context) iter.Seq2[domain.RawRecord, error] {
	return func(yield func(domain.RawRecord, error) bool) {
		t, err := newTable(s.r, s.cfg.Separator, s.cfg.SkipLines)
		if err != nil {
			yield(domain.RawRecord{}, err)
			return
		}

		dateCol, amountCol := s.cfg.column(ColumnDate), s.cfg.column(ColumnAmount)
		if err := t.require("csv.columns", dateCol, amountCol); err != nil {
			yield(domain.RawRecord{}, err)
			return
		}
		idCol := s.cfg.Columns[ColumnImportID]
		if idCol != "" {
			if err := t.require("csv.columns", idCol); err != nil {
				yield(domain.RawRecord{}, err)
				return
			}
		}

		for {
			if err := ctx.Err(); err != nil {
				yield(domain.RawRecord{}, err)
				return
			}

			row, err := t.next(domain.SourceCSV)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if !yield(domain.RawRecord{}, err) || !domain.IsParseError(err) {
					return
				}
				continue
			}
			if blankRow(row) {
				continue
			}

			record := domain.RawRecord{
				Source:      domain.SourceCSV,
				IDPrefix:    csvIDPrefix,
				Date:        t.field(row, dateCol),
				DateLayouts: []string{s.cfg.DateLayout},
				Amount:      t.field(row, amountCol),
				Remitter:    t.field(row, s.cfg.column(ColumnPayee)),
				Memo:        t.field(row, s.cfg.column(ColumnMemo)),
				Line:        t.line,
			}
			if idCol != "" {
				record.NativeID = t.field(row, idCol)
			}

			if !yield(record, nil) {
				return
			}
		}
	}
}

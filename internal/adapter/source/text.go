// Package source reads file-based exports into raw records: generic bank CSV,
// the PayPal activity export and credit-card PDF statements.
package source

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/iho/ynabimport/internal/domain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodeText returns data as UTF-8. Input that is not valid UTF-8 is read as
// ISO-8859-1, the encoding of older German bank exports.
func decodeText(data []byte) ([]byte, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return data, nil
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("decode ISO-8859-1: %w", err)
	}
	return decoded, nil
}

// table is a decoded CSV file with a header row.
type table struct {
	reader  *csv.Reader
	columns map[string]int
	skipped int
	// line is the 1-based line of the last row read.
	line int
}

func newTable(r io.Reader, separator rune, skipLines int) (*table, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	data, err := decodeText(raw)
	if err != nil {
		return nil, err
	}

	lines := 0
	for lines < skipLines {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			data = nil
			break
		}
		data = data[i+1:]
		lines++
	}

	reader := csv.NewReader(bytes.NewReader(data))
	if separator != 0 {
		reader.Comma = separator
	}
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}
	return &table{reader: reader, columns: columns, skipped: lines, line: lines + 1}, nil
}

// require checks that every named column exists.
func (t *table) require(key string, names ...string) error {
	for _, name := range names {
		if _, ok := t.columns[name]; !ok {
			return &domain.ConfigError{Key: key, Reason: fmt.Sprintf("column %q not found in header", name)}
		}
	}
	return nil
}

// next returns the next row. A malformed row is a *domain.ParseError and the
// table stays readable; io.EOF ends the table.
func (t *table) next(source string) ([]string, error) {
	row, err := t.reader.Read()
	if err == nil {
		line, _ := t.reader.FieldPos(0)
		t.line = t.skipped + line
		return row, nil
	}
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}

	var csvErr *csv.ParseError
	if errors.As(err, &csvErr) {
		t.line = t.skipped + csvErr.StartLine
		return nil, &domain.ParseError{Source: source, Line: t.line, Field: "row", Err: csvErr.Err}
	}
	return nil, fmt.Errorf("read %s csv: %w", source, err)
}

// field returns the trimmed value of column name, or "" when absent.
func (t *table) field(row []string, name string) string {
	i, ok := t.columns[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func blankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

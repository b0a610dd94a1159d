package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/iho/ynabimport/internal/domain"
)

const (
	statementIDPrefix   = "HB."
	statementDateLayout = "02.01.2006"
	cardSettlement      = "Kartenabrechnung"
	// wordGap is the horizontal distance, in points, above which two text
	// runs on one row are separated by a space.
	wordGap = 1.5
)

var (
	statementDate   = regexp.MustCompile(`^(\d{2}\.\d{2}\.\d{4})`)
	statementAmount = regexp.MustCompile(`-?(?:\d{1,3}(?:\.\d{3})+|\d+),\d{2}`)
	statementSkip   = []string{"Neuer Saldo", "vereinbart"}
)

// PDFSource reads a credit-card statement PDF.
type PDFSource struct {
	r    io.ReaderAt
	size int64
}

// NewPDFSource creates a PDFSource over a document of size bytes.
func NewPDFSource(r io.ReaderAt, size int64) *PDFSource {
	return &PDFSource{r: r, size: size}
}

// NewPDFSourceFromBytes creates a PDFSource over an in-memory document.
func NewPDFSourceFromBytes(data []byte) *PDFSource {
	return NewPDFSource(bytes.NewReader(data), int64(len(data)))
}

// Name returns the source name.
func (s *PDFSource) Name() string { return domain.SourcePDF }

// Records extracts the statement text and yields one record per booking line.
func (s *PDFSource) Records(ctx context.Context) iter.Seq2[domain.RawRecord, error] {
	return func(yield func(domain.RawRecord, error) bool) {
		pages, err := extractPages(s.r, s.size)
		if err != nil {
			yield(domain.RawRecord{}, err)
			return
		}

		for _, record := range ParseStatement(pages) {
			if err := ctx.Err(); err != nil {
				yield(domain.RawRecord{}, err)
				return
			}
			if !yield(record, nil) {
				return
			}
		}
	}
}

// extractPages returns the text lines of every page, top to bottom.
func extractPages(r io.ReaderAt, size int64) ([][]string, error) {
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	pages := make([][]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			return nil, fmt.Errorf("read pdf page %d: %w", i, err)
		}

		// PDF coordinates grow upwards.
		sort.SliceStable(rows, func(a, b int) bool { return rows[a].Position > rows[b].Position })

		lines := make([]string, 0, len(rows))
		for _, row := range rows {
			if line := joinRow(row.Content); line != "" {
				lines = append(lines, line)
			}
		}
		pages = append(pages, lines)
	}
	return pages, nil
}

func joinRow(texts pdf.TextHorizontal) string {
	sort.SliceStable(texts, func(a, b int) bool { return texts[a].X < texts[b].X })

	var sb strings.Builder
	end := math.Inf(-1)
	for _, t := range texts {
		if sb.Len() > 0 && t.X-end > wordGap {
			sb.WriteByte(' ')
		}
		sb.WriteString(t.S)
		end = t.X + t.W
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

// ParseStatement turns statement text into records. A line starting with a
// date sets the current date for the page; every line with an amount while a
// date is current is a booking whose payee is on the following line.
func ParseStatement(pages [][]string) []domain.RawRecord {
	var records []domain.RawRecord
	lineNo := 0

	for _, lines := range pages {
		currentDate := ""
		for i, line := range lines {
			lineNo++
			line = strings.Join(strings.Fields(line), " ")

			if m := statementDate.FindStringSubmatch(line); m != nil {
				currentDate = m[1]
			}
			if currentDate == "" {
				continue
			}

			amount := statementAmount.FindString(line)
			if amount == "" || skippedLine(line) {
				continue
			}

			payee := ""
			if i+1 < len(lines) {
				payee = strings.TrimSpace(lines[i+1])
				if strings.Contains(payee, cardSettlement) {
					if fields := strings.Fields(payee); len(fields) > 0 {
						payee = fields[0]
					}
				}
			}

			records = append(records, domain.RawRecord{
				Source:      domain.SourcePDF,
				IDPrefix:    statementIDPrefix,
				Date:        currentDate,
				DateLayouts: []string{statementDateLayout},
				Amount:      amount,
				Remitter:    payee,
				Memo:        line,
				Line:        lineNo,
			})
		}
	}
	return records
}

func skippedLine(line string) bool {
	for _, s := range statementSkip {
		if strings.Contains(line, s) {
			return true
		}
	}
	return false
}

package source

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"

	"github.com/iho/ynabimport/internal/domain"
)

const (
	paypalIDPrefix        = "PP."
	paypalDateLayout      = "02.01.2006"
	DefaultTransferPayee  = "Transfer Comdirect"
	paypalStatusCompleted = "Abgeschlossen"
	paypalMemoTypeLength  = 6
	paypalMemoNameLength  = 10
)

// PayPal export columns.
const (
	paypalDate     = "Datum"
	paypalName     = "Name"
	paypalType     = "Typ"
	paypalStatus   = "Status"
	paypalGross    = "Brutto"
	paypalCode     = "Transaktionscode"
	paypalItemName = "Artikelbezeichnung"
)

// paypalTypes lists the imported activity types and the status each must
// have. An empty status accepts any.
var paypalTypes = map[string]string{
	"Handyzahlung":                                     paypalStatusCompleted,
	"PayPal Express-Zahlung":                           paypalStatusCompleted,
	"Bankgutschrift auf PayPal Konto":                  "",
	"Bankgutschrift auf PayPal-Konto":                  "",
	"Rückzahlung":                                      paypalStatusCompleted,
	"Zahlung im Einzugsverfahren mit Zahlungsrechnung": paypalStatusCompleted,
	"Von Nutzer eingeleitete Abbuchung":                paypalStatusCompleted,
	"Andere":                                           paypalStatusCompleted,
	"Website-Zahlung":                                  paypalStatusCompleted,
	"Allgemeine Zahlung":                               paypalStatusCompleted,
}

// PayPalSource reads the PayPal activity CSV export. Rows whose type and
// status are not imported are skipped without a record.
type PayPalSource struct {
	r             io.Reader
	transferPayee string
}

// NewPayPalSource creates a PayPalSource. transferPayee names the payee of
// rows without a counterparty.
func NewPayPalSource(r io.Reader, transferPayee string) *PayPalSource {
	if transferPayee == "" {
		transferPayee = DefaultTransferPayee
	}
	return &PayPalSource{r: r, transferPayee: transferPayee}
}

// Name returns the source name.
func (s *PayPalSource) Name() string { return domain.SourcePayPal }

// Records yields one record per imported activity row.
func (s *PayPalSource) Records(ctx context.Context) iter.Seq2[domain.RawRecord, error] {
	return func(yield func(domain.RawRecord, error) bool) {
		t, err := newTable(s.r, ',', 0)
		if err != nil {
			yield(domain.RawRecord{}, err)
			return
		}
		if err := t.require("paypal", paypalDate, paypalType, paypalStatus, paypalGross, paypalCode); err != nil {
			yield(domain.RawRecord{}, err)
			return
		}

		for {
			if err := ctx.Err(); err != nil {
				yield(domain.RawRecord{}, err)
				return
			}

			row, err := t.next(domain.SourcePayPal)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if !yield(domain.RawRecord{}, err) || !domain.IsParseError(err) {
					return
				}
				continue
			}
			if blankRow(row) || !importedActivity(t.field(row, paypalType), t.field(row, paypalStatus)) {
				continue
			}

			name := t.field(row, paypalName)
			payee := name
			if payee == "" {
				payee = s.transferPayee
			}

			record := domain.RawRecord{
				Source:      domain.SourcePayPal,
				IDPrefix:    paypalIDPrefix,
				NativeID:    t.field(row, paypalCode),
				Date:        t.field(row, paypalDate),
				DateLayouts: []string{paypalDateLayout},
				Amount:      t.field(row, paypalGross),
				Remitter:    payee,
				Memo:        paypalMemo(t.field(row, paypalType), name, t.field(row, paypalItemName)),
				Line:        t.line,
			}
			if record.NativeID == "" {
				if !yield(record, &domain.ParseError{Source: domain.SourcePayPal, Line: t.line, Field: paypalCode, Err: errMissingCode}) {
					return
				}
				continue
			}

			if !yield(record, nil) {
				return
			}
		}
	}
}

var errMissingCode = errors.New("missing transaction code")

func importedActivity(typ, status string) bool {
	required, ok := paypalTypes[typ]
	if !ok {
		return false
	}
	return required == "" || status == required
}

// paypalMemo renders "<type[:6]> - <name[:10]> - <item>", leaving out empty parts.
func paypalMemo(typ, name, item string) string {
	parts := []string{
		strings.TrimSpace(prefixRunes(typ, paypalMemoTypeLength)),
		strings.TrimSpace(prefixRunes(name, paypalMemoNameLength)),
		strings.TrimSpace(item),
	}

	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " - ")
}

func prefixRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

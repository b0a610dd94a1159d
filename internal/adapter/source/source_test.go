package source

import (
	"bytes"
	"context"
	"iter"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/iho/ynabimport/internal/domain"
)

func collect(seq iter.Seq2[domain.RawRecord, error]) ([]domain.RawRecord, []error) {
	var (
		records []domain.RawRecord
		errs    []error
	)
	for r, err := range seq {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		records = append(records, r)
	}
	return records, errs
}

func TestCSVSource_DefaultColumns(t *testing.T) {
	data := "Buchungstag;Betrag;Name Zahlungsbeteiligter;Verwendungszweck\n" +
		"01.03.2024;-12,50;REWE;Einkauf\n" +
		";;;\n" +
		"02.03.2024;1.200,00;Arbeitgeber GmbH;Gehalt März\n"

	src := NewCSVSource(strings.NewReader(data), CSVConfig{})
	records, errs := collect(src.Records(context.Background()))
	require.Empty(t, errs)
	require.Len(t, records, 2)

	assert.Equal(t, domain.SourceCSV, src.Name())
	assert.Equal(t, "CSV.", records[0].IDPrefix)
	assert.Equal(t, "01.03.2024", records[0].Date)
	assert.Equal(t, []string{"02.01.2006"}, records[0].DateLayouts)
	assert.Equal(t, "-12,50", records[0].Amount)
	assert.Equal(t, "REWE", records[0].Remitter)
	assert.Empty(t, records[0].NativeID)
	assert.Equal(t, "Gehalt März", records[1].Memo)
	assert.Equal(t, 4, records[1].Line)
}

func TestCSVSource_MappedColumnsAndSkipLines(t *testing.T) {
	data := "Kontoauszug Girokonto\n" +
		"Zeitraum: März\n" +
		"Datum,Umsatz,Empfänger,Text,Referenz\n" +
		"2024-03-01,\"-1,99\",Kiosk,Zeitung,REF-1\n"

	src := NewCSVSource(strings.NewReader(data), CSVConfig{
		Columns: map[string]string{
			ColumnDate:     "Datum",
			ColumnAmount:   "Umsatz",
			ColumnPayee:    "Empfänger",
			ColumnMemo:     "Text",
			ColumnImportID: "Referenz",
		},
		Separator:  ',',
		DateLayout: "2006-01-02",
		SkipLines:  2,
	})
	records, errs := collect(src.Records(context.Background()))
	require.Empty(t, errs)
	require.Len(t, records, 1)
	assert.Equal(t, "REF-1", records[0].NativeID)
	assert.Equal(t, "-1,99", records[0].Amount)
	assert.Equal(t, "Kiosk", records[0].Remitter)
}

func TestCSVSource_MissingColumnAborts(t *testing.T) {
	src := NewCSVSource(strings.NewReader("Datum;Betrag\n01.03.2024;1,00\n"), CSVConfig{})
	records, errs := collect(src.Records(context.Background()))
	assert.Empty(t, records)
	require.Len(t, errs, 1)

	var cfgErr *domain.ConfigError
	require.ErrorAs(t, errs[0], &cfgErr)
	assert.Contains(t, cfgErr.Reason, "Buchungstag")
}

func TestCSVSource_ShortRowAndQuotedNewline(t *testing.T) {
	data := "Buchungstag;Betrag;Name Zahlungsbeteiligter;Verwendungszweck\n" +
		"01.03.2024;-1,00\n" +
		"02.03.2024;-2,00;B;\"zwei\nZeilen\"\n" +
		"03.03.2024;-3,00;C;z\n"

	src := NewCSVSource(strings.NewReader(data), CSVConfig{})
	records, errs := collect(src.Records(context.Background()))
	require.Empty(t, errs)
	require.Len(t, records, 3)

	assert.Empty(t, records[0].Remitter)
	assert.Equal(t, "zwei\nZeilen", records[1].Memo)
	assert.Equal(t, 5, records[2].Line)
}

func TestCSVSource_StopsWhenConsumerStops(t *testing.T) {
	data := "Buchungstag;Betrag\n01.03.2024;1,00\n02.03.2024;2,00\n"
	src := NewCSVSource(strings.NewReader(data), CSVConfig{})

	n := 0
	for range src.Records(context.Background()) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestCSVSource_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := NewCSVSource(strings.NewReader("Buchungstag;Betrag\n01.03.2024;1,00\n"), CSVConfig{})
	records, errs := collect(src.Records(ctx))
	assert.Empty(t, records)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], context.Canceled)
}

const paypalHeader = `"Datum","Uhrzeit","Zeitzone","Name","Typ","Status","Währung","Brutto","Gebühr","Netto","Transaktionscode","Artikelbezeichnung"` + "\n"

func TestPayPalSource_Whitelist(t *testing.T) {
	data := paypalHeader +
		`"03.03.2024","10:00:00","CET","Spotify AB","Allgemeine Zahlung","Abgeschlossen","EUR","-9,99","0,00","-9,99","TX1","Premium"` + "\n" +
		`"04.03.2024","10:00:00","CET","Shop","Allgemeine Zahlung","Ausstehend","EUR","-5,00","0,00","-5,00","TX2",""` + "\n" +
		`"05.03.2024","10:00:00","CET","","Bankgutschrift auf PayPal-Konto","Ausstehend","EUR","50,00","0,00","50,00","TX3",""` + "\n" +
		`"06.03.2024","10:00:00","CET","","Allgemeine Währungsumrechnung","Abgeschlossen","EUR","1,00","0,00","1,00","TX4",""` + "\n"

	src := NewPayPalSource(strings.NewReader(data), "")
	records, errs := collect(src.Records(context.Background()))
	require.Empty(t, errs)
	require.Len(t, records, 2)

	assert.Equal(t, "PP.", records[0].IDPrefix)
	assert.Equal(t, "TX1", records[0].NativeID)
	assert.Equal(t, "Spotify AB", records[0].Remitter)
	assert.Equal(t, "Allgem - Spotify AB - Premium", records[0].Memo)

	assert.Equal(t, "TX3", records[1].NativeID)
	assert.Equal(t, DefaultTransferPayee, records[1].Remitter)
	assert.Equal(t, "Bankgu", records[1].Memo)
}

func TestPayPalSource_Latin1AndBOM(t *testing.T) {
	utf := paypalHeader +
		`"03.03.2024","10:00:00","CET","Bäckerei Müller","Handyzahlung","Abgeschlossen","EUR","-3,20","0,00","-3,20","TX9","Brötchen"` + "\n"

	latin1, err := charmap.ISO8859_1.NewEncoder().String(utf)
	require.NoError(t, err)

	for name, data := range map[string][]byte{
		"latin1": []byte(latin1),
		"bom":    append([]byte{0xEF, 0xBB, 0xBF}, utf...),
	} {
		t.Run(name, func(t *testing.T) {
			src := NewPayPalSource(bytes.NewReader(data), "Giro")
			records, errs := collect(src.Records(context.Background()))
			require.Empty(t, errs)
			require.Len(t, records, 1)
			assert.Equal(t, "Bäckerei Müller", records[0].Remitter)
			assert.Equal(t, "Handyz - Bäckerei M - Brötchen", records[0].Memo)
		})
	}
}

func TestPayPalSource_MissingCodeIsParseError(t *testing.T) {
	data := paypalHeader +
		`"03.03.2024","10:00:00","CET","Shop","Website-Zahlung","Abgeschlossen","EUR","-1,00","0,00","-1,00","",""` + "\n" +
		`"04.03.2024","10:00:00","CET","Shop","Website-Zahlung","Abgeschlossen","EUR","-2,00","0,00","-2,00","TX2",""` + "\n"

	src := NewPayPalSource(strings.NewReader(data), "")
	records, errs := collect(src.Records(context.Background()))
	require.Len(t, errs, 1)
	assert.True(t, domain.IsParseError(errs[0]))
	require.Len(t, records, 1)
	assert.Equal(t, "TX2", records[0].NativeID)
}

func TestPayPalMemo(t *testing.T) {
	assert.Equal(t, "Handyz", paypalMemo("Handyzahlung", "", ""))
	assert.Equal(t, "Rückza - Amazon EU - Kabel", paypalMemo("Rückzahlung", "Amazon EU S.a.r.l.", "Kabel"))
}

func TestParseStatement(t *testing.T) {
	pages := [][]string{
		{
			"Kreditkartenabrechnung März 2024",
			"01.03.2024 02.03.2024 Tankstelle 45,10",
			"ARAL Hamburg",
			"1.234,56",
			"Kartenabrechnung Lufthansa DE",
			"  Ihr vereinbarter Verfügungsrahmen   2.500,00 ",
			"Next",
			"Neuer Saldo -1.279,66",
		},
		{
			"Ohne Datum 9,99",
			"04.03.2024 Gutschrift -5,00",
		},
	}

	records := ParseStatement(pages)
	require.Len(t, records, 3)

	assert.Equal(t, "01.03.2024", records[0].Date)
	assert.Equal(t, "45,10", records[0].Amount)
	assert.Equal(t, "ARAL Hamburg", records[0].Remitter)
	assert.Equal(t, "01.03.2024 02.03.2024 Tankstelle 45,10", records[0].Memo)
	assert.Equal(t, "HB.", records[0].IDPrefix)
	assert.Empty(t, records[0].NativeID)

	assert.Equal(t, "01.03.2024", records[1].Date)
	assert.Equal(t, "1.234,56", records[1].Amount)
	assert.Equal(t, "Kartenabrechnung", records[1].Remitter)

	// The date does not carry over to the next page.
	assert.Equal(t, "04.03.2024", records[2].Date)
	assert.Equal(t, "-5,00", records[2].Amount)
	assert.Empty(t, records[2].Remitter)
	assert.Equal(t, 10, records[2].Line)
}

func TestPDFSource_InvalidDocument(t *testing.T) {
	src := NewPDFSourceFromBytes([]byte("not a pdf"))
	records, errs := collect(src.Records(context.Background()))
	assert.Empty(t, records)
	require.Len(t, errs, 1)
	assert.Equal(t, domain.SourcePDF, src.Name())
}

package normalize

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// milliunitShift scales a currency amount to milliunits: 12.50 becomes 12500.
const milliunitShift = 3

var errEmptyAmount = errors.New("empty amount")

// ParseAmount converts a locale-formatted decimal ("12,50", "-1.234,56",
// "1,234.56", "+45.00 €") into milliunits, rounding half away from zero.
func ParseAmount(raw string) (int64, error) {
	s := stripAmountNoise(raw)
	if s == "" {
		return 0, errEmptyAmount
	}

	s = canonicalDecimal(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}

	return d.Shift(milliunitShift).Round(0).IntPart(), nil
}

// FormatMilliunits renders milliunits as a plain decimal with two fractional digits.
func FormatMilliunits(amount int64) string {
	return decimal.New(amount, -milliunitShift).StringFixed(2)
}

func stripAmountNoise(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r == ' ', r == '\t', r == '\u00a0', r == '\u202f', r == '\'':
		case r == '€' || r == '$' || r == '£':
		default:
			b.WriteRune(r)
		}
	}
	s := b.String()
	s = strings.TrimSuffix(s, "EUR")
	s = strings.TrimPrefix(s, "EUR")
	return s
}

// canonicalDecimal decides which of ',' and '.' is the fractional separator.
// When both appear the rightmost one wins; a separator that appears more than
// once is a grouping separator.
func canonicalDecimal(s string) string {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.Replace(s, ",", ".", 1)
	case lastDot >= 0 && strings.Count(s, ".") > 1:
		return strings.ReplaceAll(s, ".", "")
	}

	return s
}

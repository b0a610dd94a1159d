package normalize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// Bank remittance text is split into numbered 27-character segments; the
	// segment numbers ("01", "02", ...) appear after padding.
	segmentCodePattern = regexp.MustCompile(`\s{2,20}0\d`)
	leadingSegment     = regexp.MustCompile(`^01(\pL)`)
	orderNumberPattern = regexp.MustCompile(`\b(\d{3}-\d{7}-\d{7})\b`)
)

// CleanMemo strips segment reference codes and collapses whitespace.
func CleanMemo(memo string) string {
	memo = strings.ToValidUTF8(memo, "")
	memo = segmentCodePattern.ReplaceAllString(memo, "")
	memo = leadingSegment.ReplaceAllString(memo, "$1")
	return CollapseSpace(memo)
}

// CollapseSpace joins all whitespace runs into single spaces and trims the ends.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate cuts s to at most n characters without splitting a multi-byte rune.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	s = strings.ToValidUTF8(s, "")
	if utf8.RuneCountInString(s) <= n {
		return s
	}

	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}

	return s
}

// FindOrderNumber returns the first marketplace order number (ddd-ddddddd-ddddddd) in s.
func FindOrderNumber(s string) string {
	m := orderNumberPattern.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return m[1]
}

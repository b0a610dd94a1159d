package normalize

import (
	"errors"
	"strings"
	"time"

	"github.com/iho/ynabimport/internal/domain"
)

// DefaultDateLayouts are tried in order when a record does not name its own.
// Day-first layouts come before month-first ones; month-first is never guessed.
var DefaultDateLayouts = []string{
	domain.DateLayout,
	"02.01.2006",
	"2.1.2006",
	"02.01.06",
	"02/01/2006",
	"2006/01/02",
}

var errMissingDate = errors.New("missing date")

// ParseDate parses a calendar date using the first layout that matches.
func ParseDate(raw string, layouts []string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, errMissingDate
	}
	if len(layouts) == 0 {
		layouts = DefaultDateLayouts
	}

	var firstErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}

	return time.Time{}, firstErr
}

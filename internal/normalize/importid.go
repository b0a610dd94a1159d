package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/iho/ynabimport/internal/domain"
)

const contentHashLength = 12

// ImportID derives the deterministic import id of a record. Native ids win;
// records without one, or whose native id would exceed the remote length cap,
// get a content hash over the normalized date and amount and the raw texts.
func ImportID(raw domain.RawRecord, txn domain.Transaction) string {
	if raw.NativeID != "" {
		id := raw.IDPrefix + strings.TrimSpace(raw.NativeID)
		if len(id) <= domain.MaxImportIDLength {
			return id
		}
		return raw.IDPrefix + hashParts(raw.Source, raw.NativeID)
	}

	parts := []string{
		raw.Source,
		txn.DateString(),
		strconv.FormatInt(txn.Amount, 10),
		CollapseSpace(raw.Remitter),
		CollapseSpace(raw.Memo),
	}
	if raw.Occurrence > 0 {
		parts = append(parts, strconv.Itoa(raw.Occurrence))
	}

	return raw.IDPrefix + hashParts(parts...)
}

func hashParts(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])[:contentHashLength]
}

// OccurrenceCounter numbers repeated content within one extraction so that two
// identical statement lines keep distinct, stable import ids.
type OccurrenceCounter struct {
	seen map[string]int
}

// NewOccurrenceCounter creates an empty counter.
func NewOccurrenceCounter() *OccurrenceCounter {
	return &OccurrenceCounter{seen: make(map[string]int)}
}

// Next returns how many times the same content was seen before.
func (c *OccurrenceCounter) Next(raw domain.RawRecord) int {
	if raw.NativeID != "" {
		return 0
	}
	key := strings.Join([]string{
		raw.Source,
		strings.TrimSpace(raw.Date),
		strings.TrimSpace(raw.Amount),
		CollapseSpace(raw.Remitter),
		CollapseSpace(raw.Memo),
	}, "\x1f")
	n := c.seen[key]
	c.seen[key] = n + 1
	return n
}

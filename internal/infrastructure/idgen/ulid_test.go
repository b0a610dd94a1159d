package idgen

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestULIDGeneratorMonotonicWithinMillisecond(t *testing.T) {
	g := NewULIDGenerator()
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return fixed }

	prev := g.Generate()
	for i := 0; i < 100; i++ {
		next := g.Generate()
		if next <= prev {
			t.Fatalf("expected increasing ids, got %s after %s", next, prev)
		}
		prev = next
	}

	parsed, err := ulid.Parse(prev)
	if err != nil {
		t.Fatalf("expected valid ULID: %v", err)
	}
	if !ulid.Time(parsed.Time()).Equal(fixed) {
		t.Fatalf("expected timestamp %s, got %s", fixed, ulid.Time(parsed.Time()))
	}
}

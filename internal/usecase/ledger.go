package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/iho/ynabimport/internal/infrastructure/metrics"
)

// Ledger is the in-memory view of the idempotency ledger for one batch. It is
// loaded once from its store; every Record goes to the store before it is
// visible through Contains.
type Ledger struct {
	store   LedgerStore
	metrics *metrics.Metrics

	mu  sync.RWMutex
	ids map[string]struct{}
}

// OpenLedger loads every recorded import id from store.
func OpenLedger(ctx context.Context, store LedgerStore, m *metrics.Metrics) (*Ledger, error) {
	ids, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	l := &Ledger{
		store:   store,
		metrics: m,
		ids:     make(map[string]struct{}, len(ids)),
	}
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			l.ids[id] = struct{}{}
		}
	}

	if m != nil {
		m.LedgerLoadedSize.Set(float64(len(l.ids)))
	}

	return l, nil
}

// Contains reports whether importID was already imported.
func (l *Ledger) Contains(importID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.ids[importID]
	return ok
}

// Record durably appends importID.
func (l *Ledger) Record(ctx context.Context, importID string) error {
	if importID == "" {
		return fmt.Errorf("record: empty import id")
	}
	if l.Contains(importID) {
		return nil
	}

	if err := l.store.Append(ctx, importID); err != nil {
		return fmt.Errorf("append %s: %w", importID, err)
	}

	l.mu.Lock()
	l.ids[importID] = struct{}{}
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.LedgerAppends.Inc()
	}

	return nil
}

// Len returns the number of known import ids.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ids)
}

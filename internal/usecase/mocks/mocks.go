package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/iho/ynabimport/internal/domain"
)

// InMemoryLedgerStore is an in-memory LedgerStore. Opening a new Ledger over
// the same store behaves like a reload after a restart.
type InMemoryLedgerStore struct {
	mu  sync.Mutex
	ids []string

	LoadFunc   func(ctx context.Context) ([]string, error)
	AppendFunc func(ctx context.Context, importID string) error
}

func NewInMemoryLedgerStore(ids ...string) *InMemoryLedgerStore {
	return &InMemoryLedgerStore{ids: ids}
}

func (m *InMemoryLedgerStore) Load(ctx context.Context) ([]string, error) {
	if m.LoadFunc != nil {
		return m.LoadFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ids...), nil
}

func (m *InMemoryLedgerStore) Append(ctx context.Context, importID string) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, importID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, importID)
	return nil
}

func (m *InMemoryLedgerStore) Lock(ctx context.Context) (func() error, error) {
	return func() error { return nil }, nil
}

// IDs returns a copy of every appended id.
func (m *InMemoryLedgerStore) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ids...)
}

// InMemorySessionStore is a SessionStore that round-trips sessions through
// JSON so tests see the same rehydration a durable store performs.
type InMemorySessionStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{data: make(map[string][]byte)}
}

func (m *InMemorySessionStore) Save(ctx context.Context, session *domain.Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[session.SessionID] = raw
	return nil
}

func (m *InMemorySessionStore) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	m.mu.Lock()
	raw, ok := m.data[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNoActiveSession)
	}
	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (m *InMemorySessionStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, sessionID)
	return nil
}

// Len returns the number of persisted sessions.
func (m *InMemorySessionStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// SequenceIDGenerator returns id-1, id-2, ...
type SequenceIDGenerator struct {
	mu      sync.Mutex
	counter int
}

func (m *SequenceIDGenerator) Generate() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter++
	return fmt.Sprintf("id-%d", m.counter)
}

// ManualClock is a settable clock.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{now: now}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// SliceSource yields fixed records. A non-nil entry in Errs at the same index
// is yielded alongside the record.
type SliceSource struct {
	SourceName string
	Items      []domain.RawRecord
	Errs       []error
	// Pulled counts records handed to the consumer.
	Pulled int
}

func (s *SliceSource) Name() string { return s.SourceName }

func (s *SliceSource) Records(ctx context.Context) iter.Seq2[domain.RawRecord, error] {
	return func(yield func(domain.RawRecord, error) bool) {
		for i, r := range s.Items {
			var err error
			if i < len(s.Errs) {
				err = s.Errs[i]
			}
			s.Pulled++
			if !yield(r, err) {
				return
			}
		}
	}
}

// MemorySink collects written transactions.
type MemorySink struct {
	Written []domain.Transaction
	Closed  bool
}

func (s *MemorySink) Write(ctx context.Context, txn domain.Transaction) error {
	s.Written = append(s.Written, txn)
	return nil
}

func (s *MemorySink) Close() error {
	s.Closed = true
	return nil
}

package usecase

import (
	"context"
	"iter"
	"time"

	"github.com/iho/ynabimport/internal/domain"
)

// BudgetAPI is the remote budgeting ledger.
type BudgetAPI interface {
	// CreateTransaction creates txn and returns the remote id. It returns an
	// error wrapping domain.ErrConflict when the import id already exists.
	CreateTransaction(ctx context.Context, budgetID string, txn domain.Transaction) (string, error)
	ListCategories(ctx context.Context, budgetID string) ([]domain.Category, error)
}

// CategoryCache holds category listings between requests.
type CategoryCache interface {
	// GetCategories reports ok=false on a miss.
	GetCategories(ctx context.Context, budgetID string) ([]domain.Category, bool, error)
	SetCategories(ctx context.Context, budgetID string, categories []domain.Category, ttl time.Duration) error
}

// LedgerStore is the durable, append-only backing of the idempotency ledger.
type LedgerStore interface {
	// Load returns every recorded import id.
	Load(ctx context.Context) ([]string, error)
	// Append durably records one import id. Appending an existing id is a no-op.
	Append(ctx context.Context, importID string) error
	// Lock acquires exclusive access for a read-check-append sequence. The
	// returned function releases it.
	Lock(ctx context.Context) (func() error, error)
}

// SessionStore persists pending bank sessions between the start and confirm
// halves of the login flow.
type SessionStore interface {
	Save(ctx context.Context, session *domain.Session) error
	// Load returns an error wrapping domain.ErrNoActiveSession when nothing is stored.
	Load(ctx context.Context, sessionID string) (*domain.Session, error)
	Delete(ctx context.Context, sessionID string) error
}

// BankAuthenticator performs the outbound calls of the bank login flow. Each
// method is one network call with a strict expected status.
type BankAuthenticator interface {
	PasswordGrant(ctx context.Context, session *domain.Session) (string, error)
	IdentifySession(ctx context.Context, session *domain.Session) (string, error)
	ValidateSession(ctx context.Context, session *domain.Session) (*domain.Challenge, error)
	ActivateSession(ctx context.Context, session *domain.Session, answer domain.ChallengeAnswer) error
	SecondaryGrant(ctx context.Context, session *domain.Session) (domain.TokenPair, error)
}

// Source yields raw records lazily. A *domain.ParseError for one record does
// not end the sequence; any other error does.
type Source interface {
	Name() string
	Records(ctx context.Context) iter.Seq2[domain.RawRecord, error]
}

// Sink receives normalized transactions in local sink mode.
type Sink interface {
	Write(ctx context.Context, txn domain.Transaction) error
	Close() error
}

// IDGenerator generates unique IDs.
type IDGenerator interface {
	Generate() string
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IdempotencyStore handles idempotency key storage.
type IdempotencyStore interface {
	// CheckAndSet atomically checks if key exists, sets if not.
	// Returns (exists, existingValue, error).
	CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	// Update updates an existing key with the final response.
	Update(ctx context.Context, key string, response []byte, ttl time.Duration) error
	// Delete releases a key whose request failed so it can be retried.
	Delete(ctx context.Context, key string) error
}

package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL = 10 * time.Minute
	lockPollDelay  = 100 * time.Millisecond
)

// unlockScript deletes the lock only if it still carries our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LedgerStore implements usecase.LedgerStore with a Redis set per ledger.
type LedgerStore struct {
	client  *redis.Client
	key     string
	lockKey string
	lockTTL time.Duration
}

// NewLedgerStore creates a LedgerStore. name separates ledgers sharing one
// Redis, typically the budget id.
func NewLedgerStore(client *redis.Client, name string) *LedgerStore {
	return &LedgerStore{
		client:  client,
		key:     keyPrefix + "ledger:" + name,
		lockKey: keyPrefix + "ledger-lock:" + name,
		lockTTL: defaultLockTTL,
	}
}

// Load returns every member of the ledger set.
func (s *LedgerStore) Load(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	return ids, nil
}

// Append adds importID. SADD is idempotent.
func (s *LedgerStore) Append(ctx context.Context, importID string) error {
	if err := s.client.SAdd(ctx, s.key, importID).Err(); err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	return nil
}

// Lock polls for a token-guarded lock key until ctx is done. The key expires
// after lockTTL so a crashed holder cannot wedge the ledger.
func (s *LedgerStore) Lock(ctx context.Context) (func() error, error) {
	token := ulid.Make().String()

	ticker := time.NewTicker(lockPollDelay)
	defer ticker.Stop()

	for {
		ok, err := s.client.SetNX(ctx, s.lockKey, token, s.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("lock ledger: %w", err)
		}
		if ok {
			return func() error {
				return unlockScript.Run(context.Background(), s.client, []string{s.lockKey}, token).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock ledger: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

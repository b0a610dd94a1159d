package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const processingMarker = "processing"

var errIdempotencyContention = errors.New("idempotency key is contended")

// IdempotencyStore implements usecase.IdempotencyStore using Redis.
type IdempotencyStore struct {
	client *redis.Client
	prefix string
}

// NewIdempotencyStore creates a new IdempotencyStore.
func NewIdempotencyStore(client *redis.Client) *IdempotencyStore {
	return &IdempotencyStore{
		client: client,
		prefix: keyPrefix + "idempotency:",
	}
}

// CheckAndSet claims key with response, or with a processing marker when
// response is nil. When the key is already claimed it returns the stored value.
func (s *IdempotencyStore) CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error) {
	fullKey := s.prefix + key

	var value any = processingMarker
	if response != nil {
		value = response
	}

	// A claimed key can expire between SETNX and GET; try once more.
	for attempt := 0; attempt < 2; attempt++ {
		claimed, err := s.client.SetNX(ctx, fullKey, value, ttl).Result()
		if err != nil {
			return false, nil, err
		}
		if claimed {
			return false, nil, nil
		}

		existing, err := s.client.Get(ctx, fullKey).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return false, nil, err
		}
		return true, existing, nil
	}

	return false, nil, errIdempotencyContention
}

// Update replaces the stored value with the final response.
func (s *IdempotencyStore) Update(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+key, response, ttl).Err()
}

// Delete removes key.
func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

// IsProcessing reports whether value is the in-flight marker.
func IsProcessing(value []byte) bool {
	return string(value) == processingMarker
}

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iho/ynabimport/internal/domain"
)

// CategoryCache implements usecase.CategoryCache using Redis.
type CategoryCache struct {
	client *redis.Client
	prefix string
}

// NewCategoryCache creates a new CategoryCache.
func NewCategoryCache(client *redis.Client) *CategoryCache {
	return &CategoryCache{
		client: client,
		prefix: keyPrefix + "categories:",
	}
}

// GetCategories returns the cached listing for budgetID.
func (c *CategoryCache) GetCategories(ctx context.Context, budgetID string) ([]domain.Category, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+budgetID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var categories []domain.Category
	if err := json.Unmarshal(data, &categories); err != nil {
		return nil, false, err
	}
	return categories, true, nil
}

// SetCategories stores a listing with TTL.
func (c *CategoryCache) SetCategories(ctx context.Context, budgetID string, categories []domain.Category, ttl time.Duration) error {
	data, err := json.Marshal(categories)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+budgetID, data, ttl).Err()
}

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/iho/ynabimport/internal/domain"
)

func TestCategoryCache_SetAndGet(t *testing.T) {
	client, mr := newTestRedisClient(t)
	defer mr.Close()
	defer client.Close()

	cache := NewCategoryCache(client)
	ctx := context.Background()

	if _, ok, err := cache.GetCategories(ctx, "b-1"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	categories := []domain.Category{{ID: "c1", Name: "Shopping", Group: "Wants"}}
	if err := cache.SetCategories(ctx, "b-1", categories, time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	got, ok, err := cache.GetCategories(ctx, "b-1")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if len(got) != 1 || got[0].FullName() != "Wants > Shopping" {
		t.Fatalf("unexpected categories: %+v", got)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok, _ := cache.GetCategories(ctx, "b-1"); ok {
		t.Fatalf("expected entry to expire")
	}
}

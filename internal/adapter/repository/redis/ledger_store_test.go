package redis

import (
	"context"
	"sort"
	"testing"
	"time"
)

func TestLedgerStore_AppendAndLoad(t *testing.T) {
	client, mr := newTestRedisClient(t)
	defer mr.Close()
	defer client.Close()

	ctx := context.Background()
	store := NewLedgerStore(client, "budget-1")

	for _, id := range []string{"PP.1", "HB.abc", "PP.1"} {
		if err := store.Append(ctx, id); err != nil {
			t.Fatalf("append %s failed: %v", id, err)
		}
	}

	// A fresh store over the same Redis sees the same ledger.
	ids, err := NewLedgerStore(client, "budget-1").Load(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "HB.abc" || ids[1] != "PP.1" {
		t.Fatalf("unexpected ledger contents: %v", ids)
	}

	other, err := NewLedgerStore(client, "budget-2").Load(ctx)
	if err != nil || len(other) != 0 {
		t.Fatalf("expected ledgers to be separated by name, got %v (%v)", other, err)
	}
}

func TestLedgerStore_LockIsExclusive(t *testing.T) {
	client, mr := newTestRedisClient(t)
	defer mr.Close()
	defer client.Close()

	first := NewLedgerStore(client, "budget-1")
	second := NewLedgerStore(client, "budget-1")

	unlock, err := first.Lock(context.Background())
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	if _, err := second.Lock(ctx); err == nil {
		t.Fatalf("expected second lock to time out while held")
	}

	if err := unlock(); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}

	unlock, err = second.Lock(context.Background())
	if err != nil {
		t.Fatalf("expected lock after release, got %v", err)
	}
	if err := unlock(); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
}

func TestLedgerStore_UnlockKeepsForeignLock(t *testing.T) {
	client, mr := newTestRedisClient(t)
	defer mr.Close()
	defer client.Close()

	store := NewLedgerStore(client, "budget-1")
	unlock, err := store.Lock(context.Background())
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}

	// Simulate expiry followed by another holder taking the lock.
	mr.FastForward(defaultLockTTL + time.Second)
	if err := client.Set(context.Background(), store.lockKey, "someone-else", time.Minute).Err(); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	if err := unlock(); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if got, _ := mr.Get(store.lockKey); got != "someone-else" {
		t.Fatalf("expected foreign lock to survive, got %q", got)
	}
}

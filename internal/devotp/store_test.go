package devotp

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_PutGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Put(ctx, "user@example.com", "123456", time.Now().UTC().Add(5*time.Minute)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	code, ok, err := store.Get(ctx, "user@example.com")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if code != "123456" {
		t.Errorf("code = %q, want %q", code, "123456")
	}
}

func TestMemoryStore_PutReplaces(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	exp := time.Now().UTC().Add(5 * time.Minute)

	_ = store.Put(ctx, "+15550001111", "111111", exp)
	_ = store.Put(ctx, "+15550001111", "222222", exp)

	if code, _, _ := store.Get(ctx, "+15550001111"); code != "222222" {
		t.Errorf("code = %q, want latest code 222222", code)
	}
}

func TestMemoryStore_Get_Missing(t *testing.T) {
	code, ok, err := NewMemoryStore().Get(context.Background(), "nobody@example.com")
	if err != nil || ok || code != "" {
		t.Errorf("Get = %q, %v, %v; want empty miss", code, ok, err)
	}
}

func TestMemoryStore_Get_ExpiredIsDropped(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.nowF = func() time.Time { return now }
	ctx := context.Background()

	_ = store.Put(ctx, "user@example.com", "123456", now.Add(time.Minute))
	now = now.Add(time.Minute)

	if _, ok, _ := store.Get(ctx, "user@example.com"); ok {
		t.Fatal("Get should miss once expiresAt is reached")
	}
	store.mu.RLock()
	_, still := store.m["user@example.com"]
	store.mu.RUnlock()
	if still {
		t.Error("expired entry should be removed")
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	exp := time.Now().UTC().Add(5 * time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		addr := fmt.Sprintf("user%d@example.com", i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = store.Put(ctx, addr, "123456", exp)
		}()
		go func() {
			defer wg.Done()
			_, _, _ = store.Get(ctx, addr)
		}()
	}
	wg.Wait()
}

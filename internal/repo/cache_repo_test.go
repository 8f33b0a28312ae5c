package repo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/go-docchat-rag/internal/cache"
	"github.com/tbourn/go-docchat-rag/internal/domain"
)

func TestCacheRepository_UpsertGetTouch(t *testing.T) {
	ctx := context.Background()
	r := CacheRepository{DB: newRepoDB(t, &domain.CacheEntry{})}
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	if _, err := r.Get(ctx, "k"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("Get missing = %v; want cache.ErrNotFound", err)
	}
	if _, err := r.Touch(ctx, "k"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("Touch missing = %v; want cache.ErrNotFound", err)
	}

	if err := r.Upsert(ctx, domain.CacheEntry{Key: "k", Value: "v1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	for want := int64(1); want <= 2; want++ {
		n, err := r.Touch(ctx, "k")
		if err != nil || n != want {
			t.Fatalf("Touch = %d, %v; want %d", n, err, want)
		}
	}

	if err := r.Upsert(ctx, domain.CacheEntry{Key: "k", Value: "v2", CreatedAt: now, ExpiresAt: now.Add(2 * time.Hour)}); err != nil {
		t.Fatalf("Upsert overwrite: %v", err)
	}
	got, err := r.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Value != "v2" || got.AccessCount != 0 || !got.ExpiresAt.Equal(now.Add(2*time.Hour)) {
		t.Fatalf("overwrite mismatch: %+v", got)
	}
}

func TestCacheRepository_ConcurrentTouchCountsEveryHit(t *testing.T) {
	ctx := context.Background()
	r := CacheRepository{DB: newRepoDB(t, &domain.CacheEntry{})}
	now := time.Now().UTC()
	_ = r.Upsert(ctx, domain.CacheEntry{Key: "k", Value: "v", CreatedAt: now, ExpiresAt: now.Add(time.Hour)})

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Touch(ctx, "k"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	failed := 0
	for range errs {
		failed++
	}

	got, err := r.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AccessCount != int64(n-failed) {
		t.Fatalf("access_count = %d; want %d", got.AccessCount, n-failed)
	}
}

func TestCacheRepository_DeleteClearExpired(t *testing.T) {
	ctx := context.Background()
	r := CacheRepository{DB: newRepoDB(t, &domain.CacheEntry{})}
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	_ = r.Upsert(ctx, domain.CacheEntry{Key: "old", Value: "x", CreatedAt: now, ExpiresAt: now})
	_ = r.Upsert(ctx, domain.CacheEntry{Key: "fresh", Value: "y", CreatedAt: now, ExpiresAt: now.Add(time.Minute)})
	_ = r.Upsert(ctx, domain.CacheEntry{Key: "gone", Value: "z", CreatedAt: now, ExpiresAt: now.Add(time.Minute)})

	if err := r.Delete(ctx, "gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := r.Delete(ctx, "gone"); err != nil {
		t.Fatalf("Delete should be idempotent: %v", err)
	}

	removed, err := r.DeleteExpired(ctx, now)
	if err != nil || removed != 1 {
		t.Fatalf("DeleteExpired = %d, %v; want 1", removed, err)
	}
	if n, _ := r.Count(ctx); n != 1 {
		t.Fatalf("Count = %d; want 1", n)
	}

	cleared, err := r.Clear(ctx)
	if err != nil || cleared != 1 {
		t.Fatalf("Clear = %d, %v; want 1", cleared, err)
	}
	if n, _ := r.Count(ctx); n != 0 {
		t.Fatalf("Count after clear = %d", n)
	}
}

func TestCacheRepository_BacksStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	store := cache.NewStore(CacheRepository{DB: newRepoDB(t, &domain.CacheEntry{})})
	store.Now = func() time.Time { return now }

	if err := store.CacheResponse(ctx, "k", "answer", time.Hour); err != nil {
		t.Fatalf("CacheResponse: %v", err)
	}
	v, ok, err := store.GetCachedResponse(ctx, "k")
	if err != nil || !ok || v != "answer" {
		t.Fatalf("GetCachedResponse = %q, %v, %v", v, ok, err)
	}

	now = now.Add(time.Hour)
	if _, ok, _ := store.GetCachedResponse(ctx, "k"); ok {
		t.Fatalf("entry should be expired at its expiry instant")
	}
}

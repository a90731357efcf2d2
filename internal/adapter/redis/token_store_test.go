package redis_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/neomorfeo/tenantclock/internal/adapter/redis"
	"github.com/neomorfeo/tenantclock/internal/domain"
)

var epoch = time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)

func setupStore(t *testing.T, retention time.Duration) (*miniredis.Miniredis, *redis.TokenStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, redis.NewTokenStore(client, retention)
}

func newToken(value string, ttl time.Duration) domain.Token {
	return domain.Token{
		Value:     value,
		TenantID:  "C1",
		SubjectID: "U1",
		Purpose:   domain.PurposeSubscriptionManagement,
		CreatedAt: epoch,
		ExpiresAt: epoch.Add(ttl),
	}
}

func TestTokenStore_InsertAndGet(t *testing.T) {
	mr, store := setupStore(t, 24*time.Hour)
	ctx := context.Background()

	if err := store.InsertIfAbsent(ctx, newToken("abc", time.Hour)); err != nil {
		t.Fatalf("InsertIfAbsent failed: %v", err)
	}

	got, err := store.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.TenantID != "C1" || got.SubjectID != "U1" || got.Purpose != domain.PurposeSubscriptionManagement {
		t.Errorf("got %+v", got)
	}
	if !got.CreatedAt.Equal(epoch) || !got.ExpiresAt.Equal(epoch.Add(time.Hour)) {
		t.Errorf("times = %v..%v", got.CreatedAt, got.ExpiresAt)
	}
	if got.Used || got.UsedAt != nil {
		t.Errorf("fresh token marked used: %+v", got)
	}

	if ttl := mr.TTL("tenantclock:token:abc"); ttl != 25*time.Hour {
		t.Errorf("key TTL = %v, want lifetime plus retention (25h)", ttl)
	}
}

func TestTokenStore_InsertCollision(t *testing.T) {
	_, store := setupStore(t, 0)
	ctx := context.Background()

	if err := store.InsertIfAbsent(ctx, newToken("abc", time.Hour)); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := store.InsertIfAbsent(ctx, newToken("abc", time.Hour)); !errors.Is(err, domain.ErrTokenExists) {
		t.Errorf("expected ErrTokenExists, got %v", err)
	}
}

func TestTokenStore_GetNotFound(t *testing.T) {
	_, store := setupStore(t, 0)

	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Errorf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestTokenStore_MarkUsed(t *testing.T) {
	_, store := setupStore(t, 0)
	ctx := context.Background()
	_ = store.InsertIfAbsent(ctx, newToken("abc", time.Hour))

	usedAt := epoch.Add(time.Minute)
	if err := store.MarkUsed(ctx, "abc", usedAt, "U1"); err != nil {
		t.Fatalf("MarkUsed failed: %v", err)
	}

	got, _ := store.Get(ctx, "abc")
	if !got.Used || got.UsedBy != "U1" || got.UsedAt == nil || !got.UsedAt.Equal(usedAt) {
		t.Errorf("got %+v, want used by U1 at %v", got, usedAt)
	}

	if err := store.MarkUsed(ctx, "abc", usedAt, "U2"); !errors.Is(err, domain.ErrTokenAlreadyUsed) {
		t.Errorf("second MarkUsed: expected ErrTokenAlreadyUsed, got %v", err)
	}
	if err := store.MarkUsed(ctx, "missing", usedAt, "U1"); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Errorf("missing token: expected ErrTokenNotFound, got %v", err)
	}
}

func TestTokenStore_MarkUsedConcurrent(t *testing.T) {
	_, store := setupStore(t, 0)
	ctx := context.Background()
	_ = store.InsertIfAbsent(ctx, newToken("abc", time.Hour))

	const callers = 20
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.MarkUsed(ctx, "abc", epoch, "U1")
			if err != nil && !errors.Is(err, domain.ErrTokenAlreadyUsed) {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("wins = %d, want 1", wins)
	}
}

func TestTokenStore_KeyExpiresAfterRetention(t *testing.T) {
	mr, store := setupStore(t, time.Hour)
	ctx := context.Background()
	_ = store.InsertIfAbsent(ctx, newToken("abc", time.Hour))

	mr.FastForward(2*time.Hour + time.Second)

	if _, err := store.Get(ctx, "abc"); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Errorf("expected ErrTokenNotFound after retention, got %v", err)
	}
}

func TestTokenStore_ServerErrorIsTransient(t *testing.T) {
	mr, store := setupStore(t, 0)
	mr.SetError("ERR server unavailable")

	_, err := store.Get(context.Background(), "abc")
	var transient *domain.TransientStoreError
	if !errors.As(err, &transient) {
		t.Errorf("expected TransientStoreError, got %v", err)
	}
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := redis.Connect(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	client.Close()

	if _, err := redis.Connect(context.Background(), "not a url"); err == nil {
		t.Error("expected error for malformed URL")
	}
}

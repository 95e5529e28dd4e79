package cache

import (
	"context"
	"testing"
	"time"

	"prediction-pulse/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*CursorCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCursorCache(client), mr
}

func TestCursorCacheMissThenAdvance(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, domain.SourceKalshi, "KXA"); err != nil || ok {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}

	ts := time.Unix(1_700_000_000, 0).UTC()
	if err := c.Advance(ctx, domain.SourceKalshi, "KXA", ts); err != nil {
		t.Fatalf("advance: %v", err)
	}
	got, ok, err := c.Get(ctx, domain.SourceKalshi, "KXA")
	if err != nil || !ok || !got.Equal(ts) {
		t.Fatalf("expected %s, got %s ok=%v err=%v", ts, got, ok, err)
	}
	if ttl := mr.TTL(cursorKey(domain.SourceKalshi, "KXA")); ttl != cursorTTL {
		t.Fatalf("expected ttl %s, got %s", cursorTTL, ttl)
	}
}

func TestCursorCacheNeverMovesBackwards(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	newer := time.Unix(2000, 0).UTC()
	if err := c.Advance(ctx, domain.SourcePolymarket, "tok", newer); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := c.Advance(ctx, domain.SourcePolymarket, "tok", time.Unix(1000, 0)); err != nil {
		t.Fatalf("advance: %v", err)
	}
	got, _, _ := c.Get(ctx, domain.SourcePolymarket, "tok")
	if !got.Equal(newer) {
		t.Fatalf("expected cursor to stay at %s, got %s", newer, got)
	}

	if err := c.Reset(ctx, domain.SourcePolymarket, "tok"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, ok, _ := c.Get(ctx, domain.SourcePolymarket, "tok"); ok {
		t.Fatal("expected miss after reset")
	}
}

func TestCursorCacheDisabled(t *testing.T) {
	c := NewCursorCache(nil)
	ctx := context.Background()
	if err := c.Advance(ctx, domain.SourceKalshi, "KXA", time.Now()); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if _, ok, err := c.Get(ctx, domain.SourceKalshi, "KXA"); ok || err != nil {
		t.Fatalf("expected disabled miss, ok=%v err=%v", ok, err)
	}
}

func TestInitRedisWithoutURL(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	Client = nil
	InitRedis(context.Background())
	if Client != nil {
		t.Fatal("expected no client without REDIS_URL")
	}
}

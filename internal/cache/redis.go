package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"prediction-pulse/internal/domain"

	"github.com/redis/go-redis/v9"
)

var Client *redis.Client

func InitRedis(ctx context.Context) {
	addr := os.Getenv("REDIS_URL")
	if addr == "" {
		log.Println("Warning: REDIS_URL not set, collection cursors will not be cached")
		return
	}
	Client = redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := Client.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	log.Println("Connected to Redis")
}

const cursorTTL = 7 * 24 * time.Hour

// CursorCache remembers the newest stored price timestamp per market so incremental
// collection can skip the MAX(timestamp) query. A nil client disables it.
type CursorCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCursorCache(client *redis.Client) *CursorCache {
	return &CursorCache{client: client, ttl: cursorTTL}
}

func cursorKey(source domain.Source, marketID string) string {
	return fmt.Sprintf("pulse:cursor:%s:%s", source, marketID)
}

// Get returns the cached cursor; ok is false on a miss or when the cache is disabled.
func (c *CursorCache) Get(ctx context.Context, source domain.Source, marketID string) (time.Time, bool, error) {
	if c == nil || c.client == nil {
		return time.Time{}, false, nil
	}
	raw, err := c.client.Get(ctx, cursorKey(source, marketID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse cursor %q: %w", raw, err)
	}
	return time.Unix(unix, 0).UTC(), true, nil
}

// Advance stores ts unless the cached cursor is already newer.
func (c *CursorCache) Advance(ctx context.Context, source domain.Source, marketID string, ts time.Time) error {
	if c == nil || c.client == nil || ts.IsZero() {
		return nil
	}
	current, ok, err := c.Get(ctx, source, marketID)
	if err != nil {
		return err
	}
	if ok && !ts.After(current) {
		return nil
	}
	return c.client.Set(ctx, cursorKey(source, marketID), ts.Unix(), c.ttl).Err()
}

func (c *CursorCache) Reset(ctx context.Context, source domain.Source, marketID string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, cursorKey(source, marketID)).Err()
}

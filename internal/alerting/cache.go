package alerting

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const unreadCountKey = "alerting:unread"

// Cache keeps the unread notification count in Redis so the badge
// endpoint avoids a COUNT(*) on every poll. It degrades to the database
// when Redis is absent.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// UnreadCount returns the cached count, falling back to the loader on a
// miss and repopulating the key.
func (c *Cache) UnreadCount(ctx context.Context, loader func(context.Context) (int64, error)) (int64, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	n, err := c.client.Get(ctx, unreadCountKey).Int64()
	if err == nil {
		return n, nil
	}
	if err != redis.Nil {
		// Unreachable cache; serve from the database instead.
		return loader(ctx)
	}
	n, err = loader(ctx)
	if err != nil {
		return 0, err
	}
	_ = c.client.Set(ctx, unreadCountKey, n, c.ttl).Err()
	return n, nil
}

// Invalidate drops the cached count after any write to notifications.
func (c *Cache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, unreadCountKey).Err()
}

package cachestate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"raito/internal/crawlmodel"
)

// RedisCache implements ResponseCache on top of go-redis's native SET ...
// EX TTL support, which maps onto spec.md §3's CacheEntry freshness rule
// (now - cached_at <= ttl_hours) more directly than a table scan: Redis
// expires the key itself, so BatchGet never has to compare timestamps.
// It is grounded on the teacher's own RedisConfig/go-redis dependency,
// which the teacher's HTTP layer never wired into the crawl path.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache wraps client. prefix namespaces keys, defaulting to
// "crawlcache:".
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "crawlcache:"
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(url string) string {
	return c.prefix + url
}

// BatchGet uses MGET so that N candidate URLs cost one round trip; ttl is
// not applied here since Redis already expires entries past their TTL at
// write time via Put.
func (c *RedisCache) BatchGet(ctx context.Context, urls []string, ttl time.Duration) (map[string]crawlmodel.CacheEntry, error) {
	out := make(map[string]crawlmodel.CacheEntry)
	if len(urls) == 0 {
		return out, nil
	}

	keys := make([]string, len(urls))
	for i, u := range urls {
		keys[i] = c.key(u)
	}

	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("rediscache: mget: %w", err)
	}

	for i, v := range vals {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		var entry crawlmodel.CacheEntry
		if err := json.Unmarshal([]byte(s), &entry); err != nil {
			continue
		}
		out[urls[i]] = entry
	}
	return out, nil
}

// Put stores entry with a fixed 24h EX TTL. It takes no TTL argument, which
// keeps the ResponseCache interface symmetric with PGStore.Put, which does
// not need one.
func (c *RedisCache) Put(ctx context.Context, entry crawlmodel.CacheEntry) error {
	return c.PutWithTTL(ctx, entry, 24*time.Hour)
}

// PutWithTTL is the concrete form BatchGet's Redis-native expiry relies
// on: it stores entry with an explicit EX TTL so entries evict themselves
// instead of needing a scan. Put calls it with 24h.
func (c *RedisCache) PutWithTTL(ctx context.Context, entry crawlmodel.CacheEntry, ttl time.Duration) error {
	if entry.CachedAt.IsZero() {
		entry.CachedAt = time.Now()
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(entry.URL), b, ttl).Err()
}

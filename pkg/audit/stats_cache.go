package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// StatsCache memoizes AggregateStats per subject. The service invalidates
// the affected subjects on every append, so cached values never lag behind
// the store by more than the in-flight append.
type StatsCache interface {
	Get(ctx context.Context, kind SubjectKind, id int64) (*AggregateStats, bool, error)
	Set(ctx context.Context, stats *AggregateStats) error
	Invalidate(ctx context.Context, kind SubjectKind, id int64) error
	Clear(ctx context.Context) error
	Name() string
}

func statsKey(kind SubjectKind, id int64) string {
	return string(kind) + ":" + strconv.FormatInt(id, 10)
}

// LRUStatsCache keeps stats in process memory with a size bound and TTL
type LRUStatsCache struct {
	cache *lru.LRU[string, *AggregateStats]
}

// NewLRUStatsCache creates an in-memory cache of at most size subjects
func NewLRUStatsCache(size int, ttl time.Duration) *LRUStatsCache {
	if size < 1 {
		size = 1024
	}
	return &LRUStatsCache{
		cache: lru.NewLRU[string, *AggregateStats](size, nil, ttl),
	}
}

func (c *LRUStatsCache) Name() string { return "lru" }

func (c *LRUStatsCache) Get(_ context.Context, kind SubjectKind, id int64) (*AggregateStats, bool, error) {
	stats, ok := c.cache.Get(statsKey(kind, id))
	return stats, ok, nil
}

func (c *LRUStatsCache) Set(_ context.Context, stats *AggregateStats) error {
	c.cache.Add(statsKey(stats.SubjectKind, stats.SubjectID), stats)
	return nil
}

func (c *LRUStatsCache) Invalidate(_ context.Context, kind SubjectKind, id int64) error {
	c.cache.Remove(statsKey(kind, id))
	return nil
}

func (c *LRUStatsCache) Clear(_ context.Context) error {
	c.cache.Purge()
	return nil
}

// RedisStatsCache shares stats between server replicas through Redis
type RedisStatsCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStatsCache wraps client; keys are namespaced under prefix
func NewRedisStatsCache(client *redis.Client, prefix string, ttl time.Duration) *RedisStatsCache {
	if prefix == "" {
		prefix = "changelog:stats:"
	}
	return &RedisStatsCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisStatsCache) Name() string { return "redis" }

func (c *RedisStatsCache) key(kind SubjectKind, id int64) string {
	return c.prefix + statsKey(kind, id)
}

func (c *RedisStatsCache) Get(ctx context.Context, kind SubjectKind, id int64) (*AggregateStats, bool, error) {
	cached, err := c.client.Get(ctx, c.key(kind, id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read stats cache: %w", err)
	}

	var stats AggregateStats
	if err := json.Unmarshal([]byte(cached), &stats); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached stats: %w", err)
	}
	return &stats, true, nil
}

func (c *RedisStatsCache) Set(ctx context.Context, stats *AggregateStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to encode stats: %w", err)
	}
	return c.client.Set(ctx, c.key(stats.SubjectKind, stats.SubjectID), data, c.ttl).Err()
}

func (c *RedisStatsCache) Invalidate(ctx context.Context, kind SubjectKind, id int64) error {
	return c.client.Del(ctx, c.key(kind, id)).Err()
}

// Clear removes every key under the prefix without flushing the database
func (c *RedisStatsCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan stats cache: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

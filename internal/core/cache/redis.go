package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vmetrics/vmetrics/internal/core"
)

// DefaultRedisPrefix namespaces response cache keys in Redis.
const DefaultRedisPrefix = "vmetrics:upstream:"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379/0").
	URL string

	// Prefix is prepended to every key (defaults to DefaultRedisPrefix).
	Prefix string
}

// Redis shares cached responses between instances.
type Redis struct {
	client *redis.Client
	prefix string
}

type redisEntry struct {
	Check    string          `json:"check"`
	Value    json.RawMessage `json:"value"`
	StoredAt time.Time       `json:"stored_at"`
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis url is required")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	return &Redis{client: client, prefix: prefix}, nil
}

// Get retrieves an entry from Redis.
func (c *Redis) Get(ctx context.Context, key string) (*core.CacheEntry, error) {
	data, err := c.client.Get(ctx, c.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cache entry from redis: %w", err)
	}

	var stored redisEntry
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to parse cache entry from redis: %w", err)
	}
	if stored.Check != KeyCheck(key) {
		return nil, nil
	}

	return &core.CacheEntry{Key: key, Value: stored.Value, StoredAt: stored.StoredAt}, nil
}

// Set stores an entry in Redis with ttl.
func (c *Redis) Set(ctx context.Context, entry *core.CacheEntry, ttl time.Duration) error {
	if entry == nil || ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(redisEntry{Check: KeyCheck(entry.Key), Value: entry.Value, StoredAt: entry.StoredAt.UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := c.client.Set(ctx, c.redisKey(entry.Key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry in redis: %w", err)
	}
	return nil
}

// Purge deletes every key under the configured prefix.
func (c *Redis) Purge(ctx context.Context) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", 100).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to scan redis keys: %w", err)
		}
		if len(keys) > 0 {
			deleted, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("failed to delete redis keys: %w", err)
			}
			removed += int(deleted)
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

// Close closes the Redis connection.
func (c *Redis) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *Redis) redisKey(key string) string {
	return c.prefix + Digest(key)
}

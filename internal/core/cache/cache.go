// Package cache provides the response cache backends used by the fetch queue.
// All backends are safe for concurrent use.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/vmetrics/vmetrics/internal/config"
	"github.com/vmetrics/vmetrics/internal/core"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendLibsql = "libsql"
)

// DefaultTTL is how long a successful upstream response stays valid.
const DefaultTTL = 5 * time.Minute

// Cache stores upstream responses keyed by canonical request URL.
type Cache interface {
	// Get returns the entry for key, or nil, nil if there is none.
	Get(ctx context.Context, key string) (*core.CacheEntry, error)

	// Set stores entry under entry.Key for ttl.
	Set(ctx context.Context, entry *core.CacheEntry, ttl time.Duration) error

	// Purge drops every entry and reports how many were removed.
	Purge(ctx context.Context) (int, error)

	// Close releases any resources held by the cache.
	Close() error
}

// Open builds the backend selected by cfg. db backs the libsql backend and may
// be nil for the others.
func Open(cfg config.CacheConfig, db Cache) (Cache, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	switch backend {
	case "", BackendMemory:
		return NewMemory(TTL(cfg)), nil
	case BackendRedis:
		return NewRedis(RedisConfig{
			URL:    cfg.RedisURL,
			Prefix: cfg.RedisPrefix,
		})
	case BackendLibsql:
		if db == nil {
			return nil, fmt.Errorf("cache backend %q requires a store", backend)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Backend)
	}
}

// TTL returns the configured TTL or DefaultTTL.
func TTL(cfg config.CacheConfig) time.Duration {
	if cfg.TTL <= 0 {
		return DefaultTTL
	}
	return cfg.TTL
}

// Digest returns a stable key for persistent backends. Request URLs carry the
// API key, so shared stores only ever see the digest.
func Digest(key string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(key))
}

// KeyCheck is stored beside a Digest-keyed entry and compared on read, so a
// 64-bit digest collision reads as a miss instead of another URL's body.
func KeyCheck(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

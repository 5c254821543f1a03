package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vmetrics/vmetrics/internal/core"
	"github.com/vmetrics/vmetrics/internal/core/cache"
)

// ResponseCache is the libsql cache backend. Rows are keyed by the digest of
// the request URL and carry its KeyCheck; the URL itself is never written.
type ResponseCache struct {
	store *Store
	Clock func() time.Time
}

var _ cache.Cache = (*ResponseCache)(nil)

// ResponseCache returns the store-backed response cache.
func (s *Store) ResponseCache() *ResponseCache {
	return &ResponseCache{store: s}
}

// Get returns the unexpired entry for key, or nil.
func (c *ResponseCache) Get(ctx context.Context, key string) (*core.CacheEntry, error) {
	db, err := c.db()
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		check    string
		body     []byte
		storedAt int64
	)
	row := db.QueryRowContext(ctx, `
		SELECT key_check, body, stored_at
		FROM response_cache
		WHERE key_digest = ? AND expires_at > ?
	`, cache.Digest(key), c.now().UnixMilli())
	if err := row.Scan(&check, &body, &storedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch cached response: %w", err)
	}
	if check != cache.KeyCheck(key) {
		return nil, nil
	}

	return &core.CacheEntry{
		Key:      key,
		Value:    json.RawMessage(body),
		StoredAt: time.UnixMilli(storedAt).UTC(),
	}, nil
}

// Set upserts entry with an expiry of StoredAt + ttl.
func (c *ResponseCache) Set(ctx context.Context, entry *core.CacheEntry, ttl time.Duration) error {
	db, err := c.db()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if entry == nil || ttl <= 0 {
		return nil
	}

	storedAt := entry.StoredAt
	if storedAt.IsZero() {
		storedAt = c.now()
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO response_cache (key_digest, key_check, body, stored_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key_digest) DO UPDATE SET
			key_check = excluded.key_check,
			body = excluded.body,
			stored_at = excluded.stored_at,
			expires_at = excluded.expires_at
	`, cache.Digest(entry.Key), cache.KeyCheck(entry.Key), []byte(entry.Value), storedAt.UnixMilli(), storedAt.Add(ttl).UnixMilli())
	if err != nil {
		return fmt.Errorf("store cached response: %w", err)
	}
	return nil
}

// Purge deletes every cached response.
func (c *ResponseCache) Purge(ctx context.Context) (int, error) {
	return c.delete(ctx, "DELETE FROM response_cache")
}

// PurgeExpired deletes only entries past their expiry.
func (c *ResponseCache) PurgeExpired(ctx context.Context) (int, error) {
	return c.delete(ctx, "DELETE FROM response_cache WHERE expires_at <= ?", c.now().UnixMilli())
}

// Count returns the number of stored rows, expired or not.
func (c *ResponseCache) Count(ctx context.Context) (int, error) {
	db, err := c.db()
	if err != nil {
		return 0, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM response_cache").Scan(&count); err != nil {
		return 0, fmt.Errorf("count cached responses: %w", err)
	}
	return count, nil
}

// Close is a no-op; the Store owns the connection.
func (c *ResponseCache) Close() error {
	return nil
}

func (c *ResponseCache) delete(ctx context.Context, query string, args ...any) (int, error) {
	db, err := c.db()
	if err != nil {
		return 0, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("purge cached responses: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge cached responses: %w", err)
	}
	return int(affected), nil
}

func (c *ResponseCache) db() (*sql.DB, error) {
	if c == nil || c.store == nil || c.store.DB == nil {
		return nil, errNotInitialized
	}
	return c.store.DB, nil
}

func (c *ResponseCache) now() time.Time {
	if c != nil && c.Clock != nil {
		return c.Clock()
	}
	return time.Now().UTC()
}

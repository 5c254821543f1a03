package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/vmetrics/vmetrics/internal/core"
)

const memoryCleanupInterval = 10 * time.Minute

// Memory is an in-process cache. Entries are lost on restart.
type Memory struct {
	items *gocache.Cache
}

// NewMemory creates an in-process cache whose entries expire after ttl.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{items: gocache.New(ttl, memoryCleanupInterval)}
}

// Get returns the cached entry for key.
func (m *Memory) Get(ctx context.Context, key string) (*core.CacheEntry, error) {
	value, ok := m.items.Get(key)
	if !ok {
		return nil, nil
	}
	entry, ok := value.(core.CacheEntry)
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// Set stores entry for ttl.
func (m *Memory) Set(ctx context.Context, entry *core.CacheEntry, ttl time.Duration) error {
	if entry == nil || ttl <= 0 {
		return nil
	}
	m.items.Set(entry.Key, *entry, ttl)
	return nil
}

// Purge removes all entries.
func (m *Memory) Purge(ctx context.Context) (int, error) {
	count := m.items.ItemCount()
	m.items.Flush()
	return count, nil
}

// itemCount counts stored entries, including expired ones not yet cleaned up.
func (m *Memory) itemCount() int {
	return m.items.ItemCount()
}

// Close is a no-op for the in-process cache.
func (m *Memory) Close() error {
	return nil
}

package core

import (
	"encoding/json"
	"time"
)

// CacheEntry is a memoized upstream response keyed by its canonical request URL.
type CacheEntry struct {
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value"`
	StoredAt time.Time       `json:"stored_at"`
}

// Expired reports whether the entry is older than ttl at now.
// A non-positive ttl treats every entry as expired.
func (e *CacheEntry) Expired(now time.Time, ttl time.Duration) bool {
	if e == nil || ttl <= 0 {
		return true
	}
	return !now.Before(e.StoredAt.Add(ttl))
}

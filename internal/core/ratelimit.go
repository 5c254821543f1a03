package core

import "time"

// RateLimitState captures the spacing limiter state for one upstream endpoint.
type RateLimitState struct {
	RequestCount  int        `json:"request_count"`
	LastRequestAt time.Time  `json:"last_request_at"`
	BackoffUntil  *time.Time `json:"backoff_until,omitempty"`
	Last429At     *time.Time `json:"last_429_at,omitempty"`
}

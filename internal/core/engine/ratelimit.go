package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vmetrics/vmetrics/internal/core"
)

const (
	// DefaultMinInterval is the minimum spacing between two outbound calls.
	DefaultMinInterval = 5 * time.Second

	// DefaultCooldown is how long to back off after an HTTP 429.
	DefaultCooldown = 10 * time.Second
)

// RateLimiter enforces a minimum spacing between calls to an endpoint.
//
// State lives in memory and is authoritative. When Store is set, every change
// is mirrored to it so operators can inspect it; it is never read back.
type RateLimiter struct {
	MinInterval time.Duration
	Cooldown    time.Duration
	Store       RateLimitStore
	Clock       func() time.Time

	mu    sync.Mutex
	state map[string]*core.RateLimitState
}

// RateLimitStore persists rate limit observations.
type RateLimitStore interface {
	UpdateRateLimit(ctx context.Context, endpoint string, state *core.RateLimitState) error
}

// NewRateLimiter returns a limiter with the default spacing and cooldown.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		MinInterval: DefaultMinInterval,
		Cooldown:    DefaultCooldown,
	}
}

// Delay returns how long the caller must wait before the next call to endpoint.
func (r *RateLimiter) Delay(endpoint string) time.Duration {
	if r == nil {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	state := r.stateLocked(endpoint)
	if state.LastRequestAt.IsZero() {
		return 0
	}

	now := r.now()
	wait := r.minInterval() - now.Sub(state.LastRequestAt)
	if state.BackoffUntil != nil {
		if backoff := state.BackoffUntil.Sub(now); backoff > wait {
			wait = backoff
		}
	}
	if wait < 0 {
		return 0
	}
	return wait
}

// Record marks the start of an outbound call to endpoint.
func (r *RateLimiter) Record(ctx context.Context, endpoint string) error {
	if r == nil {
		return nil
	}

	r.mu.Lock()
	state := r.stateLocked(endpoint)
	state.RequestCount++
	state.LastRequestAt = r.now()
	snapshot := copyState(state)
	r.mu.Unlock()

	return r.persist(ctx, endpoint, snapshot)
}

// Record429 marks a rate-limited response and returns the cooldown to apply.
func (r *RateLimiter) Record429(ctx context.Context, endpoint string) (time.Duration, error) {
	if r == nil {
		return 0, nil
	}

	cooldown := r.cooldown()

	r.mu.Lock()
	state := r.stateLocked(endpoint)
	now := r.now()
	until := now.Add(cooldown)
	state.Last429At = &now
	state.BackoffUntil = &until
	snapshot := copyState(state)
	r.mu.Unlock()

	return cooldown, r.persist(ctx, endpoint, snapshot)
}

// State returns a copy of the current state for endpoint.
func (r *RateLimiter) State(endpoint string) core.RateLimitState {
	if r == nil {
		return core.RateLimitState{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return copyState(r.stateLocked(endpoint))
}

// Restore seeds endpoint with previously persisted state so spacing and
// backoff survive a restart. It does not write back to Store.
func (r *RateLimiter) Restore(endpoint string, state core.RateLimitState) {
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	restored := copyState(&state)
	*r.stateLocked(endpoint) = restored
}

func (r *RateLimiter) stateLocked(endpoint string) *core.RateLimitState {
	endpoint = strings.TrimSpace(endpoint)
	if r.state == nil {
		r.state = make(map[string]*core.RateLimitState)
	}
	state, ok := r.state[endpoint]
	if !ok {
		state = &core.RateLimitState{}
		r.state[endpoint] = state
	}
	return state
}

func (r *RateLimiter) persist(ctx context.Context, endpoint string, state core.RateLimitState) error {
	if r.Store == nil || strings.TrimSpace(endpoint) == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return r.Store.UpdateRateLimit(ctx, strings.TrimSpace(endpoint), &state)
}

func (r *RateLimiter) minInterval() time.Duration {
	if r.MinInterval < 0 {
		return 0
	}
	return r.MinInterval
}

func (r *RateLimiter) cooldown() time.Duration {
	if r.Cooldown <= 0 {
		return DefaultCooldown
	}
	return r.Cooldown
}

func (r *RateLimiter) now() time.Time {
	if r != nil && r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}

func copyState(state *core.RateLimitState) core.RateLimitState {
	out := *state
	if state.BackoffUntil != nil {
		value := *state.BackoffUntil
		out.BackoffUntil = &value
	}
	if state.Last429At != nil {
		value := *state.Last429At
		out.Last429At = &value
	}
	return out
}

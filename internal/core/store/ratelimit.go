package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vmetrics/vmetrics/internal/core"
)

// GetRateLimit returns stored rate limit state for an endpoint.
func (s *Store) GetRateLimit(ctx context.Context, endpoint string) (*core.RateLimitState, error) {
	if s == nil || s.DB == nil {
		return nil, errNotInitialized
	}

	if ctx == nil {
		ctx = context.Background()
	}

	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("endpoint is required")
	}

	row := s.DB.QueryRowContext(ctx, `
		SELECT request_count, last_request_at, backoff_until, last_429_at
		FROM rate_limits
		WHERE endpoint = ?
	`, endpoint)

	var cols rateLimitColumns
	if err := row.Scan(&cols.requestCount, &cols.lastRequestAt, &cols.backoffUntil, &cols.last429At); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch rate limit: %w", err)
	}

	state := cols.state()
	return &state, nil
}

// UpdateRateLimit persists rate limit state for an endpoint.
func (s *Store) UpdateRateLimit(ctx context.Context, endpoint string, state *core.RateLimitState) error {
	if s == nil || s.DB == nil {
		return errNotInitialized
	}

	if ctx == nil {
		ctx = context.Background()
	}

	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return errors.New("endpoint is required")
	}
	if state == nil {
		return errors.New("rate limit state is required")
	}

	var lastRequestAt sql.NullInt64
	if !state.LastRequestAt.IsZero() {
		lastRequestAt = sql.NullInt64{Int64: state.LastRequestAt.UnixMilli(), Valid: true}
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO rate_limits (endpoint, request_count, last_request_at, backoff_until, last_429_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET
			request_count = excluded.request_count,
			last_request_at = excluded.last_request_at,
			backoff_until = excluded.backoff_until,
			last_429_at = excluded.last_429_at
	`, endpoint, state.RequestCount, lastRequestAt, nullMillis(state.BackoffUntil), nullMillis(state.Last429At))
	if err != nil {
		return fmt.Errorf("store rate limit: %w", err)
	}

	return nil
}

type rateLimitColumns struct {
	requestCount  int
	lastRequestAt sql.NullInt64
	backoffUntil  sql.NullInt64
	last429At     sql.NullInt64
}

func (c rateLimitColumns) state() core.RateLimitState {
	state := core.RateLimitState{RequestCount: c.requestCount}
	if c.lastRequestAt.Valid {
		state.LastRequestAt = time.UnixMilli(c.lastRequestAt.Int64).UTC()
	}
	state.BackoffUntil = timeFromMillis(c.backoffUntil)
	state.Last429At = timeFromMillis(c.last429At)
	return state
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timeFromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	value := time.UnixMilli(v.Int64).UTC()
	return &value
}

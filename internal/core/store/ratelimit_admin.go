package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vmetrics/vmetrics/internal/core"
)

// RateLimitEntry is one persisted limiter observation.
type RateLimitEntry struct {
	Endpoint string
	State    core.RateLimitState
}

// RateLimitQuery selects limiter rows for the admin commands. The first
// non-empty selector wins: All, then Endpoint, then Prefix.
type RateLimitQuery struct {
	All      bool
	Endpoint string
	Prefix   string
}

func (q RateLimitQuery) Validate() error {
	if q.All || strings.TrimSpace(q.Endpoint) != "" || strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return errors.New("must specify --all, --endpoint, or --prefix")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// whereClause matches Prefix literally, so "redtrack_eu" does not match
// "redtrackXeu".
func (q RateLimitQuery) whereClause() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	switch {
	case q.All:
		return "", nil, nil
	case strings.TrimSpace(q.Endpoint) != "":
		return "WHERE endpoint = ?", []any{strings.TrimSpace(q.Endpoint)}, nil
	default:
		return `WHERE endpoint LIKE ? ESCAPE '\'`, []any{likeEscaper.Replace(strings.TrimSpace(q.Prefix)) + "%"}, nil
	}
}

// ListRateLimits returns matching rows ordered by endpoint.
func (s *Store) ListRateLimits(ctx context.Context, q RateLimitQuery) ([]RateLimitEntry, error) {
	ctx, where, args, err := s.adminQuery(ctx, q)
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT endpoint, request_count, last_request_at, backoff_until, last_429_at
		FROM rate_limits `+where+` ORDER BY endpoint`, args...)
	if err != nil {
		return nil, fmt.Errorf("list rate limits: %w", err)
	}
	defer rows.Close() // nolint:errcheck

	entries := []RateLimitEntry{}
	for rows.Next() {
		var entry RateLimitEntry
		var cols rateLimitColumns
		if err := rows.Scan(&entry.Endpoint, &cols.requestCount, &cols.lastRequestAt, &cols.backoffUntil, &cols.last429At); err != nil {
			return nil, fmt.Errorf("scan rate limits: %w", err)
		}
		entry.State = cols.state()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// CountRateLimits counts matching rows.
func (s *Store) CountRateLimits(ctx context.Context, q RateLimitQuery) (int, error) {
	ctx, where, args, err := s.adminQuery(ctx, q)
	if err != nil {
		return 0, err
	}
	var count int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM rate_limits `+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rate limits: %w", err)
	}
	return count, nil
}

// ResetRateLimits deletes matching rows. A running server keeps its in-memory
// limiter state until restart.
func (s *Store) ResetRateLimits(ctx context.Context, q RateLimitQuery) (int64, error) {
	ctx, where, args, err := s.adminQuery(ctx, q)
	if err != nil {
		return 0, err
	}
	result, err := s.DB.ExecContext(ctx, `DELETE FROM rate_limits `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("reset rate limits: %w", err)
	}
	return result.RowsAffected()
}

func (s *Store) adminQuery(ctx context.Context, q RateLimitQuery) (context.Context, string, []any, error) {
	if s == nil || s.DB == nil {
		return nil, "", nil, errNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}
	where, args, err := q.whereClause()
	return ctx, where, args, err
}

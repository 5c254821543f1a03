package handlers

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/vmetrics/vmetrics/internal/core/fetchqueue"
)

// DefaultQueueBacklog is the depth above which the queue reports degraded.
const DefaultQueueBacklog = 50

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// StoreChecker reports the database reachable.
func StoreChecker(db Pinger) HealthChecker {
	return HealthCheckerFunc(func(ctx context.Context) error {
		if db == nil {
			return stderrors.New("store not configured")
		}
		return db.PingContext(ctx)
	})
}

// QueueChecker fails once the queue is closed and degrades when the
// backlog grows past backlog entries.
func QueueChecker(queue QueueStats, backlog int) HealthChecker {
	if backlog <= 0 {
		backlog = DefaultQueueBacklog
	}
	return HealthCheckerFunc(func(ctx context.Context) error {
		if queue == nil {
			return stderrors.New("fetch queue not configured")
		}
		stats := queue.Stats()
		if stats.Closed {
			return fetchqueue.ErrClosed
		}
		if stats.Depth > backlog {
			return fmt.Errorf("%w: %d requests queued", ErrDegraded, stats.Depth)
		}
		return nil
	})
}

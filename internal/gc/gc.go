// Package gc periodically deletes Sent rows past their retention window.
// GC is best-effort: CollectGarbage returns a failed round's error, and the
// manager's GC task logs it rather than retrying immediately, since the
// next tick will simply pick up the backlog.
package gc

import (
	"log/slog"
	"time"

	"github.com/outboxkit/outboxkit/internal/domain"
	"github.com/outboxkit/outboxkit/internal/observability"
)

// Collector deletes Sent rows older than retention. Its periodic ticking
// is owned by the manager's GC task, not by Collector itself, so shutdown
// stays centralized in one place.
type Collector struct {
	storage   domain.Storage
	retention time.Duration
	log       *slog.Logger
	metrics   *observability.Metrics
}

// New constructs a Collector. metrics may be nil.
func New(storage domain.Storage, retention time.Duration, log *slog.Logger, metrics *observability.Metrics) *Collector {
	if log == nil {
		log = slog.Default()
	}
	return &Collector{storage: storage, retention: retention, log: log, metrics: metrics}
}

// CollectGarbage runs one deletion round and returns the number of rows
// removed.
func (c *Collector) CollectGarbage(ctx domain.Context) (int64, error) {
	n, err := c.storage.DeleteGarbage(ctx, c.retention)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.log.InfoContext(ctx, "garbage collection round complete", slog.Int64("deleted", n))
		if c.metrics != nil {
			c.metrics.EventsDeleted.Add(float64(n))
		}
	}
	return n, nil
}

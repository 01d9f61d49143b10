// Package processor drains claimed outbox rows to the transport and marks
// the successes Sent. Failures are left untouched: their lock expires and
// a later claim naturally retries them.
package processor

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/outboxkit/outboxkit/internal/domain"
	"github.com/outboxkit/outboxkit/internal/observability"
)

// Processor is the batch drain step the manager's drainer task repeats
// until a cycle returns zero.
type Processor struct {
	storage     domain.Storage
	transport   domain.Transport
	batchSize   int
	lockTimeout time.Duration
	log         *slog.Logger
	metrics     *observability.Metrics
}

// New constructs a Processor claiming up to batchSize rows per call with
// lockTimeout held on each. metrics may be nil, in which case counters are
// simply not incremented.
func New(storage domain.Storage, transport domain.Transport, batchSize int, lockTimeout time.Duration, log *slog.Logger, metrics *observability.Metrics) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{storage: storage, transport: transport, batchSize: batchSize, lockTimeout: lockTimeout, log: log, metrics: metrics}
}

// ProcessPendingEvents claims one batch, publishes each event, marks the
// publish successes Sent, and returns the number of events claimed (not the
// number successfully published — a caller comparing this to zero is how
// the manager decides whether to keep draining).
func (p *Processor) ProcessPendingEvents(ctx domain.Context) (int, error) {
	events, err := p.storage.FetchNextToProcess(ctx, p.batchSize, p.lockTimeout)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}
	if p.metrics != nil {
		p.metrics.EventsClaimed.Add(float64(len(events)))
	}

	successIDs := make([]uuid.UUID, 0, len(events))
	for _, e := range events {
		if err := p.transport.Publish(ctx, e); err != nil {
			p.log.WarnContext(ctx, "event publish failed, leaving for lock-expiry retry",
				slog.String("event_id", e.ID.String()),
				slog.String("event_type", e.EventType),
				slog.Any("error", err))
			if p.metrics != nil {
				p.metrics.EventsFailed.Inc()
			}
			continue
		}
		if p.metrics != nil {
			p.metrics.EventsPublished.Inc()
		}
		successIDs = append(successIDs, e.ID)
	}

	if len(successIDs) > 0 {
		if err := p.storage.UpdatesStatus(ctx, successIDs, domain.EventSent); err != nil {
			// The events are already durably published; a row stuck in
			// Processing here is re-claimed and re-published once its lock
			// expires, which is exactly the at-least-once contract.
			return len(events), err
		}
		if p.metrics != nil {
			p.metrics.EventsSent.Add(float64(len(successIDs)))
		}
	}
	return len(events), nil
}

// Package outbox implements the producer-facing half of the outbox
// pattern: deriving a dedup token, reserving it, and writing the event row
// in the same call a business transaction commits alongside.
package outbox

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/outboxkit/outboxkit/internal/domain"
	"github.com/outboxkit/outboxkit/internal/idempotency"
)

// Service is the producer-facing entry point: business code calls AddEvent
// instead of writing to the event table directly.
type Service struct {
	writer   domain.Writer
	cache    domain.TokenCache
	strategy idempotency.Strategy
	rules    map[string]idempotency.Strategy
	log      *slog.Logger
}

// Option configures optional Service behavior.
type Option func(*Service)

// WithEventTypeRules overrides the default strategy for specific event
// types, e.g. loaded from config.LoadIdempotencyRules.
func WithEventTypeRules(rules map[string]idempotency.Strategy) Option {
	return func(s *Service) { s.rules = rules }
}

// New constructs a Service. cache may be a no-op cache when dedup is
// enforced purely by the unique index on idempotency_token.
func New(writer domain.Writer, cache domain.TokenCache, strategy idempotency.Strategy, log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{writer: writer, cache: cache, strategy: strategy, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// strategyFor returns the per-event-type rule override when one exists,
// otherwise the service's default strategy.
func (s *Service) strategyFor(eventType string) idempotency.Strategy {
	if rule, ok := s.rules[eventType]; ok {
		return rule
	}
	return s.strategy
}

// AddEvent derives the event's dedup token, reserves it in the cache when
// configured, and writes the row. It returns domain.ErrDuplicateEvent when
// either the cache reservation or the unique index rejects the token,
// domain.ErrInvalidConfig when the strategy cannot derive a token from its
// inputs (e.g. Provided with no token), and otherwise the cache's or
// writer's error, which the bundled adapters wrap as
// domain.ErrInfrastructure.
func (s *Service) AddEvent(
	ctx domain.Context,
	eventType string,
	payload []byte,
	providedToken *string,
	ctxProvider idempotency.EventContextProvider,
) error {
	token, err := s.strategyFor(eventType).Invoke(providedToken, payload, ctxProvider)
	if err != nil {
		return fmt.Errorf("op=outbox.add_event_strategy: %w", err)
	}

	if s.cache != nil && token != nil {
		reserved, err := s.cache.TryReserve(ctx, *token)
		if err != nil {
			return fmt.Errorf("op=outbox.add_event_reserve: %w", err)
		}
		if !reserved {
			s.log.InfoContext(ctx, "duplicate event rejected at cache reservation",
				slog.String("event_type", eventType))
			return fmt.Errorf("op=outbox.add_event_reserve: %w", domain.ErrDuplicateEvent)
		}
	}

	event := domain.NewEvent(eventType, payload, token)
	if err := s.writer.InsertEvent(ctx, event); err != nil {
		if errors.Is(err, domain.ErrDuplicateEvent) {
			s.log.InfoContext(ctx, "duplicate event rejected at insert",
				slog.String("event_type", eventType))
		}
		return fmt.Errorf("op=outbox.add_event_insert: %w", err)
	}
	return nil
}

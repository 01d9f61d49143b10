// Package postgres implements the outbox storage, writer, and
// listen/notify subscription over a pgx connection pool.
package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/outboxkit/outboxkit/internal/domain"
	"github.com/outboxkit/outboxkit/internal/observability"
)

// PgxPool is a minimal subset of pgxpool used by the adapter for easy
// testing with pgxmock.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// deleteGarbageBatch bounds a single DeleteGarbage round-trip so a huge
// backlog of Sent rows can't hold the delete transaction open for minutes.
const deleteGarbageBatch = 5000

// fetchUnprocessedLimit bounds a single FetchUnprocessed listing so a
// replay dry-run against a large backlog doesn't try to load everything.
const fetchUnprocessedLimit = 1000

// Storage implements domain.Storage over a pgx pool, claiming rows with
// "FOR UPDATE SKIP LOCKED" and listening for the doorbell notification
// channel the writer (or a database trigger) fires on insert.
//
// Notifications use a dedicated connection opened with dsn rather than a
// pool-borrowed one: LISTEN state is connection-scoped, and pgxpool may
// recycle a borrowed connection out from under a long-lived listener.
type Storage struct {
	pool    PgxPool
	dsn     string
	metrics *observability.Metrics

	notifyMu   sync.Mutex
	notifyConn *pgx.Conn
}

// NewStorage constructs a Storage backed by pool, dialing dsn directly for
// LISTEN/NOTIFY subscriptions. metrics may be nil.
func NewStorage(pool PgxPool, dsn string, metrics *observability.Metrics) *Storage {
	return &Storage{pool: pool, dsn: dsn, metrics: metrics}
}

// FetchNextToProcess atomically claims up to limit eligible rows in a
// single round-trip: the inner SELECT picks Pending rows or Processing rows
// whose lock has expired, oldest-claim first, skipping rows a concurrent
// worker already holds; the outer UPDATE flips them to Processing with a
// fresh lock and RETURNs every column.
func (s *Storage) FetchNextToProcess(ctx domain.Context, limit int, lockTimeout time.Duration) ([]domain.Event, error) {
	tracer := otel.Tracer("outbox.storage")
	ctx, span := tracer.Start(ctx, "storage.FetchNextToProcess")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "outbox_events"),
		attribute.Int("outbox.limit", limit),
	)

	const q = `
WITH claimed AS (
	SELECT id, status AS prior_status FROM outbox_events
	WHERE status = 'pending' OR (status = 'processing' AND locked_until < now())
	ORDER BY locked_until ASC
	LIMIT $2
	FOR UPDATE SKIP LOCKED
)
UPDATE outbox_events e
SET status = 'processing', locked_until = now() + $1::interval
FROM claimed c
WHERE e.id = c.id
RETURNING e.id, e.idempotency_token, e.event_type, e.payload, e.status, e.created_at, e.locked_until, c.prior_status`

	rows, err := s.pool.Query(ctx, q, lockTimeout, limit)
	if err != nil {
		return nil, fmt.Errorf("op=outbox.fetch_next_to_process: %w: %v", domain.ErrInfrastructure, err)
	}
	defer rows.Close()

	var events []domain.Event
	var reclaimed int
	for rows.Next() {
		e, priorStatus, err := scanClaimedEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("op=outbox.fetch_next_to_process_scan: %w: %v", domain.ErrInfrastructure, err)
		}
		if priorStatus == domain.EventProcessing {
			reclaimed++
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=outbox.fetch_next_to_process_rows: %w: %v", domain.ErrInfrastructure, err)
	}
	if reclaimed > 0 && s.metrics != nil {
		s.metrics.EventsReclaimed.Add(float64(reclaimed))
	}
	return events, nil
}

// UpdatesStatus bulk-updates the status of the given ids in one statement.
func (s *Storage) UpdatesStatus(ctx domain.Context, ids []uuid.UUID, status domain.EventStatus) error {
	if len(ids) == 0 {
		return nil
	}
	tracer := otel.Tracer("outbox.storage")
	ctx, span := tracer.Start(ctx, "storage.UpdatesStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "outbox_events"),
		attribute.Int("outbox.count", len(ids)),
	)

	const q = `UPDATE outbox_events SET status = $1 WHERE id = ANY($2)`
	if _, err := s.pool.Exec(ctx, q, status, ids); err != nil {
		return fmt.Errorf("op=outbox.updates_status: %w: %v", domain.ErrInfrastructure, err)
	}
	return nil
}

// DeleteGarbage deletes up to deleteGarbageBatch Sent rows older than
// retention and returns the number removed.
func (s *Storage) DeleteGarbage(ctx domain.Context, retention time.Duration) (int64, error) {
	tracer := otel.Tracer("outbox.storage")
	ctx, span := tracer.Start(ctx, "storage.DeleteGarbage")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "DELETE"),
		attribute.String("db.sql.table", "outbox_events"),
	)

	const q = `
DELETE FROM outbox_events
WHERE id IN (
	SELECT id FROM outbox_events
	WHERE status = 'sent' AND created_at < now() - $1::interval
	LIMIT $2
)`
	tag, err := s.pool.Exec(ctx, q, retention, deleteGarbageBatch)
	if err != nil {
		return 0, fmt.Errorf("op=outbox.delete_garbage: %w: %v", domain.ErrInfrastructure, err)
	}
	return tag.RowsAffected(), nil
}

// FetchUnprocessed lists Pending/Processing rows oldest-claim-first without
// claiming them, for a replay dry-run or operator inspection.
func (s *Storage) FetchUnprocessed(ctx domain.Context) ([]domain.Event, error) {
	tracer := otel.Tracer("outbox.storage")
	ctx, span := tracer.Start(ctx, "storage.FetchUnprocessed")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "outbox_events"),
	)

	const q = `
SELECT id, idempotency_token, event_type, payload, status, created_at, locked_until
FROM outbox_events
WHERE status IN ('pending', 'processing')
ORDER BY locked_until ASC
LIMIT $1`

	rows, err := s.pool.Query(ctx, q, fetchUnprocessedLimit)
	if err != nil {
		return nil, fmt.Errorf("op=outbox.fetch_unprocessed: %w: %v", domain.ErrInfrastructure, err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("op=outbox.fetch_unprocessed_scan: %w: %v", domain.ErrInfrastructure, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=outbox.fetch_unprocessed_rows: %w: %v", domain.ErrInfrastructure, err)
	}
	return events, nil
}

// WaitForNotification blocks until a NOTIFY arrives on channel, ctx is
// canceled, or the subscription connection needs to be re-established after
// an error. It dials lazily and caches the connection across calls under
// notifyMu; a connection-level error drops the cached connection so the
// next call reconnects instead of spinning on a dead socket.
func (s *Storage) WaitForNotification(ctx domain.Context, channel string) error {
	conn, err := s.subscriberConn(ctx, channel)
	if err != nil {
		return fmt.Errorf("op=outbox.wait_for_notification_connect: %w: %v", domain.ErrInfrastructure, err)
	}

	_, err = conn.WaitForNotification(ctx)
	if err != nil {
		s.notifyMu.Lock()
		if s.notifyConn == conn {
			_ = conn.Close(context.Background())
			s.notifyConn = nil
		}
		s.notifyMu.Unlock()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("op=outbox.wait_for_notification: %w: %v", domain.ErrInfrastructure, err)
	}
	return nil
}

// subscriberConn returns the cached LISTEN connection, dialing and issuing
// LISTEN <channel> the first time or after a prior failure closed it.
func (s *Storage) subscriberConn(ctx domain.Context, channel string) (*pgx.Conn, error) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	if s.notifyConn != nil {
		return s.notifyConn, nil
	}

	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, err
	}
	s.notifyConn = conn
	return conn, nil
}

func scanEvent(rows pgx.Rows) (domain.Event, error) {
	var e domain.Event
	var token *string
	var payload []byte
	if err := rows.Scan(&e.ID, &token, &e.EventType, &payload, &e.Status, &e.CreatedAt, &e.LockedUntil); err != nil {
		return domain.Event{}, err
	}
	e.IdempotencyToken = token
	e.Payload = payload
	return e, nil
}

// scanClaimedEvent scans a FetchNextToProcess row, which carries one extra
// trailing column: the row's status immediately before this claim.
func scanClaimedEvent(rows pgx.Rows) (domain.Event, domain.EventStatus, error) {
	var e domain.Event
	var token *string
	var payload []byte
	var priorStatus domain.EventStatus
	if err := rows.Scan(&e.ID, &token, &e.EventType, &payload, &e.Status, &e.CreatedAt, &e.LockedUntil, &priorStatus); err != nil {
		return domain.Event{}, "", err
	}
	e.IdempotencyToken = token
	e.Payload = payload
	return e, priorStatus, nil
}

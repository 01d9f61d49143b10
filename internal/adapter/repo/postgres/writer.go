package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/outboxkit/outboxkit/internal/domain"
)

// uniqueViolation is the Postgres SQLSTATE for a unique_violation.
const uniqueViolation = "23505"

// Writer implements domain.Writer, inserting an outbox row and firing the
// doorbell NOTIFY in the same statement so a waiting drainer wakes as soon
// as the insert commits.
//
// Writer accepts the same PgxPool handle Storage does; callers that need
// the insert to share a business transaction pass a pgx.Tx, which also
// satisfies PgxPool's Exec/Query/QueryRow subset.
type Writer struct {
	pool          PgxPool
	notifyChannel string
}

// NewWriter constructs a Writer that NOTIFYs on notifyChannel after each
// insert.
func NewWriter(pool PgxPool, notifyChannel string) *Writer {
	return &Writer{pool: pool, notifyChannel: notifyChannel}
}

// InsertEvent writes e and notifies listeners. A unique-constraint
// violation on idempotency_token is mapped to domain.ErrDuplicateEvent so
// the producer service can treat it as a non-fatal, already-handled
// condition.
func (w *Writer) InsertEvent(ctx domain.Context, e domain.Event) error {
	tracer := otel.Tracer("outbox.writer")
	ctx, span := tracer.Start(ctx, "writer.InsertEvent")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "outbox_events"),
		attribute.String("outbox.event_type", e.EventType),
	)

	// The insert and the notify must commit or fail together: two separate
	// Exec calls against a bare pool would auto-commit independently, so a
	// notify failure after a successful insert would report an error for a
	// row that is already durably written, and a retrying caller without a
	// dedup token would insert it twice. Folding both into one statement
	// makes that outcome impossible.
	const q = `
WITH ins AS (
	INSERT INTO outbox_events (id, idempotency_token, event_type, payload, status, created_at, locked_until)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id
)
SELECT pg_notify($8, $9) FROM ins`

	if _, err := w.pool.Exec(ctx, q, e.ID, e.IdempotencyToken, e.EventType, e.Payload, e.Status, e.CreatedAt, e.LockedUntil, w.notifyChannel, e.ID.String()); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("op=outbox.insert_event: %w", domain.ErrDuplicateEvent)
		}
		return fmt.Errorf("op=outbox.insert_event: %w: %v", domain.ErrInfrastructure, err)
	}
	return nil
}

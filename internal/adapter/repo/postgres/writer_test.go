package postgres_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outboxkit/outboxkit/internal/adapter/repo/postgres"
	"github.com/outboxkit/outboxkit/internal/domain"
)

func TestInsertEvent_NotifiesAfterInsert(t *testing.T) {
	t.Parallel()

	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()

	e := domain.NewEvent("order.created", []byte(`{}`), nil)

	m.ExpectExec("INSERT INTO outbox_events").
		WithArgs(e.ID, e.IdempotencyToken, e.EventType, e.Payload, e.Status, e.CreatedAt, e.LockedUntil, "outbox_event", e.ID.String()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	w := postgres.NewWriter(m, "outbox_event")
	require.NoError(t, w.InsertEvent(context.Background(), e))
	assert.NoError(t, m.ExpectationsWereMet())
}

func TestInsertEvent_DuplicateTokenMapsToDomainError(t *testing.T) {
	t.Parallel()

	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()

	e := domain.NewEvent("order.created", []byte(`{}`), nil)

	m.ExpectExec("INSERT INTO outbox_events").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "outbox_events_idempotency_token_key"})

	w := postgres.NewWriter(m, "outbox_event")
	err = w.InsertEvent(context.Background(), e)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDuplicateEvent)
}

func TestInsertEvent_OtherDBErrorIsInfrastructure(t *testing.T) {
	t.Parallel()

	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()

	e := domain.NewEvent("order.created", []byte(`{}`), nil)

	m.ExpectExec("INSERT INTO outbox_events").WillReturnError(assert.AnError)

	w := postgres.NewWriter(m, "outbox_event")
	err = w.InsertEvent(context.Background(), e)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInfrastructure)
}

//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	outboxredis "github.com/outboxkit/outboxkit/internal/adapter/cache/redis"
	pgadapter "github.com/outboxkit/outboxkit/internal/adapter/repo/postgres"
	"github.com/outboxkit/outboxkit/internal/domain"
	"github.com/outboxkit/outboxkit/internal/gc"
	"github.com/outboxkit/outboxkit/internal/processor"
)

const schema = `
CREATE TABLE outbox_events (
	id               uuid PRIMARY KEY,
	idempotency_token text,
	event_type       text NOT NULL,
	payload          jsonb NOT NULL,
	status           text NOT NULL,
	created_at       timestamptz NOT NULL,
	locked_until     timestamptz NOT NULL
);
CREATE UNIQUE INDEX ON outbox_events (idempotency_token) WHERE idempotency_token IS NOT NULL;
`

// fakeTransport records what it is asked to publish instead of dialing a
// broker, so these tests exercise the claim/notify/GC flow against real
// Postgres and Redis without depending on a Kafka cluster.
type fakeTransport struct {
	published []domain.Event
}

func (f *fakeTransport) Publish(_ domain.Context, e domain.Event) error {
	f.published = append(f.published, e)
	return nil
}

func startPostgres(ctx context.Context, t *testing.T) string {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16",
		Env:          map[string]string{"POSTGRES_PASSWORD": "outbox", "POSTGRES_USER": "outbox", "POSTGRES_DB": "outbox"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithStartupTimeout(90 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432")
	require.NoError(t, err)
	return "postgres://outbox:outbox@" + host + ":" + port.Port() + "/outbox?sslmode=disable"
}

func startRedis(ctx context.Context, t *testing.T) string {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "redis:7",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379")
	require.NoError(t, err)
	return "redis://" + host + ":" + port.Port() + "/0"
}

// TestOutboxFlow_ClaimPublishGC drives an event through insert, the SKIP
// LOCKED claim, a simulated publish, and garbage collection against real
// Postgres and Redis containers.
func TestOutboxFlow_ClaimPublishGC(t *testing.T) {
	ctx := context.Background()

	dsn := startPostgres(ctx, t)
	pool, err := pgadapter.NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	_, err = pool.Exec(ctx, schema)
	require.NoError(t, err)

	opts, err := goredis.ParseURL(startRedis(ctx, t))
	require.NoError(t, err)
	tokenCache := outboxredis.NewTokenCache(goredis.NewClient(opts), "it_test", time.Hour, 0)

	writer := pgadapter.NewWriter(pool, "outbox_event")
	storage := pgadapter.NewStorage(pool, dsn, nil)

	token := "order-123"
	ok, err := tokenCache.TryReserve(ctx, token)
	require.NoError(t, err)
	require.True(t, ok)

	event := domain.NewEvent("order.created", []byte(`{"id":123}`), &token)
	require.NoError(t, writer.InsertEvent(ctx, event))

	transport := &fakeTransport{}
	proc := processor.New(storage, transport, 10, time.Minute, nil, nil)

	n, err := proc.ProcessPendingEvents(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, transport.published, 1)
	require.Equal(t, event.ID, transport.published[0].ID)

	n, err = proc.ProcessPendingEvents(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	collector := gc.New(storage, -time.Hour, nil, nil)
	deleted, err := collector.CollectGarbage(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)
}

// TestOutboxFlow_DuplicateTokenRejected verifies the unique-token index maps
// a repeat insert to the domain duplicate error, end to end.
func TestOutboxFlow_DuplicateTokenRejected(t *testing.T) {
	ctx := context.Background()

	dsn := startPostgres(ctx, t)
	pool, err := pgadapter.NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	_, err = pool.Exec(ctx, schema)
	require.NoError(t, err)

	writer := pgadapter.NewWriter(pool, "outbox_event")
	token := "dup-token"

	require.NoError(t, writer.InsertEvent(ctx, domain.NewEvent("order.created", []byte(`{}`), &token)))
	err = writer.InsertEvent(ctx, domain.NewEvent("order.created", []byte(`{}`), &token))
	require.ErrorIs(t, err, domain.ErrDuplicateEvent)
}

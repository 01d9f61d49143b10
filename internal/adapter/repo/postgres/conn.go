package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// defaultMaxConns bounds the pool the drainer, GC task, and admin HTTP
// readyz check share. The LISTEN/NOTIFY subscription never borrows from
// this pool (see storage.go's subscriberConn), so this budget only needs
// to cover claim/update/delete round-trips, not long-lived listeners.
const defaultMaxConns = 10

// NewPool creates a pgx connection pool from dsn, instrumented with
// otelpgx so claim/update/delete spans carry pool-level stats alongside
// the per-query spans storage.go and writer.go create.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = defaultMaxConns
	cfg.MaxConnIdleTime = 5 * time.Minute

	cfg.ConnConfig.Tracer = otelpgx.NewTracer(
		otelpgx.WithTrimSQLInSpanName(),
	)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := otelpgx.RecordStats(pool); err != nil {
		slog.Warn("failed to record pgx stats", slog.Any("error", err))
	}

	return pool, nil
}

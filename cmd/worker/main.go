// Package main is the outbox worker process: it wires the Postgres
// storage/writer, the Redis token cache, the Kafka transport, and the
// manager's drainer/GC tasks, and exposes health and metrics endpoints.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	outboxredis "github.com/outboxkit/outboxkit/internal/adapter/cache/redis"
	"github.com/outboxkit/outboxkit/internal/adapter/httpserver"
	pgadapter "github.com/outboxkit/outboxkit/internal/adapter/repo/postgres"
	"github.com/outboxkit/outboxkit/internal/adapter/transport/kafka"
	"github.com/outboxkit/outboxkit/internal/config"
	"github.com/outboxkit/outboxkit/internal/domain"
	"github.com/outboxkit/outboxkit/internal/gc"
	"github.com/outboxkit/outboxkit/internal/idempotency"
	"github.com/outboxkit/outboxkit/internal/manager"
	"github.com/outboxkit/outboxkit/internal/observability"
	"github.com/outboxkit/outboxkit/internal/processor"
	"github.com/outboxkit/outboxkit/internal/service/outbox"
)

var replayDryRun = flag.Bool("replay-dry-run", false, "list pending and processing events without claiming them, then exit")

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.Info("starting outbox worker", slog.String("env", cfg.AppEnv))

	shutdownTracing, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("tracing setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	if shutdownTracing != nil {
		defer func() { _ = shutdownTracing(context.Background()) }()
	}

	pool, err := connectWithRetry(context.Background(), cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	storage := pgadapter.NewStorage(pool, cfg.DBURL, metrics)
	writer := pgadapter.NewWriter(pool, cfg.NotifyChannel)

	if *replayDryRun {
		runReplayDryRun(context.Background(), storage)
		return
	}

	tokenCache := buildTokenCache(cfg)
	strategy := buildStrategy(cfg)

	transport, err := kafka.NewTransport(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaTopicPartitions, cfg.KafkaTopicReplicationFactor)
	if err != nil {
		slog.Error("kafka transport init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer transport.Close()

	svc := outbox.New(writer, tokenCache, strategy, logger, buildRuleOptions(cfg)...)

	proc := processor.New(storage, transport, cfg.BatchSize, cfg.LockTimeout(), logger, metrics)
	collector := gc.New(storage, cfg.Retention(), logger, metrics)
	mgr := manager.New(proc, collector, storage, cfg.NotifyChannel, cfg.PollInterval(), cfg.GCInterval(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	router := buildRouter(cfg, pool, registry, httpserver.NewServer(svc), logger)
	instrumentedRouter := otelhttp.NewHandler(router, "outbox.http")
	httpServer := &http.Server{Addr: ":" + strconv.Itoa(cfg.MetricsPort), Handler: instrumentedRouter}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin http server error", slog.Any("error", err))
		}
	}()

	done := make(chan struct{})
	go func() {
		mgr.Run(ctx)
		close(done)
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received, draining in-flight work")
	mgr.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	select {
	case <-done:
		slog.Info("worker stopped cleanly")
	case <-shutdownCtx.Done():
		slog.Warn("worker shutdown timed out")
	}
}

// runReplayDryRun lists every Pending/Processing row without claiming any
// of them, so an operator can inspect what the drainer would pick up next
// without affecting locked_until or status.
func runReplayDryRun(ctx context.Context, storage domain.Storage) {
	events, err := storage.FetchUnprocessed(ctx)
	if err != nil {
		slog.Error("replay dry-run failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("replay dry-run", slog.Int("unprocessed", len(events)))
	for _, e := range events {
		slog.Info("unprocessed event",
			slog.String("id", e.ID.String()),
			slog.String("event_type", e.EventType),
			slog.String("status", string(e.Status)),
			slog.Time("locked_until", e.LockedUntil),
		)
	}
}

func buildTokenCache(cfg config.Config) domain.TokenCache {
	if cfg.IdempotencyStrategy == "none" {
		return outboxredis.NoOpCache{}
	}
	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("redis url parse failed, falling back to no-op token cache", slog.Any("error", err))
		return outboxredis.NoOpCache{}
	}
	client := goredis.NewClient(opts)
	return outboxredis.NewTokenCache(client, cfg.TokenCacheKeyPrefix, cfg.TokenCacheTTL, cfg.TokenCacheLocalCapacity)
}

func buildStrategy(cfg config.Config) idempotency.Strategy {
	switch cfg.IdempotencyStrategy {
	case "provided":
		return idempotency.Provided{}
	case "uuid":
		return idempotency.UUID{}
	case "hash_payload":
		return idempotency.HashPayload{}
	default:
		return idempotency.None{}
	}
}

// buildRuleOptions loads the optional per-event-type idempotency rule
// table and returns it as an outbox.Option, or nil when unconfigured.
func buildRuleOptions(cfg config.Config) []outbox.Option {
	if cfg.IdempotencyRulesPath == "" {
		return nil
	}
	rules, err := config.LoadIdempotencyRules(cfg.IdempotencyRulesPath)
	if err != nil {
		slog.Warn("idempotency rules not loaded, using global strategy only", slog.Any("error", err))
		return nil
	}
	byType := make(map[string]idempotency.Strategy, len(rules))
	for _, r := range rules {
		byType[r.EventType] = idempotency.FromName(r.Strategy)
	}
	return []outbox.Option{outbox.WithEventTypeRules(byType)}
}

func buildRouter(cfg config.Config, pool *pgxpool.Pool, registry *prometheus.Registry, srv *httpserver.Server, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: parseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Group(func(er chi.Router) {
		er.Use(httprate.LimitByIP(cfg.EventsRateLimitPerMin, time.Minute))
		er.Post("/v1/events", srv.AddEventHandler())
	})
	return r
}

// parseOrigins splits a comma-separated origin allow-list, defaulting to
// allow-all when unset.
func parseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// connectWithRetry dials the database pool with an exponential backoff,
// since the worker may start before Postgres finishes accepting
// connections in a freshly orchestrated environment.
func connectWithRetry(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	expo := backoff.NewExponentialBackOff()
	expo.MaxElapsedTime = 30 * time.Second
	bo := backoff.WithContext(expo, ctx)

	op := func() error {
		p, err := pgadapter.NewPool(ctx, dsn)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	}
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return pool, nil
}

package observability

import (
	"log/slog"
	"os"

	"github.com/outboxkit/outboxkit/internal/config"
)

// SetupLogger builds the process-wide slog logger: JSON handler, level
// dropped to Debug in dev (Info otherwise), and service/env attributes attached to
// every record so log aggregation can filter by deployment.
func SetupLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.IsDev() {
		level = slog.LevelDebug
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
	slog.SetDefault(logger)
	return logger
}

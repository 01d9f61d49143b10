package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outboxkit/outboxkit/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 7, cfg.RetentionDays)
	assert.Equal(t, 3600, cfg.GCIntervalSecs)
	assert.Equal(t, 10, cfg.PollIntervalSecs)
	assert.Equal(t, 5, cfg.LockTimeoutMins)
	assert.Equal(t, "outbox_event", cfg.NotifyChannel)
	assert.Equal(t, "none", cfg.IdempotencyStrategy)
	assert.Equal(t, 24*time.Hour, cfg.TokenCacheTTL)
	assert.True(t, cfg.IsDev())
}

func TestLoad_RejectsZeroBatchSize(t *testing.T) {
	t.Setenv("OUTBOX_BATCH_SIZE", "0")
	_, err := config.Load()
	require.Error(t, err)
}

func TestDurationHelpers(t *testing.T) {
	cfg := config.Config{
		LockTimeoutMins:  5,
		PollIntervalSecs: 10,
		GCIntervalSecs:   3600,
		RetentionDays:    7,
	}
	assert.Equal(t, 5*time.Minute, cfg.LockTimeout())
	assert.Equal(t, 10*time.Second, cfg.PollInterval())
	assert.Equal(t, time.Hour, cfg.GCInterval())
	assert.Equal(t, 7*24*time.Hour, cfg.Retention())
}

func TestLoadIdempotencyRules_ParsesRuleTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	body := "rules:\n  - event_type: order.created\n    strategy: hash_payload\n  - event_type: payment.settled\n    strategy: uuid\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	rules, err := config.LoadIdempotencyRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "order.created", rules[0].EventType)
	assert.Equal(t, "hash_payload", rules[0].Strategy)
}

func TestLoadIdempotencyRules_MissingFileErrors(t *testing.T) {
	_, err := config.LoadIdempotencyRules(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

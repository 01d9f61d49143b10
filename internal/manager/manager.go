// Package manager owns the outbox's long-lived background tasks: the
// drainer that repeatedly processes pending events and the garbage
// collector that reclaims Sent rows, both exiting cleanly on shutdown.
package manager

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/outboxkit/outboxkit/internal/domain"
)

// errShutdown signals waitForWakeup observed shutdown rather than a real
// notification-subscription error.
var errShutdown = errors.New("manager shutdown")

const (
	// drainCooldown is how long the drainer task sleeps after a
	// process_pending_events error before returning to Idle.
	drainCooldown = time.Second
	// notifyCooldown is how long the drainer sleeps after a failed
	// wait_for_notification subscription attempt before retrying.
	notifyCooldown = 5 * time.Second
)

// processor is the subset of processor.Processor the manager depends on.
type processor interface {
	ProcessPendingEvents(ctx domain.Context) (int, error)
}

// collector is the subset of gc.Collector the manager depends on.
type collector interface {
	CollectGarbage(ctx domain.Context) (int64, error)
}

// Manager runs the drainer task and the GC task until shutdown, and
// reports run() completion only once the drainer task has exited.
type Manager struct {
	processor     processor
	collector     collector
	storage       domain.Storage
	notifyChannel string
	pollInterval  time.Duration
	gcInterval    time.Duration
	log           *slog.Logger

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New constructs a Manager. storage is used directly (rather than through
// processor) only for wait_for_notification, since that call is the
// drainer's own wake-up mechanism rather than part of a process cycle.
func New(proc processor, coll collector, storage domain.Storage, notifyChannel string, pollInterval, gcInterval time.Duration, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		processor:     proc,
		collector:     coll,
		storage:       storage,
		notifyChannel: notifyChannel,
		pollInterval:  pollInterval,
		gcInterval:    gcInterval,
		log:           log,
		shutdownCh:    make(chan struct{}),
	}
}

// Shutdown signals every running task to stop at its next suspension
// point. Safe to call more than once and from any goroutine.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() { close(m.shutdownCh) })
}

// Run starts the GC task in the background and blocks on the drainer task,
// returning only after shutdown and the drainer's exit.
func (m *Manager) Run(ctx domain.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.runGC(ctx)
	}()

	m.runDrainer(ctx)
	wg.Wait()
}

// runDrainer implements the Idle/Draining/CooldownBrief state machine:
// wait for a notification, a poll tick, or shutdown; on wake, drain until
// process_pending_events returns 0 or errors, and return to Idle.
func (m *Manager) runDrainer(ctx domain.Context) {
	for {
		woke, err := m.waitForWakeup(ctx)
		if err != nil {
			if errors.Is(err, errShutdown) {
				return
			}
			m.log.WarnContext(ctx, "drainer notification wait failed, retrying after cooldown", slog.Any("error", err))
			if !m.sleepOrShutdown(ctx, notifyCooldown) {
				return
			}
			continue
		}
		if !woke {
			return
		}

		if !m.drain(ctx) {
			return
		}
	}
}

// waitForWakeup blocks until a notification arrives, the poll interval
// elapses, or shutdown is signaled. It returns (true, nil) on a real
// wake-up, (false, errShutdown) on shutdown or ctx cancellation, or another
// non-nil error when the notification subscription itself failed.
func (m *Manager) waitForWakeup(ctx domain.Context) (bool, error) {
	type result struct {
		err error
	}
	notifyDone := make(chan result, 1)
	notifyCtx, cancel := contextWithDone(ctx, m.shutdownCh)
	defer cancel()

	go func() {
		notifyDone <- result{err: m.storage.WaitForNotification(notifyCtx, m.notifyChannel)}
	}()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	select {
	case <-m.shutdownCh:
		return false, errShutdown
	case <-ctx.Done():
		return false, errShutdown
	case <-ticker.C:
		return true, nil
	case r := <-notifyDone:
		if r.err != nil {
			return false, r.err
		}
		return true, nil
	}
}

// drain repeats process_pending_events until it returns 0 (caught up,
// return to Idle) or errors (cooldown, return to Idle). It returns false
// when shutdown was observed and the drainer task must exit entirely.
func (m *Manager) drain(ctx domain.Context) bool {
	for {
		select {
		case <-m.shutdownCh:
			return false
		case <-ctx.Done():
			return false
		default:
		}

		n, err := m.processor.ProcessPendingEvents(ctx)
		if err != nil {
			m.log.WarnContext(ctx, "process pending events failed, cooling down", slog.Any("error", err))
			return m.sleepOrShutdown(ctx, drainCooldown)
		}
		if n == 0 {
			return true
		}
		m.log.InfoContext(ctx, "drained pending events", slog.Int("count", n))
	}
}

// runGC ticks the garbage collector until shutdown.
func (m *Manager) runGC(ctx domain.Context) {
	ticker := time.NewTicker(m.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.shutdownCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.collector.CollectGarbage(ctx); err != nil {
				m.log.ErrorContext(ctx, "garbage collection failed", slog.Any("error", err))
			}
		}
	}
}

// contextWithDone derives a child context that is also canceled when done
// fires, so a goroutine blocked on a storage call observes shutdown
// without waiting on ctx alone.
func contextWithDone(parent domain.Context, done <-chan struct{}) (domain.Context, context.CancelFunc) {
	child, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-done:
			cancel()
		case <-child.Done():
		}
	}()
	return child, cancel
}

// sleepOrShutdown sleeps for d, returning false if shutdown or ctx
// cancellation interrupted the sleep.
func (m *Manager) sleepOrShutdown(ctx domain.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-m.shutdownCh:
		return false
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

package manager_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/outboxkit/outboxkit/internal/domain"
	"github.com/outboxkit/outboxkit/internal/manager"
)

type fakeProcessor struct {
	calls   int32
	batches []int
	err     error
}

func (f *fakeProcessor) ProcessPendingEvents(domain.Context) (int, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return 0, f.err
	}
	idx := int(atomic.LoadInt32(&f.calls)) - 1
	if idx < len(f.batches) {
		return f.batches[idx], nil
	}
	return 0, nil
}

type fakeCollector struct {
	calls int32
}

func (f *fakeCollector) CollectGarbage(domain.Context) (int64, error) {
	atomic.AddInt32(&f.calls, 1)
	return 0, nil
}

type fakeStorage struct {
	notifyDelay time.Duration
}

func (f *fakeStorage) FetchNextToProcess(domain.Context, int, time.Duration) ([]domain.Event, error) {
	return nil, nil
}
func (f *fakeStorage) UpdatesStatus(domain.Context, []uuid.UUID, domain.EventStatus) error {
	return nil
}
func (f *fakeStorage) DeleteGarbage(domain.Context, time.Duration) (int64, error) { return 0, nil }
func (f *fakeStorage) WaitForNotification(ctx domain.Context, _ string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(f.notifyDelay):
		return nil
	}
}
func (f *fakeStorage) FetchUnprocessed(domain.Context) ([]domain.Event, error) { return nil, nil }

func TestManager_DrainsUntilZeroThenStopsOnShutdown(t *testing.T) {
	t.Parallel()
	proc := &fakeProcessor{batches: []int{3, 2}}
	coll := &fakeCollector{}
	storage := &fakeStorage{notifyDelay: time.Hour}

	m := manager.New(proc, coll, storage, "outbox_event", 5*time.Millisecond, time.Hour, nil)

	done := make(chan struct{})
	go func() {
		m.Run(context.Background())
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	m.Shutdown()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not shut down in time")
	}

	assert.GreaterOrEqual(t, atomic.LoadInt32(&proc.calls), int32(3))
}

func TestManager_GCTicksIndependently(t *testing.T) {
	t.Parallel()
	proc := &fakeProcessor{}
	coll := &fakeCollector{}
	storage := &fakeStorage{notifyDelay: time.Hour}

	m := manager.New(proc, coll, storage, "outbox_event", time.Hour, 5*time.Millisecond, nil)

	done := make(chan struct{})
	go func() {
		m.Run(context.Background())
		close(done)
	}()

	time.Sleep(40 * time.Millisecond)
	m.Shutdown()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not shut down in time")
	}

	assert.GreaterOrEqual(t, atomic.LoadInt32(&coll.calls), int32(1))
}

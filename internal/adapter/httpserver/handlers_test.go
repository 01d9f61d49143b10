package httpserver_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outboxkit/outboxkit/internal/adapter/httpserver"
	"github.com/outboxkit/outboxkit/internal/domain"
	"github.com/outboxkit/outboxkit/internal/idempotency"
	"github.com/outboxkit/outboxkit/internal/service/outbox"
)

type fakeWriter struct {
	inserted int
	err      error
}

func (f *fakeWriter) InsertEvent(domain.Context, domain.Event) error {
	if f.err != nil {
		return f.err
	}
	f.inserted++
	return nil
}

type fakeCache struct{}

func (fakeCache) TryReserve(domain.Context, string) (bool, error) { return true, nil }

func newRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestAddEventHandler_AcceptsValidRequest(t *testing.T) {
	t.Parallel()
	w := &fakeWriter{}
	svc := outbox.New(w, fakeCache{}, idempotency.None{}, nil)
	srv := httpserver.NewServer(svc)

	rec := httptest.NewRecorder()
	srv.AddEventHandler()(rec, newRequest(t, `{"event_type":"order.created","payload":{"id":1}}`))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, w.inserted)
}

func TestAddEventHandler_RejectsMissingEventType(t *testing.T) {
	t.Parallel()
	svc := outbox.New(&fakeWriter{}, fakeCache{}, idempotency.None{}, nil)
	srv := httpserver.NewServer(svc)

	rec := httptest.NewRecorder()
	srv.AddEventHandler()(rec, newRequest(t, `{"payload":{"id":1}}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddEventHandler_DuplicateEventReturnsConflict(t *testing.T) {
	t.Parallel()
	w := &fakeWriter{err: domain.ErrDuplicateEvent}
	svc := outbox.New(w, fakeCache{}, idempotency.None{}, nil)
	srv := httpserver.NewServer(svc)

	rec := httptest.NewRecorder()
	srv.AddEventHandler()(rec, newRequest(t, `{"event_type":"order.created","payload":{"id":1}}`))

	require.Equal(t, http.StatusConflict, rec.Code)
}

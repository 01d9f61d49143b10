package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/outboxkit/outboxkit/internal/domain"
	"github.com/outboxkit/outboxkit/internal/observability"
)

type fakeProducer struct {
	err error
}

func (f *fakeProducer) ProduceSync(_ domain.Context, rs ...*kgo.Record) kgo.ProduceResults {
	results := make(kgo.ProduceResults, len(rs))
	for i, r := range rs {
		results[i] = kgo.ProduceResult{Record: r, Err: f.err}
	}
	return results
}

func (f *fakeProducer) Close() {}

func TestPublish_SuccessClosesCircuit(t *testing.T) {
	t.Parallel()
	transport := newTransport(&fakeProducer{}, "outbox-events")

	e := domain.NewEvent("order.created", []byte(`{}`), nil)
	require.NoError(t, transport.Publish(context.Background(), e))
	assert.Equal(t, observability.StateClosed, transport.breaker.GetState())
}

func TestPublish_FailureTripsBreakerAfterThreshold(t *testing.T) {
	t.Parallel()
	boom := errors.New("broker unreachable")
	transport := newTransport(&fakeProducer{err: boom}, "outbox-events")
	e := domain.NewEvent("order.created", []byte(`{}`), nil)

	for i := 0; i < breakerMaxFailures; i++ {
		err := transport.Publish(context.Background(), e)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInfrastructure)
	}

	// The breaker is now open; Publish fails fast without reaching the
	// producer at all.
	err := transport.Publish(context.Background(), e)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInfrastructure)
}

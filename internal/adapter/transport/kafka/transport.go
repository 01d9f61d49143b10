// Package kafka publishes outbox events to a Kafka or Redpanda cluster
// over franz-go, guarded by a circuit breaker so a stalled broker doesn't
// let every drainer worker block on dial timeouts simultaneously.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/outboxkit/outboxkit/internal/domain"
	"github.com/outboxkit/outboxkit/internal/observability"
)

// topicAlreadyExistsErrorCode is the Kafka protocol error code returned
// when a CreateTopics request names a topic that is already there.
// https://kafka.apache.org/protocol#protocol_error_codes
const topicAlreadyExistsErrorCode = 36

// breakerMaxFailures/breakerTimeout/breakerSuccessThreshold configure the
// publish circuit breaker: five consecutive failures trips the breaker and
// it stays open for 30s. With a 0.5 threshold the first successful trial
// request in half-open closes it again; a failed one reopens it.
const (
	breakerMaxFailures      = 5
	breakerTimeout          = 30 * time.Second
	breakerSuccessThreshold = 0.5
)

// producerClient is the subset of *kgo.Client Transport depends on, so
// tests can substitute a fake without dialing a broker.
type producerClient interface {
	ProduceSync(ctx domain.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Transport implements domain.Transport over a single long-lived kgo
// client. EventType is used as the record key so same-type events land on
// the same partition and preserve per-type ordering.
type Transport struct {
	client  producerClient
	topic   string
	breaker *observability.CircuitBreaker
}

// NewTransport dials brokers and returns a Transport that publishes to
// topic, creating it first with partitions/replicationFactor if it does
// not already exist.
func NewTransport(brokers []string, topic string, partitions int32, replicationFactor int16) (*Transport, error) {
	tracer := kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))
	kotelOpts := kotel.NewKotel(kotel.WithTracer(tracer))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.WithHooks(kotelOpts.Hooks()...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("op=kafka.new_transport: %w: %v", domain.ErrInfrastructure, err)
	}

	if err := ensureTopic(context.Background(), client, topic, partitions, replicationFactor); err != nil {
		client.Close()
		return nil, fmt.Errorf("op=kafka.new_transport_ensure_topic: %w: %v", domain.ErrInfrastructure, err)
	}

	return newTransport(client, topic), nil
}

// ensureTopic issues a CreateTopics admin request for topic, treating
// "already exists" as success so start-up is idempotent across workers
// racing to create the same topic.
func ensureTopic(ctx domain.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) error {
	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30000

	topicReq := kmsg.NewCreateTopicsRequestTopic()
	topicReq.Topic = topic
	topicReq.NumPartitions = partitions
	topicReq.ReplicationFactor = replicationFactor
	req.Topics = append(req.Topics, topicReq)

	resp, err := client.Request(ctx, &req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	createResp, ok := resp.(*kmsg.CreateTopicsResponse)
	if !ok {
		return fmt.Errorf("unexpected response type %T", resp)
	}

	for _, t := range createResp.Topics {
		if t.ErrorCode == 0 {
			continue
		}
		if t.ErrorCode == topicAlreadyExistsErrorCode {
			slog.Info("kafka topic already exists", slog.String("topic", t.Topic))
			continue
		}
		msg := ""
		if t.ErrorMessage != nil {
			msg = *t.ErrorMessage
		}
		return fmt.Errorf("create topic %s: %s (code %d)", t.Topic, msg, t.ErrorCode)
	}
	return nil
}

func newTransport(client producerClient, topic string) *Transport {
	return &Transport{
		client:  client,
		topic:   topic,
		breaker: observability.NewCircuitBreaker(breakerMaxFailures, breakerTimeout, breakerSuccessThreshold),
	}
}

// Publish synchronously produces one record and waits for the broker's
// acknowledgement. A tripped circuit breaker fails fast without touching
// the network.
func (t *Transport) Publish(ctx domain.Context, e domain.Event) error {
	if !t.breaker.CanExecute() {
		return fmt.Errorf("op=kafka.publish: %w: circuit breaker open", domain.ErrInfrastructure)
	}

	record := &kgo.Record{
		Topic: t.topic,
		Key:   []byte(e.EventType),
		Value: e.Payload,
	}

	results := t.client.ProduceSync(ctx, record)
	if err := results.FirstErr(); err != nil {
		t.breaker.RecordFailure()
		return fmt.Errorf("op=kafka.publish: %w: %v", domain.ErrInfrastructure, err)
	}
	t.breaker.RecordSuccess()
	return nil
}

// Close flushes in-flight records and releases the client's connections.
func (t *Transport) Close() {
	t.client.Close()
}

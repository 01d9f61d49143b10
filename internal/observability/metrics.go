package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors the worker exposes on /metrics.
// Most are counters: the drainer and GC loops only ever increase these
// values, so a gauge would misrepresent the semantics. EventsReclaimed is
// also a counter for the same reason; it tracks how often a claim picked
// up a row whose prior lock had already expired, the signal an operator
// watches to notice a stuck consumer without the engine needing its own
// Failed status or retry counter.
type Metrics struct {
	EventsClaimed   prometheus.Counter
	EventsPublished prometheus.Counter
	EventsSent      prometheus.Counter
	EventsFailed    prometheus.Counter
	EventsDeleted   prometheus.Counter
	EventsReclaimed prometheus.Counter
}

// NewMetrics constructs and registers the outbox metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "outboxkit",
			Name:      "events_claimed_total",
			Help:      "Total number of event rows claimed by fetch_next_to_process.",
		}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "outboxkit",
			Name:      "events_published_total",
			Help:      "Total number of transport.publish calls that succeeded.",
		}),
		EventsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "outboxkit",
			Name:      "events_sent_total",
			Help:      "Total number of event rows transitioned to Sent.",
		}),
		EventsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "outboxkit",
			Name:      "events_publish_failed_total",
			Help:      "Total number of transport.publish calls that failed and were left for lock-expiry retry.",
		}),
		EventsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "outboxkit",
			Name:      "events_gc_deleted_total",
			Help:      "Total number of Sent rows removed by the garbage collector.",
		}),
		EventsReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "outboxkit",
			Name:      "events_reclaimed_total",
			Help:      "Total number of claims that picked up a row whose previous lock had already expired.",
		}),
	}

	reg.MustRegister(
		m.EventsClaimed,
		m.EventsPublished,
		m.EventsSent,
		m.EventsFailed,
		m.EventsDeleted,
		m.EventsReclaimed,
	)
	return m
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	eventsDecoded  *prometheus.CounterVec
	recordsEmitted *prometheus.CounterVec
	recordsSkipped *prometheus.CounterVec
	writeIntents   *prometheus.CounterVec
	applyFailures  prometheus.Counter
	deadLettered   *prometheus.CounterVec
}

// New creates the counters and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdc_router",
			Name:      "events_decoded_total",
			Help:      "Change events decoded, by operation.",
		}, []string{"op"}),
		recordsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdc_router",
			Name:      "records_emitted_total",
			Help:      "Outgoing records published to the change log, by routing target.",
		}, []string{"target"}),
		recordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdc_router",
			Name:      "records_skipped_total",
			Help:      "Records skipped without a write, by reason.",
		}, []string{"reason"}),
		writeIntents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdc_router",
			Name:      "write_intents_total",
			Help:      "Write intents produced by the reconciler, by kind.",
		}, []string{"kind"}),
		applyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cdc_router",
			Name:      "apply_failures_total",
			Help:      "Write intents the document store failed to apply.",
		}),
		deadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdc_router",
			Name:      "dead_lettered_total",
			Help:      "Records sent to the dead-letter destination, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.eventsDecoded,
		m.recordsEmitted,
		m.recordsSkipped,
		m.writeIntents,
		m.applyFailures,
		m.deadLettered,
	)
	return m
}

func (m *Metrics) EventDecoded(op string) {
	if m == nil {
		return
	}
	m.eventsDecoded.WithLabelValues(op).Inc()
}

func (m *Metrics) RecordEmitted(target string) {
	if m == nil {
		return
	}
	m.recordsEmitted.WithLabelValues(target).Inc()
}

func (m *Metrics) RecordSkipped(reason string) {
	if m == nil {
		return
	}
	m.recordsSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) WriteIntent(kind string) {
	if m == nil {
		return
	}
	m.writeIntents.WithLabelValues(kind).Inc()
}

func (m *Metrics) ApplyFailed() {
	if m == nil {
		return
	}
	m.applyFailures.Inc()
}

func (m *Metrics) DeadLettered(reason string) {
	if m == nil {
		return
	}
	m.deadLettered.WithLabelValues(reason).Inc()
}

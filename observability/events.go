package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type EventMetricsRegistry struct {
	emitted   *prometheus.CounterVec
	delivered *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *EventMetricsRegistry
)

// Events returns the metrics registry tracking ledger notifications.
func Events() *EventMetricsRegistry {
	eventMetricsOnce.Do(func() {
		eventRegistry = &EventMetricsRegistry{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "xfi",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of ledger notifications segmented by event type.",
			}, []string{"type"}),
			delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "xfi",
				Subsystem: "events",
				Name:      "sink_deliveries_total",
				Help:      "Count of notification deliveries to downstream sinks by outcome.",
			}, []string{"sink", "outcome"}),
		}
		prometheus.MustRegister(eventRegistry.emitted, eventRegistry.delivered)
	})
	return eventRegistry
}

// RecordEmitted increments the counter for the supplied event type.
func (m *EventMetricsRegistry) RecordEmitted(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(eventType)
	if normalized == "" {
		normalized = "unknown"
	}
	m.emitted.WithLabelValues(normalized).Inc()
}

// RecordDelivery tracks whether a sink (journal, publisher, stream) accepted
// an event.
func (m *EventMetricsRegistry) RecordDelivery(sink string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.delivered.WithLabelValues(labelOr(sink, "unknown"), outcome).Inc()
}

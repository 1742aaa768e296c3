package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	published *prometheus.CounterVec
	dropped   *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking published domain events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			published: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "optionsvault",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Count of committed events segmented by module and type.",
			}, []string{"module", "type"}),
			dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "optionsvault",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Count of events discarded because their operation reverted.",
			}, []string{"module"}),
		}
		prometheus.MustRegister(eventRegistry.published, eventRegistry.dropped)
	})
	return eventRegistry
}

// RecordPublished increments the counter for the committed event type. The
// module label is the prefix before the first dot ("vault.deposit" -> vault).
func (m *eventMetrics) RecordPublished(eventType string) {
	if m == nil {
		return
	}
	module, kind := splitEventType(eventType)
	m.published.WithLabelValues(module, kind).Inc()
}

// RecordDropped counts an event discarded by a revert.
func (m *eventMetrics) RecordDropped(eventType string) {
	if m == nil {
		return
	}
	module, _ := splitEventType(eventType)
	m.dropped.WithLabelValues(module).Inc()
}

func splitEventType(eventType string) (string, string) {
	trimmed := strings.TrimSpace(eventType)
	if trimmed == "" {
		return "unknown", "unknown"
	}
	module, kind, found := strings.Cut(trimmed, ".")
	if !found {
		return "unknown", trimmed
	}
	return module, kind
}

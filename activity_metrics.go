package account

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsActivitySink counts activity events by type.
type MetricsActivitySink struct {
	events *prometheus.CounterVec
}

// NewMetricsActivitySink registers the counter on reg. A nil reg uses the
// default registerer.
func NewMetricsActivitySink(reg prometheus.Registerer) (*MetricsActivitySink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "account",
		Name:      "lifecycle_events_total",
		Help:      "Account lifecycle events by type.",
	}, []string{"event_type"})

	if err := reg.Register(events); err != nil {
		return nil, err
	}
	return &MetricsActivitySink{events: events}, nil
}

func (m *MetricsActivitySink) Record(_ context.Context, event ActivityEvent) error {
	m.events.WithLabelValues(string(event.EventType)).Inc()
	return nil
}

// Counter exposes the underlying vector, mostly for tests.
func (m *MetricsActivitySink) Counter() *prometheus.CounterVec {
	return m.events
}

package feed

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts per-day fetch outcomes and emitted events. A nil *Metrics is
// a valid no-op.
type Metrics struct {
	days   *prometheus.CounterVec
	events *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		days: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "icalbridge",
			Subsystem: "timetable",
			Name:      "days_total",
			Help:      "Timetable day fetches by result.",
		}, []string{"result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "icalbridge",
			Name:      "calendar_events_total",
			Help:      "Events written to calendars by feed.",
		}, []string{"feed"}),
	}
	for _, c := range []prometheus.Collector{m.days, m.events} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeDay(d DayResult) {
	if m == nil {
		return
	}
	result := "fetched"
	if d.Skipped() {
		result = "skipped"
	}
	m.days.WithLabelValues(result).Inc()
}

func (m *Metrics) observeEvents(feed string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.events.WithLabelValues(feed).Add(float64(n))
}

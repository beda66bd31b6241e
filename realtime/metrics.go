package realtime

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts routed events and transport connections. A nil *Metrics
// records nothing.
type Metrics struct {
	events   *prometheus.CounterVec
	connects *prometheus.CounterVec
}

// NewMetrics creates the realtime counters and registers them with reg when
// it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boardsync",
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Push channel events, by name and outcome.",
		}, []string{"event", "outcome"}),
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boardsync",
			Subsystem: "realtime",
			Name:      "connects_total",
			Help:      "Push channel connections, by transport and kind.",
		}, []string{"transport", "kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.events, m.connects)
	}
	return m
}

func (m *Metrics) observe(event, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) connected(transport string, reconnect bool) {
	if m == nil {
		return
	}
	kind := "initial"
	if reconnect {
		kind = "reconnect"
	}
	m.connects.WithLabelValues(transport, kind).Inc()
}

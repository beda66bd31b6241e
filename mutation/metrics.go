package mutation

import "github.com/prometheus/client_golang/prometheus"

const (
	resultOK          = "ok"
	resultError       = "error"
	resultSuperseded  = "superseded"
	resultScopeClosed = "scope_closed"
)

// Metrics counts settled mutations. A nil *Metrics records nothing.
type Metrics struct {
	settled   *prometheus.CounterVec
	rollbacks *prometheus.CounterVec
}

// NewMetrics creates the mutation counters and registers them with reg when
// it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		settled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boardsync",
			Subsystem: "mutation",
			Name:      "settled_total",
			Help:      "Mutations settled, by operation and result.",
		}, []string{"op", "result"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boardsync",
			Subsystem: "mutation",
			Name:      "rollbacks_total",
			Help:      "Optimistic updates reverted after a failed request.",
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.settled, m.rollbacks)
	}
	return m
}

func (m *Metrics) observe(op, result string) {
	if m == nil {
		return
	}
	m.settled.WithLabelValues(op, result).Inc()
}

func (m *Metrics) rollback(op string) {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues(op).Inc()
}

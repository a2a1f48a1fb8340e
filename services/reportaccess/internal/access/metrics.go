package access

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts access decisions and store traffic.
type Metrics struct {
	decisions   *prometheus.CounterVec
	recorded    prometheus.Counter
	storeErrors *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. A nil reg keeps them unregistered,
// which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reportaccess",
			Name:      "decisions_total",
			Help:      "Access decisions by outcome and reason.",
		}, []string{"allowed", "reason"}),
		recorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reportaccess",
			Name:      "recorded_access_total",
			Help:      "Successful access counter increments.",
		}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reportaccess",
			Name:      "store_errors_total",
			Help:      "Store failures by operation.",
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.decisions, m.recorded, m.storeErrors)
	}
	return m
}

func (m *Metrics) observeDecision(d Decision) {
	if m == nil {
		return
	}
	allowed := "false"
	if d.Allowed {
		allowed = "true"
	}
	reason := string(d.Reason)
	if reason == "" {
		reason = "NONE"
	}
	m.decisions.WithLabelValues(allowed, reason).Inc()
}

func (m *Metrics) observeRecorded() {
	if m == nil {
		return
	}
	m.recorded.Inc()
}

func (m *Metrics) observeStoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}

package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks outbox relay throughput. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Published    prometheus.Counter
	Failures     prometheus.Counter
	Skipped      prometheus.Counter
	BreakerState prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Published: f.NewCounter(prometheus.CounterOpts{
			Name: "anchorage_audit_outbox_published_total",
			Help: "Audit events relayed from the outbox to the broker",
		}),
		Failures: f.NewCounter(prometheus.CounterOpts{
			Name: "anchorage_audit_outbox_failures_total",
			Help: "Outbox publish attempts that failed",
		}),
		Skipped: f.NewCounter(prometheus.CounterOpts{
			Name: "anchorage_audit_outbox_skipped_total",
			Help: "Ticks skipped because the breaker was open",
		}),
		BreakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "anchorage_audit_outbox_breaker_open",
			Help: "1 while the outbox breaker is open, 0 otherwise",
		}),
	}
}

func (m *Metrics) addPublished(n int) {
	if m == nil {
		return
	}
	m.Published.Add(float64(n))
}

func (m *Metrics) incFailures() {
	if m == nil {
		return
	}
	m.Failures.Inc()
}

func (m *Metrics) incSkipped() {
	if m == nil {
		return
	}
	m.Skipped.Inc()
}

func (m *Metrics) setBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerState.Set(1)
	} else {
		m.BreakerState.Set(0)
	}
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for freeze and mint attempts.
const (
	OutcomeSuccess    = "success"
	OutcomeIneligible = "ineligible"
	OutcomeConflict   = "conflict"
	OutcomeFailed     = "failed"
	OutcomeRecovered  = "recovered"
)

// Metrics provides observability for the anchoring module.
// All methods are safe to call on a nil receiver so services can run without
// a registry in tests.
type Metrics struct {
	Freezes          *prometheus.CounterVec
	Mints            *prometheus.CounterVec
	Compensations    prometheus.Counter
	ReconcileActions *prometheus.CounterVec
	LedgerDuration   *prometheus.HistogramVec
	MintDuration     prometheus.Histogram
}

// New registers the anchoring metrics with reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Freezes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "anchorage_freezes_total",
			Help: "Freeze attempts by outcome",
		}, []string{"entity_type", "outcome"}),
		Mints: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "anchorage_mints_total",
			Help: "Mint attempts by outcome",
		}, []string{"entity_type", "outcome"}),
		Compensations: factory.NewCounter(prometheus.CounterOpts{
			Name: "anchorage_mint_compensations_total",
			Help: "Entities returned from minting to frozen_offchain after a ledger failure",
		}),
		ReconcileActions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "anchorage_reconcile_actions_total",
			Help: "Reconciliation sweep results per entity",
		}, []string{"action"}),
		LedgerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "anchorage_ledger_call_duration_seconds",
			Help:    "Duration of ledger client calls",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 30, 60, 120, 300},
		}, []string{"call"}),
		MintDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "anchorage_mint_duration_seconds",
			Help:    "End to end duration of a mint including confirmation",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
	}
}

func (m *Metrics) IncrementFreeze(entityType, outcome string) {
	if m == nil {
		return
	}
	m.Freezes.WithLabelValues(entityType, outcome).Inc()
}

func (m *Metrics) IncrementMint(entityType, outcome string) {
	if m == nil {
		return
	}
	m.Mints.WithLabelValues(entityType, outcome).Inc()
}

func (m *Metrics) IncrementCompensation() {
	if m == nil {
		return
	}
	m.Compensations.Inc()
}

// IncrementReconcile records one reconciled entity. action is one of
// recovered, reverted, pending or failed.
func (m *Metrics) IncrementReconcile(action string) {
	if m == nil {
		return
	}
	m.ReconcileActions.WithLabelValues(action).Inc()
}

// ObserveLedger records the duration of a ledger call.
// Call with time.Now() at the start of the call.
func (m *Metrics) ObserveLedger(call string, start time.Time) {
	if m == nil {
		return
	}
	m.LedgerDuration.WithLabelValues(call).Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveMint(start time.Time) {
	if m == nil {
		return
	}
	m.MintDuration.Observe(time.Since(start).Seconds())
}

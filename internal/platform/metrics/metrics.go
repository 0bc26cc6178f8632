package metrics

import (
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds the process-wide Prometheus registry and the metrics that are
// not owned by a domain package.
type Registry struct {
	*prometheus.Registry

	BuildInfo        *prometheus.GaugeVec
	ReconcileRuns    *prometheus.CounterVec
	ReconcileBacklog prometheus.Gauge
}

// New creates a registry with Go runtime and process collectors registered.
func New(version string) *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	r := &Registry{
		Registry: reg,
		BuildInfo: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "anchorage_build_info",
			Help: "Build information, value is always 1",
		}, []string{"version", "go_version"}),
		ReconcileRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "anchorage_reconcile_runs_total",
			Help: "Reconciliation sweeps run by the scheduler, by result",
		}, []string{"result"}),
		ReconcileBacklog: f.NewGauge(prometheus.GaugeOpts{
			Name: "anchorage_reconcile_backlog",
			Help: "Entities left pending after the last reconciliation sweep",
		}),
	}

	goVersion := "unknown"
	if info, ok := debug.ReadBuildInfo(); ok {
		goVersion = info.GoVersion
	}
	r.BuildInfo.WithLabelValues(version, goVersion).Set(1)
	return r
}

// ObserveReconcile records the outcome of one scheduled sweep.
func (r *Registry) ObserveReconcile(pending int, err error) {
	if err != nil {
		r.ReconcileRuns.WithLabelValues("error").Inc()
		return
	}
	r.ReconcileRuns.WithLabelValues("ok").Inc()
	r.ReconcileBacklog.Set(float64(pending))
}

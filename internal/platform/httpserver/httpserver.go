package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"anchorage/internal/anchoring/models"
	"anchorage/internal/platform/middleware"
)

// New builds an HTTP server with sane defaults for this project.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       time.Minute,
	}
}

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

// Reconciler runs one reconciliation sweep on demand.
type Reconciler interface {
	Reconcile(ctx context.Context) (*models.ReconcileReport, error)
}

// OpsConfig wires the operational surface. Reconciler and Tokens are
// optional; without both the admin route is not mounted.
type OpsConfig struct {
	Gatherer   prometheus.Gatherer
	Checks     map[string]Check
	Reconciler Reconciler
	Tokens     *middleware.OperatorTokens
	Logger     *slog.Logger
}

// NewOpsRouter serves health, readiness, metrics and the admin reconcile hook.
func NewOpsRouter(cfg OpsConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID, middleware.RequestContext, chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readiness(cfg.Checks, logger))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))

	if cfg.Reconciler != nil && cfg.Tokens != nil {
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireOperator(cfg.Tokens, logger))
			r.Post("/reconcile", reconcileHandler(cfg.Reconciler, logger))
		})
	}
	return r
}

func readiness(checks map[string]Check, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.WarnContext(ctx, "readiness check failed", "check", name, "error", err)
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		writeJSON(w, status, results)
	}
}

type reconcileResponse struct {
	Scanned   int               `json:"scanned"`
	Recovered []string          `json:"recovered"`
	Reverted  []string          `json:"reverted"`
	Pending   []string          `json:"pending"`
	Failed    map[string]string `json:"failed"`
}

func reconcileHandler(rec Reconciler, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		report, err := rec.Reconcile(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "on-demand reconcile failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error":             "internal_error",
				"error_description": "reconciliation failed",
			})
			return
		}
		writeJSON(w, http.StatusOK, reconcileResponse{
			Scanned:   report.Scanned,
			Recovered: report.Recovered,
			Reverted:  report.Reverted,
			Pending:   report.Pending,
			Failed:    report.Failed,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

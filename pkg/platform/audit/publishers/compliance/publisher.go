// Package compliance provides a fail-closed audit publisher.
//
// Every anchoring transition writes its audit event through this publisher
// inside the same transaction as the state change. If the write fails the
// error is returned and the transition rolls back.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	audit "anchorage/pkg/platform/audit"
	"anchorage/pkg/requestcontext"
)

// Publisher validates and persists audit events synchronously.
type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// New wraps store. The store should be outbox-backed for guaranteed delivery.
func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Append fills defaults from ctx, validates the event and writes it.
func (p *Publisher) Append(ctx context.Context, event audit.Event) error {
	start := time.Now()

	if event.Action == "" {
		return errors.New("audit event requires an action")
	}
	if event.Subject == "" || event.SubjectType == "" {
		return fmt.Errorf("audit event %s requires a subject", event.Action)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.ActorID == "" {
		event.ActorID = requestcontext.Actor(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}

	if err := p.store.Append(ctx, event); err != nil {
		p.metrics.incFailures(event.Category)
		p.logger.ErrorContext(ctx, "audit persistence failed",
			"action", event.Action,
			"subject", event.Subject,
			"error", err,
		)
		return fmt.Errorf("audit persistence failed: %w", err)
	}
	p.metrics.observe(event.Category, time.Since(start))
	return nil
}

// Metrics counts emitted events per category. A nil *Metrics records nothing.
type Metrics struct {
	Emitted  *prometheus.CounterVec
	Failures *prometheus.CounterVec
	Duration prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Emitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "anchorage_audit_events_total",
			Help: "Audit events persisted, by category",
		}, []string{"category"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "anchorage_audit_persist_failures_total",
			Help: "Audit events that failed to persist, by category",
		}, []string{"category"}),
		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "anchorage_audit_persist_duration_seconds",
			Help:    "Time spent persisting an audit event",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) observe(category audit.EventCategory, d time.Duration) {
	if m == nil {
		return
	}
	m.Emitted.WithLabelValues(string(category)).Inc()
	m.Duration.Observe(d.Seconds())
}

func (m *Metrics) incFailures(category audit.EventCategory) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(string(category)).Inc()
}

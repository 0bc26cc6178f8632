package app

import (
	"context"
	"log/slog"
	"time"

	"anchorage/internal/anchoring/models"
	"anchorage/pkg/requestcontext"
)

type reconciler interface {
	Reconcile(ctx context.Context) (*models.ReconcileReport, error)
}

type reconcileObserver interface {
	ObserveReconcile(pending int, err error)
}

// ReconcileLoop runs a sweep every interval until ctx is cancelled. A failed
// sweep is logged and retried on the next tick.
type ReconcileLoop struct {
	svc      reconciler
	interval time.Duration
	logger   *slog.Logger
	observer reconcileObserver
}

func NewReconcileLoop(svc reconciler, interval time.Duration, logger *slog.Logger, observer reconcileObserver) *ReconcileLoop {
	return &ReconcileLoop{svc: svc, interval: interval, logger: logger, observer: observer}
}

func (l *ReconcileLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.sweep(ctx)
		}
	}
}

func (l *ReconcileLoop) sweep(ctx context.Context) {
	ctx = requestcontext.WithTime(ctx, time.Now())
	report, err := l.svc.Reconcile(ctx)
	if err != nil {
		l.logger.ErrorContext(ctx, "reconcile sweep failed", "error", err)
		if l.observer != nil {
			l.observer.ObserveReconcile(0, err)
		}
		return
	}
	if l.observer != nil {
		l.observer.ObserveReconcile(len(report.Pending), nil)
	}
	if report.Scanned == 0 {
		return
	}
	l.logger.InfoContext(ctx, "reconcile sweep finished",
		"scanned", report.Scanned,
		"recovered", len(report.Recovered),
		"reverted", len(report.Reverted),
		"pending", len(report.Pending),
		"failed", len(report.Failed),
	)
}

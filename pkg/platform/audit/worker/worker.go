package worker

import (
	"context"
	"log/slog"
	"time"
)

// Publisher drains one batch of pending audit events.
type Publisher interface {
	PublishBatch(ctx context.Context) (int, error)
}

// Worker drives a Publisher on an interval. A full batch is followed
// immediately by another attempt so a backlog drains without waiting.
type Worker struct {
	publisher Publisher
	interval  time.Duration
	logger    *slog.Logger
	breaker   *Breaker
	metrics   *Metrics
}

type Option func(*Worker)

// WithBreaker guards publishing with b. Without one every tick tries the broker.
func WithBreaker(b *Breaker) Option {
	return func(w *Worker) {
		w.breaker = b
	}
}

func WithMetrics(m *Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

func NewWorker(publisher Publisher, interval time.Duration, logger *slog.Logger, opts ...Option) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{publisher: publisher, interval: interval, logger: logger}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	if w.breaker != nil && !w.breaker.Allow() {
		w.metrics.incSkipped()
		return
	}
	for ctx.Err() == nil {
		n, err := w.publisher.PublishBatch(ctx)
		if err != nil {
			w.metrics.incFailures()
			w.logger.WarnContext(ctx, "audit outbox publish failed", "error", err)
			if w.breaker != nil && w.breaker.RecordFailure() {
				w.metrics.setBreakerOpen(true)
				w.logger.ErrorContext(ctx, "audit outbox breaker opened")
			}
			return
		}
		if w.breaker != nil {
			w.breaker.RecordSuccess()
			w.metrics.setBreakerOpen(false)
		}
		w.metrics.addPublished(n)
		if n == 0 {
			return
		}
	}
}

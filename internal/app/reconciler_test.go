package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"anchorage/internal/anchoring/models"
)

type countingReconciler struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingReconciler) Reconcile(context.Context) (*models.ReconcileReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &models.ReconcileReport{Scanned: 1, Pending: []string{"identity/E1"}}, nil
}

type recordingObserver struct {
	mu      sync.Mutex
	pending []int
	errs    int
}

func (r *recordingObserver) ObserveReconcile(pending int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.errs++
		return
	}
	r.pending = append(r.pending, pending)
}

func TestReconcileLoop_SweepReportsBacklog(t *testing.T) {
	rec := &countingReconciler{}
	obs := &recordingObserver{}
	loop := NewReconcileLoop(rec, time.Hour, slog.New(slog.DiscardHandler), obs)

	loop.sweep(context.Background())

	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, []int{1}, obs.pending)
}

func TestReconcileLoop_FailedSweepKeepsRunning(t *testing.T) {
	rec := &countingReconciler{err: errors.New("db down")}
	obs := &recordingObserver{}
	loop := NewReconcileLoop(rec, 5*time.Millisecond, slog.New(slog.DiscardHandler), obs)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	err := loop.Run(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.GreaterOrEqual(t, obs.errs, 2)
}

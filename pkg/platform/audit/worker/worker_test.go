package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stubPublisher struct {
	batches []int
	calls   atomic.Int32
	err     error
}

func (p *stubPublisher) PublishBatch(context.Context) (int, error) {
	i := int(p.calls.Add(1)) - 1
	if p.err != nil {
		return 0, p.err
	}
	if i < len(p.batches) {
		return p.batches[i], nil
	}
	return 0, nil
}

func TestWorker_DrainsBacklog(t *testing.T) {
	pub := &stubPublisher{batches: []int{100, 100, 3}}
	w := NewWorker(pub, time.Hour, nil)

	w.drain(context.Background())

	// three non-empty batches plus the terminating empty one
	assert.Equal(t, int32(4), pub.calls.Load())
}

func TestWorker_StopsOnError(t *testing.T) {
	pub := &stubPublisher{err: errors.New("broker down")}
	w := NewWorker(pub, time.Hour, nil)

	w.drain(context.Background())

	assert.Equal(t, int32(1), pub.calls.Load())
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	pub := &stubPublisher{}
	w := NewWorker(pub, 5*time.Millisecond, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := w.Run(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Positive(t, pub.calls.Load())
}

func TestWorker_BreakerSkipsTicksWhileOpen(t *testing.T) {
	pub := &stubPublisher{err: errors.New("broker down")}
	breaker := NewBreaker(2, time.Minute)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	breaker.now = func() time.Time { return now }
	w := NewWorker(pub, time.Hour, nil, WithBreaker(breaker))

	w.drain(context.Background())
	w.drain(context.Background())
	assert.True(t, breaker.IsOpen())

	w.drain(context.Background())
	assert.Equal(t, int32(2), pub.calls.Load(), "open breaker must not reach the broker")

	now = now.Add(2 * time.Minute)
	pub.err = nil
	w.drain(context.Background())
	assert.False(t, breaker.IsOpen())
	assert.Equal(t, int32(3), pub.calls.Load())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(3, time.Second)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	for range 3 {
		b.RecordFailure()
	}
	assert.False(t, b.Allow())

	now = now.Add(2 * time.Second)
	assert.True(t, b.Allow())
	assert.True(t, b.RecordFailure())
	assert.False(t, b.Allow())
}

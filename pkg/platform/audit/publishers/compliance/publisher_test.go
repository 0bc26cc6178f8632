package compliance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "anchorage/pkg/platform/audit"
	"anchorage/pkg/platform/audit/store/memory"
	"anchorage/pkg/requestcontext"
)

type failingStore struct{ err error }

func (s failingStore) Append(context.Context, audit.Event) error { return s.err }

func TestAppend_FillsDefaultsFromContext(t *testing.T) {
	store := memory.NewInMemoryStore()
	metrics := NewMetrics(prometheus.NewRegistry())
	pub := New(store, WithMetrics(metrics))

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), at)
	ctx = requestcontext.WithActor(ctx, "ops@example.com")
	ctx = requestcontext.WithRequestID(ctx, "req-7")

	err := pub.Append(ctx, audit.Event{
		Action:      string(audit.EventEntityFrozen),
		Subject:     "E1",
		SubjectType: "identity",
	})
	require.NoError(t, err)

	events, err := store.ListBySubject(ctx, "E1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, at, events[0].Timestamp)
	assert.Equal(t, "ops@example.com", events[0].ActorID)
	assert.Equal(t, "req-7", events[0].RequestID)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Emitted.WithLabelValues("compliance")), 0)
}

func TestAppend_RejectsIncompleteEvents(t *testing.T) {
	pub := New(memory.NewInMemoryStore())

	err := pub.Append(context.Background(), audit.Event{Subject: "E1", SubjectType: "identity"})
	require.Error(t, err)

	err = pub.Append(context.Background(), audit.Event{Action: string(audit.EventMintStarted)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a subject")
}

func TestAppend_FailsClosed(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	pub := New(failingStore{err: errors.New("outbox unavailable")}, WithMetrics(metrics))

	err := pub.Append(context.Background(), audit.Event{
		Action:      string(audit.EventMintFailed),
		Subject:     "E1",
		SubjectType: "identity",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "outbox unavailable")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Failures.WithLabelValues("operations")), 0)
}

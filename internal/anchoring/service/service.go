// Package service runs the two-stage immutability pipeline: freeze an entity
// off-chain, then after maturation anchor it on the ledger.
package service

import (
	"errors"
	"log/slog"
	"time"

	"anchorage/internal/anchoring/metrics"
	"anchorage/internal/anchoring/policy"
	"anchorage/internal/anchoring/ports"
	dErrors "anchorage/pkg/domain-errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultConfirmTimeout       = 10 * time.Minute
	defaultStaleAfter           = 15 * time.Minute
	defaultReconcileBatch       = 100
	defaultReconcileConcurrency = 4

	reconcileActor = "reconciler"
)

// Service coordinates the store, the policy engine and the ledger.
//
// Freeze runs in one local transaction. Mint is a saga: a short transaction
// claims the minting stage, the ledger call runs outside any transaction, and
// a second transaction either records the anchor or reverts the claim.
type Service struct {
	store   ports.Store
	tx      ports.StoreTx
	policy  *policy.Engine
	ledger  ports.Ledger
	auditor ports.AuditPublisher

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	confirmTimeout       time.Duration
	staleAfter           time.Duration
	reconcileBatch       int
	reconcileConcurrency int
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithConfirmTimeout bounds how long Mint waits for the anchor receipt.
func WithConfirmTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.confirmTimeout = d
		}
	}
}

// WithStaleAfter sets how long an entity may sit in minting before the
// reconciliation sweep picks it up.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// WithReconcileLimits sets the sweep batch size and ledger query parallelism.
func WithReconcileLimits(batch, concurrency int) Option {
	return func(s *Service) {
		if batch > 0 {
			s.reconcileBatch = batch
		}
		if concurrency > 0 {
			s.reconcileConcurrency = concurrency
		}
	}
}

// New wires a Service. Store, transaction runner, engine, ledger and audit
// publisher are required.
func New(store ports.Store, tx ports.StoreTx, engine *policy.Engine, ledger ports.Ledger, auditor ports.AuditPublisher, opts ...Option) (*Service, error) {
	switch {
	case store == nil:
		return nil, errors.New("anchoring store is required")
	case tx == nil:
		return nil, errors.New("transaction runner is required")
	case engine == nil:
		return nil, errors.New("policy engine is required")
	case ledger == nil:
		return nil, errors.New("ledger is required")
	case auditor == nil:
		return nil, errors.New("audit publisher is required")
	}

	s := &Service{
		store:                store,
		tx:                   tx,
		policy:               engine,
		ledger:               ledger,
		auditor:              auditor,
		logger:               slog.Default(),
		tracer:               otel.Tracer("anchorage/anchoring"),
		confirmTimeout:       defaultConfirmTimeout,
		staleAfter:           defaultStaleAfter,
		reconcileBatch:       defaultReconcileBatch,
		reconcileConcurrency: defaultReconcileConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// internalErr wraps infrastructure failures that do not already carry a code.
func internalErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	var coder dErrors.Coder
	if errors.As(err, &coder) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

// outcomeOf maps an error to the metrics outcome label.
func outcomeOf(err error) string {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeIneligible:
		return metrics.OutcomeIneligible
	case dErrors.CodeConflict:
		return metrics.OutcomeConflict
	}
	return metrics.OutcomeFailed
}

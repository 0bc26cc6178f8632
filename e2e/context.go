// Package e2e drives the anchoring service through feature scenarios with
// the in-memory store, ledger and audit log.
package e2e

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"anchorage/internal/anchoring/models"
	"anchorage/internal/anchoring/policy"
	"anchorage/internal/anchoring/service"
	"anchorage/internal/anchoring/store"
	ledgermem "anchorage/internal/ledger/memory"
	"anchorage/internal/trust"
	"anchorage/pkg/platform/audit/publishers/compliance"
	auditmem "anchorage/pkg/platform/audit/store/memory"
	"anchorage/pkg/requestcontext"
)

var errLedgerOutage = errors.New("ledger node unreachable")

// TestContext holds the state of one scenario. Time is simulated and only
// moves through AdvanceDays.
type TestContext struct {
	store   *store.InMemoryStore
	ledger  *ledgermem.Ledger
	audit   *auditmem.InMemoryStore
	oracle  *trust.StaticOracle
	service *service.Service

	now     time.Time
	lastErr error
}

// NewTestContext wires a fresh service for a scenario.
func NewTestContext() (*TestContext, error) {
	tc := &TestContext{
		store:  store.NewInMemoryStore(),
		ledger: ledgermem.New(),
		audit:  auditmem.NewInMemoryStore(),
		oracle: trust.NewStaticOracle(),
		now:    time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC),
	}
	engine, err := policy.New(tc.oracle, policy.DefaultConfig())
	if err != nil {
		return nil, err
	}
	svc, err := service.New(tc.store, tc.store, engine, tc.ledger, compliance.New(tc.audit),
		service.WithLogger(slog.New(slog.DiscardHandler)),
		service.WithConfirmTimeout(time.Second),
	)
	if err != nil {
		return nil, err
	}
	tc.service = svc
	return tc, nil
}

func (tc *TestContext) ctx(parent context.Context) context.Context {
	ctx := requestcontext.WithActor(parent, "e2e")
	return requestcontext.WithTime(ctx, tc.now)
}

func (tc *TestContext) SeedIdentity(id string) {
	tc.store.PutEntity(models.Entity{
		ID:              id,
		Type:            models.EntityTypeIdentity,
		Payload:         map[string]any{"display_name": id},
		StatusChangedAt: tc.now,
	})
	tc.store.AddVerification(models.EntityTypeIdentity, id, models.Verification{
		ID:     "email-" + id,
		Type:   models.VerificationTypeEmail,
		Status: models.VerificationStatusDone,
	})
}

func (tc *TestContext) SetTrust(id string, level int) {
	tc.oracle.Set(id, level)
}

func (tc *TestContext) AdvanceDays(days int) {
	tc.now = tc.now.Add(time.Duration(days) * 24 * time.Hour)
}

func (tc *TestContext) FailLedger(fail bool) {
	if fail {
		tc.ledger.FailSubmissions(errLedgerOutage)
		return
	}
	tc.ledger.FailSubmissions(nil)
}

func (tc *TestContext) Freeze(ctx context.Context, entityType models.EntityType, id string) error {
	_, tc.lastErr = tc.service.Freeze(tc.ctx(ctx), models.FreezeRequest{EntityType: entityType, EntityID: id})
	return tc.lastErr
}

func (tc *TestContext) Mint(ctx context.Context, entityType models.EntityType, id string) error {
	freeze, err := tc.store.FindFreezeByEntity(ctx, entityType, id)
	if err != nil {
		tc.lastErr = fmt.Errorf("no freeze record for %s: %w", id, err)
		return tc.lastErr
	}
	_, tc.lastErr = tc.service.Mint(tc.ctx(ctx), models.MintRequest{FreezeID: freeze.ID})
	return tc.lastErr
}

func (tc *TestContext) Status(ctx context.Context, entityType models.EntityType, id string) (*models.ImmutabilityStatus, error) {
	return tc.service.Status(tc.ctx(ctx), id, entityType)
}

func (tc *TestContext) Anchored(ctx context.Context, entityType models.EntityType, id string) (bool, error) {
	freeze, err := tc.store.FindFreezeByEntity(ctx, entityType, id)
	if err != nil {
		return false, err
	}
	info, err := tc.service.VerifyOnChain(tc.ctx(ctx), freeze.FreezeHash)
	if err != nil {
		return false, err
	}
	return info.Exists, nil
}

func (tc *TestContext) AuditTrail(id string) []string {
	events, err := tc.audit.ListBySubject(context.Background(), id)
	if err != nil {
		return nil
	}
	actions := make([]string, 0, len(events))
	for _, e := range events {
		actions = append(actions, e.Action)
	}
	return actions
}

func (tc *TestContext) LastError() error {
	return tc.lastErr
}

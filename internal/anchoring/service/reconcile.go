package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"anchorage/internal/anchoring/models"
	"anchorage/internal/anchoring/ports"
	dErrors "anchorage/pkg/domain-errors"
	audit "anchorage/pkg/platform/audit"
	"anchorage/pkg/platform/sentinel"
	"anchorage/pkg/requestcontext"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Reconcile actions, also used as metric labels.
const (
	ActionRecovered = "recovered"
	ActionReverted  = "reverted"
	ActionPending   = "pending"
	ActionFailed    = "failed"
)

// Reconcile resolves entities stuck in minting longer than the stale
// threshold. An anchor found on the ledger is recorded; otherwise the entity
// returns to frozen_offchain. Per-entity failures are reported, not returned.
func (s *Service) Reconcile(ctx context.Context) (*models.ReconcileReport, error) {
	ctx, span := s.tracer.Start(ctx, "anchoring.Reconcile")
	defer span.End()

	now := requestcontext.Now(ctx)
	stuck, err := s.store.ListMinting(ctx, now.Add(-s.staleAfter), s.reconcileBatch)
	if err != nil {
		span.RecordError(err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list minting entities")
	}
	span.SetAttributes(attribute.Int("reconcile.scanned", len(stuck)))

	report := &models.ReconcileReport{
		Scanned: len(stuck),
		Failed:  make(map[string]string),
	}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(s.reconcileConcurrency)
	for _, entity := range stuck {
		g.Go(func() error {
			action, err := s.reconcileOne(ctx, entity)
			s.metrics.IncrementReconcile(action)

			key := string(entity.Type) + "/" + entity.ID
			mu.Lock()
			defer mu.Unlock()
			switch action {
			case ActionRecovered:
				report.Recovered = append(report.Recovered, key)
			case ActionReverted:
				report.Reverted = append(report.Reverted, key)
			case ActionPending:
				report.Pending = append(report.Pending, key)
			default:
				report.Failed[key] = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(report.Recovered)
	sort.Strings(report.Reverted)
	sort.Strings(report.Pending)

	if report.Scanned > 0 {
		s.logger.InfoContext(ctx, "reconciliation sweep finished",
			"scanned", report.Scanned,
			"recovered", len(report.Recovered),
			"reverted", len(report.Reverted),
			"pending", len(report.Pending),
			"failed", len(report.Failed),
		)
	}
	return report, nil
}

func (s *Service) reconcileOne(ctx context.Context, entity models.Entity) (string, error) {
	ctx = requestcontext.WithActor(ctx, reconcileActor)

	freeze, err := s.store.FindFreezeByEntity(ctx, entity.Type, entity.ID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			err = errors.New("entity is minting without a freeze record")
		}
		s.logger.ErrorContext(ctx, "cannot reconcile entity", "entity_type", entity.Type, "entity_id", entity.ID, "error", err)
		return ActionFailed, err
	}

	info, err := s.queryAnchor(ctx, freeze.FreezeHash)
	if err != nil {
		s.logger.WarnContext(ctx, "ledger query failed during reconciliation", "freeze_id", freeze.ID, "error", err)
		return ActionFailed, err
	}

	if info.Exists {
		conf := fromAnchor(info, s.ledger.ContractAddress(), requestcontext.Now(ctx), true)
		if _, err := s.finalize(ctx, *freeze, conf, reconcileActor, audit.EventMintReconciled); err != nil {
			s.logger.ErrorContext(ctx, "failed to record recovered anchor", "freeze_id", freeze.ID, "tx_hash", info.TxHash, "error", err)
			return ActionFailed, err
		}
		s.logger.InfoContext(ctx, "recovered orphaned anchor", "freeze_id", freeze.ID, "tx_hash", info.TxHash)
		return ActionRecovered, nil
	}

	now := requestcontext.Now(ctx)
	err = s.tx.RunInTx(ctx, func(ctx context.Context, st ports.Store) error {
		return st.TransitionStatus(ctx, entity.Type, entity.ID, models.StatusMinting, models.StatusFrozenOffchain, now)
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			// moved on since the listing
			return ActionPending, nil
		}
		return ActionFailed, fmt.Errorf("revert to frozen_offchain: %w", err)
	}
	s.logger.InfoContext(ctx, "reverted stale mint", "freeze_id", freeze.ID)

	event := s.event(ctx, audit.EventMintReverted, *freeze, reconcileActor, now)
	event.Reason = "no anchor found on ledger"
	s.appendAfterCommit(ctx, event)
	return ActionReverted, nil
}

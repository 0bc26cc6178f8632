package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"anchorage/internal/anchoring/metrics"
	"anchorage/internal/anchoring/models"
	"anchorage/internal/anchoring/ports"
	"anchorage/internal/anchoring/witness"
	dErrors "anchorage/pkg/domain-errors"
	audit "anchorage/pkg/platform/audit"
	"anchorage/pkg/platform/sentinel"
	"anchorage/pkg/requestcontext"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Freeze commits an off-chain snapshot of the entity and starts the
// maturation window. Every step runs in one transaction: the entity row is
// locked and re-read, eligibility is re-checked against the locked state, and
// the freeze record, status change and audit event commit together.
func (s *Service) Freeze(ctx context.Context, req models.FreezeRequest) (*models.FreezeResult, error) {
	if !req.EntityType.IsValid() {
		return nil, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("unsupported entity type %q", req.EntityType))
	}
	if req.EntityID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "entity id is required")
	}
	if req.RequestedBy == "" {
		req.RequestedBy = requestcontext.Actor(ctx)
	}

	ctx, span := s.tracer.Start(ctx, "anchoring.Freeze", trace.WithAttributes(
		attribute.String("entity.type", string(req.EntityType)),
		attribute.String("entity.id", req.EntityID),
	))
	defer span.End()

	result, err := s.freeze(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "freeze failed")
		s.metrics.IncrementFreeze(string(req.EntityType), outcomeOf(err))
		return nil, err
	}
	s.metrics.IncrementFreeze(string(req.EntityType), metrics.OutcomeSuccess)
	s.logger.InfoContext(ctx, "entity frozen",
		"entity_type", req.EntityType,
		"entity_id", req.EntityID,
		"freeze_id", result.Record.ID,
		"freeze_hash", result.Record.FreezeHash,
		"min_mint_date", result.MinMintDate,
	)
	return result, nil
}

func (s *Service) freeze(ctx context.Context, req models.FreezeRequest) (*models.FreezeResult, error) {
	now := requestcontext.Now(ctx)
	var result *models.FreezeResult

	err := s.tx.RunInTx(ctx, func(ctx context.Context, st ports.Store) error {
		entity, err := st.LockEntity(ctx, req.EntityType, req.EntityID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return &models.NotFoundError{Kind: string(req.EntityType), ID: req.EntityID}
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load entity")
		}

		if _, err := st.FindFreezeByEntity(ctx, req.EntityType, req.EntityID); err == nil {
			return &models.AlreadyFrozenError{EntityType: req.EntityType, EntityID: req.EntityID}
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up freeze record")
		}

		snap, err := gatherSnapshot(ctx, st, *entity)
		if err != nil {
			return err
		}

		decision, err := s.policy.CanFreeze(ctx, snap)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "trust level unavailable")
		}
		if !decision.Allowed {
			return &models.IneligibleError{Stage: "freeze", Blockers: decision.Blockers}
		}

		w := witness.Generate(snap, now)
		record := models.FreezeRecord{
			ID:          uuid.New(),
			EntityType:  req.EntityType,
			EntityID:    req.EntityID,
			FreezeHash:  w.CombinedHash,
			Witness:     w,
			FrozenAt:    now,
			MinMintDate: now.Add(s.policy.MaturationWindow()),
			RequestedBy: req.RequestedBy,
			Metadata:    req.Metadata,
		}

		if err := st.InsertFreeze(ctx, record); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return &models.AlreadyFrozenError{EntityType: req.EntityType, EntityID: req.EntityID}
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to insert freeze record")
		}
		if err := st.MarkFrozen(ctx, req.EntityType, req.EntityID, record.FreezeHash, now); err != nil {
			if errors.Is(err, sentinel.ErrInvalidState) {
				return &models.AlreadyFrozenError{EntityType: req.EntityType, EntityID: req.EntityID}
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark entity frozen")
		}

		event := s.event(ctx, audit.EventEntityFrozen, record, req.RequestedBy, now)
		event.Metadata["witness"] = w
		event.Metadata["min_mint_date"] = record.MinMintDate.UTC().Format(time.RFC3339)
		if err := s.auditor.Append(ctx, event); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record freeze audit event")
		}

		result = &models.FreezeResult{
			Record:          record,
			EligibleForMint: false,
			MinMintDate:     record.MinMintDate,
		}
		return nil
	})
	if err != nil {
		return nil, internalErr(err, "failed to freeze entity")
	}
	return result, nil
}

// gatherSnapshot reads everything the witness commits to.
func gatherSnapshot(ctx context.Context, r ports.EntityReader, entity models.Entity) (models.Snapshot, error) {
	rels, err := r.ListRelationships(ctx, entity.Type, entity.ID)
	if err != nil {
		return models.Snapshot{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load relationships")
	}
	vers, err := r.ListVerifications(ctx, entity.Type, entity.ID)
	if err != nil {
		return models.Snapshot{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verifications")
	}
	extra, err := r.LoadExtra(ctx, entity.Type, entity.ID)
	if err != nil {
		return models.Snapshot{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load type-specific data")
	}
	return models.Snapshot{
		Entity:        entity,
		Relationships: rels,
		Verifications: vers,
		Extra:         extra,
	}, nil
}

// event builds an audit event about a freeze record.
func (s *Service) event(ctx context.Context, action audit.AuditEvent, record models.FreezeRecord, actor string, now time.Time) audit.Event {
	return audit.Event{
		Category:    action.Category(),
		Timestamp:   now,
		ActorID:     actor,
		Action:      string(action),
		Subject:     record.EntityID,
		SubjectType: string(record.EntityType),
		RequestID:   requestcontext.RequestID(ctx),
		Metadata: map[string]any{
			"freeze_id":   record.ID.String(),
			"freeze_hash": record.FreezeHash,
		},
	}
}

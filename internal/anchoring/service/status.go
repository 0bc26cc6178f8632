package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"anchorage/internal/anchoring/models"
	"anchorage/internal/ledger"
	dErrors "anchorage/pkg/domain-errors"
	"anchorage/pkg/platform/sentinel"
	"anchorage/pkg/requestcontext"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Status projects the entity's immutability stage from its records and
// recomputes eligibility. Nothing is written.
func (s *Service) Status(ctx context.Context, entityID string, entityType models.EntityType) (*models.ImmutabilityStatus, error) {
	if !entityType.IsValid() {
		return nil, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("unsupported entity type %q", entityType))
	}
	ctx, span := s.tracer.Start(ctx, "anchoring.Status", trace.WithAttributes(
		attribute.String("entity.type", string(entityType)),
		attribute.String("entity.id", entityID),
	))
	defer span.End()

	entity, err := s.store.FindEntity(ctx, entityType, entityID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, &models.NotFoundError{Kind: string(entityType), ID: entityID}
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load entity")
	}

	freeze, err := s.store.FindFreezeByEntity(ctx, entityType, entityID)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load freeze record")
		}
		freeze = nil
	}

	var mint *models.MintRecord
	if freeze != nil {
		mint, err = s.store.FindMintByFreeze(ctx, freeze.ID)
		if err != nil {
			if !errors.Is(err, sentinel.ErrNotFound) {
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load mint record")
			}
			mint = nil
		}
	}

	stage, issues := models.Project(*entity, freeze, mint)
	status := &models.ImmutabilityStatus{
		EntityID:        entityID,
		EntityType:      entityType,
		CurrentStage:    stage,
		Freeze:          freeze,
		Mint:            mint,
		MintInProgress:  stage == models.StatusMinting,
		Inconsistencies: issues,
	}
	if len(issues) > 0 {
		s.logger.WarnContext(ctx, "entity status diverges from records",
			"entity_type", entityType,
			"entity_id", entityID,
			"issues", strings.Join(issues, "; "),
		)
	}

	if err := s.fillFreezeEligibility(ctx, status, *entity); err != nil {
		return nil, err
	}
	if err := s.fillMintEligibility(ctx, status, *entity); err != nil {
		return nil, err
	}
	return status, nil
}

func (s *Service) fillFreezeEligibility(ctx context.Context, status *models.ImmutabilityStatus, entity models.Entity) error {
	if status.Freeze != nil {
		status.FreezeBlockers = []string{"Entity already has a freeze record"}
		return nil
	}
	snap, err := gatherSnapshot(ctx, s.store, entity)
	if err != nil {
		return err
	}
	decision, err := s.policy.CanFreeze(ctx, snap)
	if err != nil {
		status.FreezeBlockers = []string{unavailableBlocker(err)}
		return nil
	}
	status.CanFreeze = decision.Allowed
	status.FreezeBlockers = decision.Blockers
	return nil
}

func (s *Service) fillMintEligibility(ctx context.Context, status *models.ImmutabilityStatus, entity models.Entity) error {
	now := requestcontext.Now(ctx)
	if status.Freeze != nil && status.Mint == nil {
		status.DaysUntilMintable = models.DaysRemaining(now, status.Freeze.MinMintDate)
	}

	decision, err := s.policy.CanMint(ctx, entity, status.Freeze, now)
	if err != nil {
		var coder dErrors.Coder
		if errors.As(err, &coder) {
			// minting or already minted
			status.MintBlockers = []string{err.Error()}
			return nil
		}
		status.MintBlockers = []string{unavailableBlocker(err)}
		return nil
	}
	status.CanMint = decision.Allowed
	status.MintBlockers = decision.Blockers
	return nil
}

func unavailableBlocker(err error) string {
	return fmt.Sprintf("Trust level unavailable: %v", err)
}

// VerifyOnChain reads the anchor for freezeHash straight from the ledger.
func (s *Service) VerifyOnChain(ctx context.Context, freezeHash string) (ledger.AnchorInfo, error) {
	freezeHash = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(freezeHash)), "0x")
	if len(freezeHash) != 64 {
		return ledger.AnchorInfo{}, dErrors.New(dErrors.CodeBadRequest, "freeze hash must be 64 hex characters")
	}
	info, err := s.queryAnchor(ctx, freezeHash)
	if err != nil {
		return ledger.AnchorInfo{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger query failed")
	}
	return info, nil
}

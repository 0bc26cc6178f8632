// Package policy decides whether an entity may move between immutability
// stages. It performs no writes; the only I/O is the trust oracle lookup.
package policy

import (
	"context"
	"fmt"
	"time"

	"anchorage/internal/anchoring/models"
	"anchorage/internal/anchoring/ports"
)

// Engine evaluates freeze and mint eligibility.
type Engine struct {
	oracle ports.TrustOracle
	cfg    Config
}

// New constructs an Engine. The config must satisfy Config.Validate.
func New(oracle ports.TrustOracle, cfg Config) (*Engine, error) {
	if oracle == nil {
		return nil, fmt.Errorf("trust oracle is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{oracle: oracle, cfg: cfg}, nil
}

// MaturationWindow is the minimum time between freeze and mint.
func (e *Engine) MaturationWindow() time.Duration {
	return e.cfg.MaturationWindow
}

// CanFreeze evaluates every freeze precondition. An oracle failure is returned
// as an error rather than a blocker.
func (e *Engine) CanFreeze(ctx context.Context, snap models.Snapshot) (models.Decision, error) {
	decision := models.Decision{Allowed: true}
	entity := snap.Entity

	if entity.FreezeStatus != models.StatusMutable {
		decision.Block(fmt.Sprintf("Entity is not mutable (current status: %s)", entity.FreezeStatus))
	}

	level, err := e.trustLevel(ctx, entity)
	if err != nil {
		return models.Decision{}, err
	}
	if level < e.cfg.FreezeThreshold {
		decision.Block(fmt.Sprintf("Trust level too low for freeze (%d < %d)", level, e.cfg.FreezeThreshold))
	}

	check, ok := prerequisites[entity.Type]
	if !ok {
		decision.Block(fmt.Sprintf("Unsupported entity type %q", entity.Type))
		return decision, nil
	}
	for _, blocker := range check(snap) {
		decision.Block(blocker)
	}
	return decision, nil
}

// CanMint evaluates mint preconditions at now. An entity already minting is
// rejected with MintInProgressError and a minted one with AlreadyMintedError
// instead of a blocker list.
func (e *Engine) CanMint(ctx context.Context, entity models.Entity, freeze *models.FreezeRecord, now time.Time) (models.Decision, error) {
	switch entity.FreezeStatus {
	case models.StatusMinting:
		return models.Decision{}, &models.MintInProgressError{EntityID: entity.ID}
	case models.StatusMintedOnchain:
		return models.Decision{}, &models.AlreadyMintedError{FreezeID: freezeID(freeze)}
	}
	if freeze != nil && freeze.IsMinted() {
		return models.Decision{}, &models.AlreadyMintedError{FreezeID: freezeID(freeze)}
	}

	decision := models.Decision{Allowed: true}
	switch {
	case entity.FreezeStatus != models.StatusFrozenOffchain:
		decision.Block(fmt.Sprintf("Entity must be frozen before minting (current status: %s)", entity.FreezeStatus))
	case freeze == nil:
		decision.Block("Entity has no freeze record")
	}

	if freeze != nil && now.Before(freeze.MinMintDate) {
		decision.Block(models.WaitMessage(models.DaysRemaining(now, freeze.MinMintDate)))
	}

	level, err := e.trustLevel(ctx, entity)
	if err != nil {
		return models.Decision{}, err
	}
	if level < e.cfg.MintThreshold {
		decision.Block(fmt.Sprintf("Trust level too low for mint (%d < %d)", level, e.cfg.MintThreshold))
	}
	return decision, nil
}

func (e *Engine) trustLevel(ctx context.Context, entity models.Entity) (int, error) {
	subjectID, subjectType := entity.TrustSubject()
	level, err := e.oracle.TrustLevel(ctx, subjectID, subjectType)
	if err != nil {
		return 0, fmt.Errorf("trust level for %s %s: %w", subjectType, subjectID, err)
	}
	return level, nil
}

func freezeID(freeze *models.FreezeRecord) string {
	if freeze == nil {
		return ""
	}
	return freeze.ID.String()
}

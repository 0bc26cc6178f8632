package models

import "fmt"

// ImmutabilityStatus is the derived read model for one entity. It is
// recomputed on every request and never stored.
type ImmutabilityStatus struct {
	EntityID       string
	EntityType     EntityType
	CurrentStage   FreezeStatus
	Freeze         *FreezeRecord
	Mint           *MintRecord
	CanFreeze      bool
	FreezeBlockers []string
	CanMint        bool
	MintBlockers   []string
	MintInProgress bool
	// DaysUntilMintable is zero once the maturation window has elapsed.
	DaysUntilMintable int
	// Inconsistencies lists divergences between the entity's persisted
	// freeze_status and the stage implied by its records.
	Inconsistencies []string
}

// Project derives the current stage from the persisted records. The entity's
// own freeze_status only decides between frozen_offchain and minting, which
// share the same record shape.
func Project(entity Entity, freeze *FreezeRecord, mint *MintRecord) (FreezeStatus, []string) {
	var stage FreezeStatus
	switch {
	case mint != nil:
		stage = StatusMintedOnchain
	case freeze != nil && entity.FreezeStatus == StatusMinting:
		stage = StatusMinting
	case freeze != nil:
		stage = StatusFrozenOffchain
	default:
		stage = StatusMutable
	}

	var issues []string
	if entity.FreezeStatus != stage {
		issues = append(issues, fmt.Sprintf("entity freeze_status %q does not match records (%s)", entity.FreezeStatus, stage))
	}
	if freeze != nil && mint == nil && freeze.IsMinted() {
		issues = append(issues, "freeze record references a mint record that does not exist")
	}
	if freeze != nil && entity.FreezeHash != "" && entity.FreezeHash != freeze.FreezeHash {
		issues = append(issues, "entity freeze hash differs from freeze record")
	}
	return stage, issues
}

package policy

import (
	"fmt"

	"anchorage/internal/anchoring/models"
)

// prerequisite returns the type-specific blockers for a snapshot. Every check
// runs so the caller sees all reasons at once.
type prerequisite func(snap models.Snapshot) []string

var prerequisites = map[models.EntityType]prerequisite{
	models.EntityTypeIdentity: identityPrerequisites,
	models.EntityTypeEvidence: evidencePrerequisites,
	models.EntityTypeClaim:    claimPrerequisites,
}

func identityPrerequisites(snap models.Snapshot) []string {
	for _, v := range snap.Verifications {
		if v.Type == models.VerificationTypeEmail && v.Status == models.VerificationStatusDone {
			return nil
		}
	}
	return []string{"Identity requires a completed email verification"}
}

func evidencePrerequisites(snap models.Snapshot) []string {
	var blockers []string
	if snap.Entity.ContentHash == "" {
		blockers = append(blockers, "Evidence requires a content hash")
	}
	if snap.Entity.StorageLocator == "" {
		blockers = append(blockers, "Evidence requires a storage locator")
	}
	return blockers
}

func claimPrerequisites(snap models.Snapshot) []string {
	var blockers []string
	e := snap.Entity
	if e.ValidityStatus == "" || e.ValidityStatus == models.ClaimValidityPending {
		blockers = append(blockers, "Claim validity is still pending")
	}
	switch {
	case e.ValidityScore == nil:
		blockers = append(blockers, "Claim has no validity score")
	case *e.ValidityScore < models.MinimumClaimValidityScore:
		blockers = append(blockers, fmt.Sprintf("Claim validity score too low (%.2f < %.2f)", *e.ValidityScore, models.MinimumClaimValidityScore))
	}
	return blockers
}

package models

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// FreezeRequest asks for Stage 1 on one entity.
type FreezeRequest struct {
	EntityType  EntityType
	EntityID    string
	RequestedBy string
	Metadata    map[string]any
}

// FreezeResult is returned after a successful freeze. EligibleForMint is
// always false at this point because the maturation window has just started.
type FreezeResult struct {
	Record          FreezeRecord
	EligibleForMint bool
	MinMintDate     time.Time
}

// MintRequest asks for Stage 2 on one freeze. GasPrice, when set, overrides
// the priority tier.
type MintRequest struct {
	FreezeID    uuid.UUID
	RequestedBy string
	Priority    Priority
	GasPrice    *big.Int
}

// MintResult is returned after the anchor is confirmed and recorded.
// Recovered is true when an existing on-chain anchor was adopted instead of
// submitting a new transaction.
type MintResult struct {
	Freeze    FreezeRecord
	Mint      MintRecord
	Recovered bool
}

// Decision is the outcome of an eligibility check.
type Decision struct {
	Allowed  bool
	Blockers []string
}

// Block appends a human-readable reason and marks the decision as denied.
func (d *Decision) Block(reason string) {
	d.Allowed = false
	d.Blockers = append(d.Blockers, reason)
}

// ReconcileReport summarizes one sweep over entities stuck in minting.
type ReconcileReport struct {
	Scanned   int
	Recovered []string
	Reverted  []string
	Pending   []string
	Failed    map[string]string
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// EntityType tags the kind of record being anchored.
type EntityType string

const (
	EntityTypeIdentity EntityType = "identity"
	EntityTypeEvidence EntityType = "evidence"
	EntityTypeClaim    EntityType = "claim"
)

// IsValid reports whether t is one of the anchorable entity types.
func (t EntityType) IsValid() bool {
	switch t {
	case EntityTypeIdentity, EntityTypeEvidence, EntityTypeClaim:
		return true
	}
	return false
}

// LedgerCode is the numeric entity type written into the anchor transaction.
func (t EntityType) LedgerCode() uint8 {
	switch t {
	case EntityTypeIdentity:
		return 1
	case EntityTypeEvidence:
		return 2
	case EntityTypeClaim:
		return 3
	}
	return 0
}

// ParseEntityType validates a raw entity type.
func ParseEntityType(raw string) (EntityType, bool) {
	t := EntityType(raw)
	return t, t.IsValid()
}

// FreezeStatus is the immutability stage persisted on the entity.
type FreezeStatus string

const (
	StatusMutable        FreezeStatus = "mutable"
	StatusFrozenOffchain FreezeStatus = "frozen_offchain"
	StatusMinting        FreezeStatus = "minting"
	StatusMintedOnchain  FreezeStatus = "minted_onchain"
)

// Entity is the mutable subject being anchored. Type-specific attributes are
// optional and only consulted by the matching eligibility prerequisites.
type Entity struct {
	ID       string
	Type     EntityType
	AuthorID string
	Payload  map[string]any

	FreezeStatus      FreezeStatus
	FreezeHash        string
	LedgerTxHash      string
	LedgerBlockNumber *uint64
	StatusChangedAt   time.Time

	// evidence
	ContentHash    string
	StorageLocator string

	// claim
	ValidityStatus string
	ValidityScore  *float64
}

// TrustSubject returns the identity whose trust level gates this entity.
// Evidence and claims do not carry trust of their own.
func (e Entity) TrustSubject() (string, EntityType) {
	if e.Type == EntityTypeIdentity || e.AuthorID == "" {
		return e.ID, EntityTypeIdentity
	}
	return e.AuthorID, EntityTypeIdentity
}

// Relationship is an edge from the entity to another record.
type Relationship struct {
	ID          string    `json:"id"`
	Relation    string    `json:"relation"`
	RelatedType string    `json:"related_type"`
	RelatedID   string    `json:"related_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Verification is a check performed against the entity.
type Verification struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Status     string     `json:"status"`
	Verifier   string     `json:"verifier,omitempty"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

const (
	VerificationTypeEmail     = "email"
	VerificationStatusDone    = "completed"
	ClaimValidityPending      = "pending"
	MinimumClaimValidityScore = 0.5
)

// Snapshot is everything gathered about an entity at one point in time.
// Extra holds type-specific data such as the evidence custody chain or
// claim components.
type Snapshot struct {
	Entity        Entity
	Relationships []Relationship
	Verifications []Verification
	Extra         map[string]any
}

// WitnessData is the hash bundle a freeze commits to.
type WitnessData struct {
	Version            string    `json:"version"`
	GeneratedAt        time.Time `json:"generated_at"`
	EntityHash         string    `json:"entity_hash"`
	MetadataHash       string    `json:"metadata_hash"`
	RelationshipHashes []string  `json:"relationship_hashes"`
	VerificationHashes []string  `json:"verification_hashes"`
	CombinedHash       string    `json:"combined_hash"`
}

// FreezeRecord is the off-chain, immutable snapshot commitment.
type FreezeRecord struct {
	ID          uuid.UUID
	EntityType  EntityType
	EntityID    string
	FreezeHash  string
	Witness     WitnessData
	FrozenAt    time.Time
	MinMintDate time.Time
	RequestedBy string
	Metadata    map[string]any
	MintID      *uuid.UUID
	MintedAt    *time.Time
}

// IsMinted reports whether a MintRecord has been attached.
func (f FreezeRecord) IsMinted() bool {
	return f.MintID != nil
}

// Cost captures the resources consumed by the anchor transaction.
type Cost struct {
	GasUsed  uint64
	GasPrice string // wei, decimal
	TotalWei string // wei, decimal
}

// MintRecord is the on-chain anchoring receipt for a FreezeRecord.
type MintRecord struct {
	ID              uuid.UUID
	FreezeID        uuid.UUID
	TransactionHash string
	BlockNumber     uint64
	BlockTimestamp  time.Time
	Cost            Cost
	ContractAddress string
	RequestedBy     string
	CreatedAt       time.Time
}

// Priority selects the gas price tier for a mint.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority maps a raw value to a tier; empty means medium.
func ParsePriority(raw string) (Priority, bool) {
	switch Priority(raw) {
	case "":
		return PriorityMedium, true
	case PriorityLow, PriorityMedium, PriorityHigh:
		return Priority(raw), true
	}
	return "", false
}

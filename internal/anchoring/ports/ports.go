// Package ports declares the collaborators the anchoring services depend on.
package ports

//go:generate mockgen -destination=../service/mocks/mocks.go -package=mocks anchorage/internal/anchoring/ports TrustOracle,Ledger,AuditPublisher

import (
	"context"
	"math/big"
	"time"

	"anchorage/internal/anchoring/models"
	"anchorage/internal/ledger"
	audit "anchorage/pkg/platform/audit"

	"github.com/google/uuid"
)

// TrustOracle returns the externally computed trust level of an identity.
type TrustOracle interface {
	TrustLevel(ctx context.Context, entityID string, entityType models.EntityType) (int, error)
}

// Ledger is the anchor network client.
type Ledger interface {
	EstimateCost(ctx context.Context, params ledger.AnchorParams) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	Submit(ctx context.Context, params ledger.AnchorParams, cost ledger.CostParams) (ledger.PendingTx, error)
	AwaitConfirmation(ctx context.Context, tx ledger.PendingTx) (ledger.Receipt, error)
	QueryAnchor(ctx context.Context, freezeHash string) (ledger.AnchorInfo, error)
	ContractAddress() string
}

// AuditPublisher records audit events, inside the caller's transaction when
// the backend supports it.
type AuditPublisher interface {
	Append(ctx context.Context, event audit.Event) error
}

// EntityReader gives read access to entity snapshots and their edges.
// Missing entities yield sentinel.ErrNotFound.
type EntityReader interface {
	FindEntity(ctx context.Context, entityType models.EntityType, entityID string) (*models.Entity, error)
	ListRelationships(ctx context.Context, entityType models.EntityType, entityID string) ([]models.Relationship, error)
	ListVerifications(ctx context.Context, entityType models.EntityType, entityID string) ([]models.Verification, error)
	// LoadExtra returns type-specific data folded into the witness, such as
	// the evidence custody chain or claim components.
	LoadExtra(ctx context.Context, entityType models.EntityType, entityID string) (map[string]any, error)
}

// RecordReader reads freeze and mint records. Missing rows yield
// sentinel.ErrNotFound.
type RecordReader interface {
	FindFreezeByID(ctx context.Context, id uuid.UUID) (*models.FreezeRecord, error)
	FindFreezeByEntity(ctx context.Context, entityType models.EntityType, entityID string) (*models.FreezeRecord, error)
	FindMintByID(ctx context.Context, id uuid.UUID) (*models.MintRecord, error)
	FindMintByFreeze(ctx context.Context, freezeID uuid.UUID) (*models.MintRecord, error)
	ListMinting(ctx context.Context, changedBefore time.Time, limit int) ([]models.Entity, error)
}

// Store is the transactional store for anchoring state. Writes are pure I/O:
// conditional updates return sentinel.ErrInvalidState when no row matched and
// unique violations return sentinel.ErrConflict.
type Store interface {
	EntityReader
	RecordReader

	// LockEntity reads the entity and, inside a transaction, locks its row.
	LockEntity(ctx context.Context, entityType models.EntityType, entityID string) (*models.Entity, error)
	InsertFreeze(ctx context.Context, record models.FreezeRecord) error
	InsertMint(ctx context.Context, record models.MintRecord) error
	AttachMint(ctx context.Context, freezeID, mintID uuid.UUID, mintedAt time.Time) error
	MarkFrozen(ctx context.Context, entityType models.EntityType, entityID, freezeHash string, at time.Time) error
	MarkMinted(ctx context.Context, entityType models.EntityType, entityID, txHash string, blockNumber uint64, at time.Time) error
	TransitionStatus(ctx context.Context, entityType models.EntityType, entityID string, from, to models.FreezeStatus, at time.Time) error
}

// StoreTx provides a transactional boundary for store mutations. The ctx
// handed to fn carries the transaction so audit writes join it.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}

package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies and routing downstream.
type EventCategory string

const (
	// CategoryCompliance covers events with legal or evidentiary significance.
	// These require tamper-proof storage and long retention.
	CategoryCompliance EventCategory = "compliance"

	// CategoryOperations covers events useful for debugging and operational visibility.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	// ActorID is the requester that triggered the action.
	ActorID string
	Action  string
	// Subject and SubjectType identify the target entity.
	Subject     string
	SubjectType string
	Reason      string
	RequestID   string
	// Metadata carries structured detail such as the freeze witness.
	Metadata map[string]any
}

type AuditEvent string

const (
	EventEntityFrozen   AuditEvent = "entity_frozen"
	EventMintStarted    AuditEvent = "mint_started"
	EventEntityMinted   AuditEvent = "entity_minted"
	EventMintFailed     AuditEvent = "mint_failed"
	EventMintReconciled AuditEvent = "mint_reconciled"
	EventMintReverted   AuditEvent = "mint_reverted"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventEntityFrozen:   CategoryCompliance,
	EventEntityMinted:   CategoryCompliance,
	EventMintReconciled: CategoryCompliance,

	EventMintStarted:  CategoryOperations,
	EventMintFailed:   CategoryOperations,
	EventMintReverted: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events. Implementations that understand the
// transaction carried in ctx must write inside it.
type Store interface {
	Append(ctx context.Context, event Event) error
}

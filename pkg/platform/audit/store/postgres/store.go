package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	audit "anchorage/pkg/platform/audit"
	txcontext "anchorage/pkg/platform/tx"

	"github.com/google/uuid"
)

// Store persists audit events as outbox rows. The relay ships them to the
// audit topic.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// outboxPayload is the record value on the audit topic.
type outboxPayload struct {
	ID          string         `json:"id"`
	Category    string         `json:"category"`
	Timestamp   string         `json:"timestamp"`
	ActorID     string         `json:"actor_id,omitempty"`
	Action      string         `json:"action"`
	Subject     string         `json:"subject"`
	SubjectType string         `json:"subject_type"`
	Reason      string         `json:"reason,omitempty"`
	RequestID   string         `json:"request_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

const insertOutbox = `
	INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

// Append stages the event in the outbox. Inside RunInTx it commits or rolls
// back together with the anchoring state change it records.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	id := uuid.New()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	raw, err := json.Marshal(encodePayload(id, event))
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	// Anchoring events are keyed by entity so the relay keeps one
	// entity's history on one partition.
	aggType, aggID := event.SubjectType, event.Subject
	if aggType == "" {
		aggType = "audit"
	}
	if aggID == "" {
		aggID = id.String()
	}

	if _, err := s.execer(ctx).ExecContext(ctx, insertOutbox, id, aggType, aggID, event.Action, raw, event.Timestamp); err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

func encodePayload(id uuid.UUID, event audit.Event) outboxPayload {
	return outboxPayload{
		ID:          id.String(),
		Category:    string(audit.AuditEvent(event.Action).Category()),
		Timestamp:   event.Timestamp.UTC().Format(time.RFC3339Nano),
		ActorID:     event.ActorID,
		Action:      event.Action,
		Subject:     event.Subject,
		SubjectType: event.SubjectType,
		Reason:      event.Reason,
		RequestID:   event.RequestID,
		Metadata:    event.Metadata,
	}
}

// ListBySubject returns the outbox history for one target, oldest first.
func (s *Store) ListBySubject(ctx context.Context, subjectType, subject string) ([]audit.Event, error) {
	query := `
		SELECT payload
		FROM outbox
		WHERE aggregate_type = $1 AND aggregate_id = $2
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, subjectType, subject)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan outbox payload: %w", err)
		}
		event, err := decodePayload(raw)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return events, nil
}

func decodePayload(raw []byte) (audit.Event, error) {
	var payload outboxPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return audit.Event{}, fmt.Errorf("unmarshal outbox payload: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, payload.Timestamp)
	if err != nil {
		return audit.Event{}, fmt.Errorf("parse outbox timestamp: %w", err)
	}
	return audit.Event{
		Category:    audit.EventCategory(payload.Category),
		Timestamp:   ts,
		ActorID:     payload.ActorID,
		Action:      payload.Action,
		Subject:     payload.Subject,
		SubjectType: payload.SubjectType,
		Reason:      payload.Reason,
		RequestID:   payload.RequestID,
		Metadata:    payload.Metadata,
	}, nil
}

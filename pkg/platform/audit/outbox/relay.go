// Package outbox publishes audit events committed to the outbox table.
//
// Rows are claimed with FOR UPDATE SKIP LOCKED so several relays can run
// against the same database; a row is marked published only after the broker
// acknowledged it, which gives at-least-once delivery.
package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	defaultBatchSize      = 100
	defaultProduceTimeout = 15 * time.Second
)

// Producer is the subset of *kgo.Client the relay needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Relay moves outbox rows to a Kafka topic.
type Relay struct {
	db        *sql.DB
	producer  Producer
	topic     string
	batchSize int
	timeout   time.Duration
	logger    *slog.Logger
}

type Option func(*Relay)

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithProduceTimeout bounds each broker round trip. The claimed rows stay
// locked until it returns.
func WithProduceTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func NewRelay(db *sql.DB, producer Producer, topic string, opts ...Option) *Relay {
	r := &Relay{
		db:        db,
		producer:  producer,
		topic:     topic,
		batchSize: defaultBatchSize,
		timeout:   defaultProduceTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type pendingRow struct {
	id            uuid.UUID
	aggregateType string
	aggregateID   string
	eventType     string
	payload       []byte
}

// PublishBatch publishes up to one batch of pending rows and returns how many
// were published.
func (r *Relay) PublishBatch(ctx context.Context) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin outbox batch: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("select pending outbox rows: %w", err)
	}
	var pending []pendingRow
	for rows.Next() {
		var row pendingRow
		if err := rows.Scan(&row.id, &row.aggregateType, &row.aggregateID, &row.eventType, &row.payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan outbox row: %w", err)
		}
		pending = append(pending, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate outbox rows: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	records := make([]*kgo.Record, 0, len(pending))
	ids := make([]string, 0, len(pending))
	for _, row := range pending {
		records = append(records, toRecord(r.topic, row))
		ids = append(ids, row.id.String())
	}
	// The claimed rows stay locked while the broker acknowledges, so a
	// stalled broker must not hold them past the produce timeout.
	if err := r.produce(ctx, records); err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE outbox SET published_at = $1 WHERE id = ANY($2::uuid[])`,
		time.Now(), pq.Array(ids),
	); err != nil {
		return 0, fmt.Errorf("mark outbox rows published: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit outbox batch: %w", err)
	}
	r.logger.DebugContext(ctx, "published audit outbox batch", "count", len(pending))
	return len(pending), nil
}

func (r *Relay) produce(ctx context.Context, records []*kgo.Record) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce outbox batch: %w", err)
	}
	return nil
}

func toRecord(topic string, row pendingRow) *kgo.Record {
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(row.aggregateType + ":" + row.aggregateID),
		Value: row.payload,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(row.eventType)},
			{Key: "outbox_id", Value: []byte(row.id.String())},
		},
	}
}

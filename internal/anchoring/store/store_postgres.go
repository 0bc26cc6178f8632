package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"anchorage/internal/anchoring/models"
	"anchorage/internal/anchoring/ports"
	"anchorage/internal/platform/postgres"
	dErrors "anchorage/pkg/domain-errors"
	"anchorage/pkg/platform/sentinel"
	txcontext "anchorage/pkg/platform/tx"

	"github.com/google/uuid"
)

// PostgresStore persists anchoring state in PostgreSQL.
// This store is pure I/O: eligibility and stage rules belong in the services.
// Every method runs on the transaction carried in ctx when there is one.
type PostgresStore struct {
	db        *sql.DB
	txTimeout time.Duration
}

var (
	_ ports.Store   = (*PostgresStore)(nil)
	_ ports.StoreTx = (*PostgresStore)(nil)
)

const defaultTxTimeout = 5 * time.Second

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithTxTimeout bounds transactions whose context carries no deadline.
func WithTxTimeout(d time.Duration) PostgresOption {
	return func(s *PostgresStore) {
		if d > 0 {
			s.txTimeout = d
		}
	}
}

// NewPostgres constructs a PostgreSQL-backed anchoring store.
func NewPostgres(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db, txTimeout: defaultTxTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type dbQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbQuerier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// RunInTx begins a transaction, places it in ctx and commits when fn succeeds.
// A cancelled context fails fast with CodeTimeout instead of opening a
// transaction.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context, store ports.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}
	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		return fn(ctx, s)
	})
}

const entityColumns = `
	entity_type, id, author_id, payload, freeze_status, freeze_hash, ledger_tx_hash,
	ledger_block_number, status_changed_at, content_hash, storage_locator,
	validity_status, validity_score`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*models.Entity, error) {
	var (
		entity         models.Entity
		entityType     string
		status         string
		payload        []byte
		freezeHash     sql.NullString
		ledgerTxHash   sql.NullString
		blockNumber    sql.NullInt64
		contentHash    sql.NullString
		storageLoc     sql.NullString
		validityStatus sql.NullString
		validityScore  sql.NullFloat64
	)
	err := row.Scan(&entityType, &entity.ID, &entity.AuthorID, &payload, &status, &freezeHash,
		&ledgerTxHash, &blockNumber, &entity.StatusChangedAt, &contentHash, &storageLoc,
		&validityStatus, &validityScore)
	if err != nil {
		return nil, err
	}
	entity.Type = models.EntityType(entityType)
	entity.FreezeStatus = models.FreezeStatus(status)
	entity.FreezeHash = freezeHash.String
	entity.LedgerTxHash = ledgerTxHash.String
	if blockNumber.Valid {
		n := uint64(blockNumber.Int64)
		entity.LedgerBlockNumber = &n
	}
	entity.ContentHash = contentHash.String
	entity.StorageLocator = storageLoc.String
	entity.ValidityStatus = validityStatus.String
	if validityScore.Valid {
		score := validityScore.Float64
		entity.ValidityScore = &score
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &entity.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal entity payload: %w", err)
		}
	}
	return &entity, nil
}

func (s *PostgresStore) FindEntity(ctx context.Context, entityType models.EntityType, entityID string) (*models.Entity, error) {
	return s.findEntity(ctx, entityType, entityID, "")
}

// LockEntity takes a row lock that is held until the surrounding transaction
// ends. Outside a transaction it is a plain read.
func (s *PostgresStore) LockEntity(ctx context.Context, entityType models.EntityType, entityID string) (*models.Entity, error) {
	return s.findEntity(ctx, entityType, entityID, "FOR UPDATE")
}

func (s *PostgresStore) findEntity(ctx context.Context, entityType models.EntityType, entityID, lock string) (*models.Entity, error) {
	query := `SELECT ` + entityColumns + `
		FROM anchorable_entities
		WHERE entity_type = $1 AND id = $2 ` + lock
	entity, err := scanEntity(s.execer(ctx).QueryRowContext(ctx, query, string(entityType), entityID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find entity: %w", err)
	}
	return entity, nil
}

func (s *PostgresStore) ListRelationships(ctx context.Context, entityType models.EntityType, entityID string) ([]models.Relationship, error) {
	query := `
		SELECT id, relation, related_type, related_id, created_at
		FROM entity_relationships
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at, id
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, string(entityType), entityID)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	defer rows.Close()

	var out []models.Relationship
	for rows.Next() {
		var rel models.Relationship
		if err := rows.Scan(&rel.ID, &rel.Relation, &rel.RelatedType, &rel.RelatedID, &rel.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		out = append(out, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relationships: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListVerifications(ctx context.Context, entityType models.EntityType, entityID string) ([]models.Verification, error) {
	query := `
		SELECT id, verification_type, status, verifier, verified_at
		FROM entity_verifications
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY id
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, string(entityType), entityID)
	if err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	defer rows.Close()

	var out []models.Verification
	for rows.Next() {
		var (
			v          models.Verification
			verifiedAt sql.NullTime
		)
		if err := rows.Scan(&v.ID, &v.Type, &v.Status, &v.Verifier, &verifiedAt); err != nil {
			return nil, fmt.Errorf("scan verification: %w", err)
		}
		if verifiedAt.Valid {
			at := verifiedAt.Time
			v.VerifiedAt = &at
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verifications: %w", err)
	}
	return out, nil
}

// LoadExtra returns the custody chain for evidence and the component list for
// claims. Identities carry no extra data.
func (s *PostgresStore) LoadExtra(ctx context.Context, entityType models.EntityType, entityID string) (map[string]any, error) {
	switch entityType {
	case models.EntityTypeEvidence:
		chain, err := s.listCustody(ctx, entityID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"custody_chain": chain}, nil
	case models.EntityTypeClaim:
		components, err := s.listComponents(ctx, entityID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"components": components}, nil
	}
	return nil, nil
}

func (s *PostgresStore) listCustody(ctx context.Context, evidenceID string) ([]map[string]any, error) {
	query := `
		SELECT seq, actor, action, occurred_at
		FROM evidence_custody
		WHERE evidence_id = $1
		ORDER BY seq
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, evidenceID)
	if err != nil {
		return nil, fmt.Errorf("list custody chain: %w", err)
	}
	defer rows.Close()

	chain := []map[string]any{}
	for rows.Next() {
		var (
			seq        int
			actor      string
			action     string
			occurredAt time.Time
		)
		if err := rows.Scan(&seq, &actor, &action, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan custody entry: %w", err)
		}
		chain = append(chain, map[string]any{
			"seq":         seq,
			"actor":       actor,
			"action":      action,
			"occurred_at": occurredAt.UTC().Format(time.RFC3339Nano),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate custody chain: %w", err)
	}
	return chain, nil
}

func (s *PostgresStore) listComponents(ctx context.Context, claimID string) ([]map[string]any, error) {
	query := `
		SELECT position, component_type, component_id, role
		FROM claim_components
		WHERE claim_id = $1
		ORDER BY position
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, claimID)
	if err != nil {
		return nil, fmt.Errorf("list claim components: %w", err)
	}
	defer rows.Close()

	components := []map[string]any{}
	for rows.Next() {
		var (
			position      int
			componentType string
			componentID   string
			role          string
		)
		if err := rows.Scan(&position, &componentType, &componentID, &role); err != nil {
			return nil, fmt.Errorf("scan claim component: %w", err)
		}
		components = append(components, map[string]any{
			"position": position,
			"type":     componentType,
			"id":       componentID,
			"role":     role,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claim components: %w", err)
	}
	return components, nil
}

const freezeColumns = `
	id, entity_type, entity_id, freeze_hash, witness_data, frozen_at, min_mint_date,
	requested_by, metadata, mint_id, minted_at`

func scanFreeze(row rowScanner) (*models.FreezeRecord, error) {
	var (
		record     models.FreezeRecord
		entityType string
		witness    []byte
		metadata   []byte
		mintID     uuid.NullUUID
		mintedAt   sql.NullTime
	)
	err := row.Scan(&record.ID, &entityType, &record.EntityID, &record.FreezeHash, &witness,
		&record.FrozenAt, &record.MinMintDate, &record.RequestedBy, &metadata, &mintID, &mintedAt)
	if err != nil {
		return nil, err
	}
	record.EntityType = models.EntityType(entityType)
	if err := json.Unmarshal(witness, &record.Witness); err != nil {
		return nil, fmt.Errorf("unmarshal witness: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &record.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal freeze metadata: %w", err)
		}
	}
	if mintID.Valid {
		id := mintID.UUID
		record.MintID = &id
	}
	if mintedAt.Valid {
		at := mintedAt.Time
		record.MintedAt = &at
	}
	return &record, nil
}

func (s *PostgresStore) FindFreezeByID(ctx context.Context, id uuid.UUID) (*models.FreezeRecord, error) {
	query := `SELECT ` + freezeColumns + ` FROM freeze_records WHERE id = $1`
	return s.findFreeze(ctx, query, id)
}

func (s *PostgresStore) FindFreezeByEntity(ctx context.Context, entityType models.EntityType, entityID string) (*models.FreezeRecord, error) {
	query := `SELECT ` + freezeColumns + ` FROM freeze_records WHERE entity_type = $1 AND entity_id = $2`
	return s.findFreeze(ctx, query, string(entityType), entityID)
}

func (s *PostgresStore) findFreeze(ctx context.Context, query string, args ...any) (*models.FreezeRecord, error) {
	record, err := scanFreeze(s.execer(ctx).QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find freeze record: %w", err)
	}
	return record, nil
}

const mintColumns = `
	id, freeze_id, transaction_hash, block_number, block_timestamp, gas_used,
	gas_price::text, cost_wei::text, contract_address, requested_by, created_at`

func scanMint(row rowScanner) (*models.MintRecord, error) {
	var (
		record      models.MintRecord
		blockNumber int64
		gasUsed     int64
	)
	err := row.Scan(&record.ID, &record.FreezeID, &record.TransactionHash, &blockNumber,
		&record.BlockTimestamp, &gasUsed, &record.Cost.GasPrice, &record.Cost.TotalWei,
		&record.ContractAddress, &record.RequestedBy, &record.CreatedAt)
	if err != nil {
		return nil, err
	}
	record.BlockNumber = uint64(blockNumber)
	record.Cost.GasUsed = uint64(gasUsed)
	return &record, nil
}

func (s *PostgresStore) FindMintByID(ctx context.Context, id uuid.UUID) (*models.MintRecord, error) {
	query := `SELECT ` + mintColumns + ` FROM mint_records WHERE id = $1`
	return s.findMint(ctx, query, id)
}

func (s *PostgresStore) FindMintByFreeze(ctx context.Context, freezeID uuid.UUID) (*models.MintRecord, error) {
	query := `SELECT ` + mintColumns + ` FROM mint_records WHERE freeze_id = $1`
	return s.findMint(ctx, query, freezeID)
}

func (s *PostgresStore) findMint(ctx context.Context, query string, args ...any) (*models.MintRecord, error) {
	record, err := scanMint(s.execer(ctx).QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find mint record: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) ListMinting(ctx context.Context, changedBefore time.Time, limit int) ([]models.Entity, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + entityColumns + `
		FROM anchorable_entities
		WHERE freeze_status = 'minting' AND status_changed_at < $1
		ORDER BY status_changed_at
		LIMIT $2`
	rows, err := s.execer(ctx).QueryContext(ctx, query, changedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list minting entities: %w", err)
	}
	defer rows.Close()

	var out []models.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan minting entity: %w", err)
		}
		out = append(out, *entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate minting entities: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) InsertFreeze(ctx context.Context, record models.FreezeRecord) error {
	witness, err := json.Marshal(record.Witness)
	if err != nil {
		return fmt.Errorf("marshal witness: %w", err)
	}
	metadata, err := json.Marshal(orEmptyMap(record.Metadata))
	if err != nil {
		return fmt.Errorf("marshal freeze metadata: %w", err)
	}
	query := `
		INSERT INTO freeze_records (id, entity_type, entity_id, freeze_hash, witness_data,
			frozen_at, min_mint_date, requested_by, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		record.ID,
		string(record.EntityType),
		record.EntityID,
		record.FreezeHash,
		witness,
		record.FrozenAt,
		record.MinMintDate,
		record.RequestedBy,
		metadata,
	)
	if err != nil {
		return classifyWrite("insert freeze record", err)
	}
	return nil
}

func (s *PostgresStore) InsertMint(ctx context.Context, record models.MintRecord) error {
	query := `
		INSERT INTO mint_records (id, freeze_id, transaction_hash, block_number, block_timestamp,
			gas_used, gas_price, cost_wei, contract_address, requested_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9, $10, $11)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		record.ID,
		record.FreezeID,
		record.TransactionHash,
		int64(record.BlockNumber),
		record.BlockTimestamp,
		int64(record.Cost.GasUsed),
		numericOrZero(record.Cost.GasPrice),
		numericOrZero(record.Cost.TotalWei),
		record.ContractAddress,
		record.RequestedBy,
		record.CreatedAt,
	)
	if err != nil {
		return classifyWrite("insert mint record", err)
	}
	return nil
}

func (s *PostgresStore) AttachMint(ctx context.Context, freezeID, mintID uuid.UUID, mintedAt time.Time) error {
	query := `
		UPDATE freeze_records
		SET mint_id = $2, minted_at = $3
		WHERE id = $1 AND mint_id IS NULL
	`
	return s.conditionalUpdate(ctx, "attach mint", query, freezeID, mintID, mintedAt)
}

func (s *PostgresStore) MarkFrozen(ctx context.Context, entityType models.EntityType, entityID, freezeHash string, at time.Time) error {
	query := `
		UPDATE anchorable_entities
		SET freeze_status = 'frozen_offchain', freeze_hash = $3, status_changed_at = $4
		WHERE entity_type = $1 AND id = $2 AND freeze_status = 'mutable'
	`
	return s.conditionalUpdate(ctx, "mark frozen", query, string(entityType), entityID, freezeHash, at)
}

func (s *PostgresStore) MarkMinted(ctx context.Context, entityType models.EntityType, entityID, txHash string, blockNumber uint64, at time.Time) error {
	query := `
		UPDATE anchorable_entities
		SET freeze_status = 'minted_onchain', ledger_tx_hash = $3, ledger_block_number = $4,
			status_changed_at = $5
		WHERE entity_type = $1 AND id = $2 AND freeze_status = 'minting'
	`
	return s.conditionalUpdate(ctx, "mark minted", query, string(entityType), entityID, txHash, int64(blockNumber), at)
}

func (s *PostgresStore) TransitionStatus(ctx context.Context, entityType models.EntityType, entityID string, from, to models.FreezeStatus, at time.Time) error {
	query := `
		UPDATE anchorable_entities
		SET freeze_status = $4, status_changed_at = $5
		WHERE entity_type = $1 AND id = $2 AND freeze_status = $3
	`
	return s.conditionalUpdate(ctx, "transition status", query, string(entityType), entityID, string(from), string(to), at)
}

// conditionalUpdate returns sentinel.ErrInvalidState when the WHERE clause
// matched nothing.
func (s *PostgresStore) conditionalUpdate(ctx context.Context, op, query string, args ...any) error {
	res, err := s.execer(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return classifyWrite(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return sentinel.ErrInvalidState
	}
	return nil
}

func classifyWrite(op string, err error) error {
	switch {
	case postgres.IsUniqueViolation(err):
		return fmt.Errorf("%s: %w", op, sentinel.ErrConflict)
	case postgres.IsForeignKeyViolation(err):
		return fmt.Errorf("%s: %w", op, sentinel.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func numericOrZero(v string) string {
	if v == "" {
		return "0"
	}
	return v
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

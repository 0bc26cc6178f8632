package trust

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"anchorage/internal/anchoring/models"
)

// PostgresOracle reads trust levels from the identity_trust table.
// Identities without a row have trust level 0.
type PostgresOracle struct {
	db *sql.DB
}

func NewPostgresOracle(db *sql.DB) *PostgresOracle {
	return &PostgresOracle{db: db}
}

func (o *PostgresOracle) TrustLevel(ctx context.Context, entityID string, entityType models.EntityType) (int, error) {
	if err := requireIdentity(entityType); err != nil {
		return 0, err
	}
	var level int
	err := o.db.QueryRowContext(ctx,
		`SELECT trust_level FROM identity_trust WHERE identity_id = $1`, entityID,
	).Scan(&level)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read trust level: %w", err)
	}
	return level, nil
}

package trust

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"anchorage/internal/anchoring/models"
	dErrors "anchorage/pkg/domain-errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const attestationIssuer = "anchorage-trust"

// Claims is the payload of a signed trust attestation.
type Claims struct {
	TrustLevel int `json:"trust_level"`
	jwt.RegisteredClaims
}

// AttestationSource returns the latest attestation token for an identity, or
// "" when none has been issued.
type AttestationSource interface {
	Attestation(ctx context.Context, identityID string) (string, error)
}

// AttestationOracle trusts only levels carried in HS256 tokens signed with
// the shared key and issued for the identity being checked.
type AttestationOracle struct {
	source     AttestationSource
	signingKey []byte
	now        func() time.Time
}

// AttestationOption configures an AttestationOracle.
type AttestationOption func(*AttestationOracle)

// WithClock overrides the time used to check expiry.
func WithClock(now func() time.Time) AttestationOption {
	return func(o *AttestationOracle) {
		o.now = now
	}
}

func NewAttestationOracle(source AttestationSource, signingKey string, opts ...AttestationOption) *AttestationOracle {
	o := &AttestationOracle{
		source:     source,
		signingKey: []byte(signingKey),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Issue signs an attestation. The trust service that computes levels is the
// normal issuer; this exists for seeding and tests.
func (o *AttestationOracle) Issue(identityID string, level int, expiresIn time.Duration) (string, error) {
	now := o.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		TrustLevel: level,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID,
			Issuer:    attestationIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(o.signingKey)
}

// Validate parses and verifies an attestation for identityID.
func (o *AttestationOracle) Validate(tokenString, identityID string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return o.signingKey, nil
	},
		jwt.WithIssuer(attestationIssuer),
		jwt.WithSubject(identityID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(o.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "trust attestation has expired")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "invalid trust attestation")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnavailable, "invalid trust attestation claims")
	}
	return claims, nil
}

// TrustLevel returns 0 when no attestation exists and an error when one
// exists but cannot be verified, so a tampered token never grants trust.
func (o *AttestationOracle) TrustLevel(ctx context.Context, entityID string, entityType models.EntityType) (int, error) {
	if err := requireIdentity(entityType); err != nil {
		return 0, err
	}
	token, err := o.source.Attestation(ctx, entityID)
	if err != nil {
		return 0, fmt.Errorf("load trust attestation: %w", err)
	}
	if token == "" {
		return 0, nil
	}
	claims, err := o.Validate(token, entityID)
	if err != nil {
		return 0, err
	}
	return claims.TrustLevel, nil
}

// PostgresAttestationSource reads tokens from the trust_attestations table.
type PostgresAttestationSource struct {
	db *sql.DB
}

func NewPostgresAttestationSource(db *sql.DB) *PostgresAttestationSource {
	return &PostgresAttestationSource{db: db}
}

func (s *PostgresAttestationSource) Attestation(ctx context.Context, identityID string) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx,
		`SELECT token FROM trust_attestations WHERE identity_id = $1`, identityID,
	).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

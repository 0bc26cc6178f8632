package trust

import (
	"context"
	"errors"
	"testing"
	"time"

	"anchorage/internal/anchoring/models"
	dErrors "anchorage/pkg/domain-errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapSource map[string]string

func (m mapSource) Attestation(_ context.Context, identityID string) (string, error) {
	return m[identityID], nil
}

type failingSource struct{ err error }

func (f failingSource) Attestation(context.Context, string) (string, error) {
	return "", f.err
}

const signingKey = "test-attestation-key"

func TestAttestationOracle_TrustLevel(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	source := mapSource{}
	oracle := NewAttestationOracle(source, signingKey, WithClock(clock))
	ctx := context.Background()

	t.Run("no attestation means no trust", func(t *testing.T) {
		level, err := oracle.TrustLevel(ctx, "E1", models.EntityTypeIdentity)
		require.NoError(t, err)
		assert.Equal(t, 0, level)
	})

	t.Run("valid attestation", func(t *testing.T) {
		token, err := oracle.Issue("E1", 3, time.Hour)
		require.NoError(t, err)
		source["E1"] = token

		level, err := oracle.TrustLevel(ctx, "E1", models.EntityTypeIdentity)
		require.NoError(t, err)
		assert.Equal(t, 3, level)
	})

	t.Run("attestation for another identity is rejected", func(t *testing.T) {
		token, err := oracle.Issue("someone-else", 3, time.Hour)
		require.NoError(t, err)
		source["E2"] = token

		_, err = oracle.TrustLevel(ctx, "E2", models.EntityTypeIdentity)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
	})

	t.Run("token signed with another key is rejected", func(t *testing.T) {
		forger := NewAttestationOracle(source, "other-key", WithClock(clock))
		token, err := forger.Issue("E3", 5, time.Hour)
		require.NoError(t, err)
		source["E3"] = token

		_, err = oracle.TrustLevel(ctx, "E3", models.EntityTypeIdentity)
		assert.ErrorContains(t, err, "invalid trust attestation")
	})

	t.Run("expired attestation fails closed", func(t *testing.T) {
		token, err := oracle.Issue("E4", 3, time.Minute)
		require.NoError(t, err)
		source["E4"] = token

		later := NewAttestationOracle(source, signingKey, WithClock(func() time.Time { return now.Add(time.Hour) }))
		_, err = later.TrustLevel(ctx, "E4", models.EntityTypeIdentity)
		assert.ErrorContains(t, err, "expired")
	})

	t.Run("non-identity subjects are rejected", func(t *testing.T) {
		_, err := oracle.TrustLevel(ctx, "C1", models.EntityTypeClaim)
		assert.Error(t, err)
	})
}

func TestAttestationOracle_SourceFailure(t *testing.T) {
	down := errors.New("db down")
	oracle := NewAttestationOracle(failingSource{err: down}, signingKey)
	_, err := oracle.TrustLevel(context.Background(), "E1", models.EntityTypeIdentity)
	assert.ErrorIs(t, err, down)
}

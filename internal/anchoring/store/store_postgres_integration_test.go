//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"anchorage/internal/anchoring/models"
	"anchorage/internal/anchoring/ports"
	"anchorage/internal/anchoring/store"
	"anchorage/pkg/platform/sentinel"
	"anchorage/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	now      time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx,
		"mint_records", "freeze_records", "entity_verifications", "entity_relationships",
		"evidence_custody", "claim_components", "anchorable_entities", "outbox")
	s.Require().NoError(err)
	s.now = time.Now().UTC().Truncate(time.Microsecond)
	s.seedIdentity("E1")
}

func (s *PostgresStoreSuite) seedIdentity(id string) {
	_, err := s.postgres.DB.ExecContext(context.Background(), `
		INSERT INTO anchorable_entities (entity_type, id, payload, status_changed_at)
		VALUES ('identity', $1, '{"name":"Ada"}', $2)`, id, s.now)
	s.Require().NoError(err)
	_, err = s.postgres.DB.ExecContext(context.Background(), `
		INSERT INTO entity_verifications (id, entity_type, entity_id, verification_type, status)
		VALUES ($1, 'identity', $2, 'email', 'completed')`, "v-"+id, id)
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) freezeRecord(entityID, hash string) models.FreezeRecord {
	return models.FreezeRecord{
		ID:          uuid.New(),
		EntityType:  models.EntityTypeIdentity,
		EntityID:    entityID,
		FreezeHash:  hash,
		Witness:     models.WitnessData{Version: "1.0", CombinedHash: hash, RelationshipHashes: []string{}, VerificationHashes: []string{}},
		FrozenAt:    s.now,
		MinMintDate: s.now.Add(7 * 24 * time.Hour),
		RequestedBy: "admin",
		Metadata:    map[string]any{"reason": "audit"},
	}
}

func (s *PostgresStoreSuite) TestFindEntity() {
	ctx := context.Background()
	entity, err := s.store.FindEntity(ctx, models.EntityTypeIdentity, "E1")
	s.Require().NoError(err)
	s.Equal(models.StatusMutable, entity.FreezeStatus)
	s.Equal("Ada", entity.Payload["name"])

	_, err = s.store.FindEntity(ctx, models.EntityTypeIdentity, "missing")
	s.ErrorIs(err, sentinel.ErrNotFound)

	verifications, err := s.store.ListVerifications(ctx, models.EntityTypeIdentity, "E1")
	s.Require().NoError(err)
	s.Require().Len(verifications, 1)
	s.Equal("email", verifications[0].Type)
}

func (s *PostgresStoreSuite) TestFreezeRoundTripAndUniqueness() {
	ctx := context.Background()
	record := s.freezeRecord("E1", "hash-1")
	s.Require().NoError(s.store.InsertFreeze(ctx, record))

	found, err := s.store.FindFreezeByEntity(ctx, models.EntityTypeIdentity, "E1")
	s.Require().NoError(err)
	s.Equal(record.ID, found.ID)
	s.Equal("hash-1", found.Witness.CombinedHash)
	s.True(record.MinMintDate.Equal(found.MinMintDate))
	s.False(found.IsMinted())

	err = s.store.InsertFreeze(ctx, s.freezeRecord("E1", "hash-2"))
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestMintRoundTrip() {
	ctx := context.Background()
	freeze := s.freezeRecord("E1", "hash-1")
	s.Require().NoError(s.store.InsertFreeze(ctx, freeze))

	mint := models.MintRecord{
		ID:              uuid.New(),
		FreezeID:        freeze.ID,
		TransactionHash: "0xabc",
		BlockNumber:     42,
		BlockTimestamp:  s.now,
		Cost:            models.Cost{GasUsed: 52000, GasPrice: "20000000000", TotalWei: "1040000000000000"},
		ContractAddress: "0xcontract",
		RequestedBy:     "admin",
		CreatedAt:       s.now,
	}
	s.Require().NoError(s.store.InsertMint(ctx, mint))
	s.Require().NoError(s.store.AttachMint(ctx, freeze.ID, mint.ID, s.now))
	s.ErrorIs(s.store.AttachMint(ctx, freeze.ID, uuid.New(), s.now), sentinel.ErrInvalidState)

	found, err := s.store.FindMintByFreeze(ctx, freeze.ID)
	s.Require().NoError(err)
	s.Equal(uint64(42), found.BlockNumber)
	s.Equal("20000000000", found.Cost.GasPrice)
	s.Equal("1040000000000000", found.Cost.TotalWei)

	dup := mint
	dup.ID = uuid.New()
	s.ErrorIs(s.store.InsertMint(ctx, dup), sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestRunInTx_RollsBack() {
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx ports.Store) error {
		if _, err := tx.LockEntity(ctx, models.EntityTypeIdentity, "E1"); err != nil {
			return err
		}
		if err := tx.InsertFreeze(ctx, s.freezeRecord("E1", "hash-1")); err != nil {
			return err
		}
		if err := tx.MarkFrozen(ctx, models.EntityTypeIdentity, "E1", "hash-1", s.now); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	_, err = s.store.FindFreezeByEntity(ctx, models.EntityTypeIdentity, "E1")
	s.ErrorIs(err, sentinel.ErrNotFound)
	entity, err := s.store.FindEntity(ctx, models.EntityTypeIdentity, "E1")
	s.Require().NoError(err)
	s.Equal(models.StatusMutable, entity.FreezeStatus)
}

// TestConcurrentMintingTransition verifies that only one caller moves the
// entity into minting.
func (s *PostgresStoreSuite) TestConcurrentMintingTransition() {
	ctx := context.Background()
	s.Require().NoError(s.store.MarkFrozen(ctx, models.EntityTypeIdentity, "E1", "hash-1", s.now))

	const goroutines = 20
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.RunInTx(ctx, func(ctx context.Context, tx ports.Store) error {
				return tx.TransitionStatus(ctx, models.EntityTypeIdentity, "E1",
					models.StatusFrozenOffchain, models.StatusMinting, time.Now())
			})
			if err == nil {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), winners.Load())

	stale, err := s.store.ListMinting(ctx, time.Now().Add(time.Minute), 10)
	s.Require().NoError(err)
	s.Require().Len(stale, 1)
	s.Equal("E1", stale[0].ID)
}

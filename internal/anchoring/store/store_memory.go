package store

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"anchorage/internal/anchoring/models"
	"anchorage/internal/anchoring/ports"
	"anchorage/pkg/platform/sentinel"

	"github.com/google/uuid"
)

type entityKey struct {
	Type models.EntityType
	ID   string
}

// state is one consistent copy of every table. Transactions work on a clone
// and swap it in on commit.
type state struct {
	entities       map[entityKey]models.Entity
	relationships  map[entityKey][]models.Relationship
	verifications  map[entityKey][]models.Verification
	extra          map[entityKey]map[string]any
	freezes        map[uuid.UUID]models.FreezeRecord
	freezeByEntity map[entityKey]uuid.UUID
	freezeByHash   map[string]uuid.UUID
	mints          map[uuid.UUID]models.MintRecord
	mintByFreeze   map[uuid.UUID]uuid.UUID
}

func newState() *state {
	return &state{
		entities:       make(map[entityKey]models.Entity),
		relationships:  make(map[entityKey][]models.Relationship),
		verifications:  make(map[entityKey][]models.Verification),
		extra:          make(map[entityKey]map[string]any),
		freezes:        make(map[uuid.UUID]models.FreezeRecord),
		freezeByEntity: make(map[entityKey]uuid.UUID),
		freezeByHash:   make(map[string]uuid.UUID),
		mints:          make(map[uuid.UUID]models.MintRecord),
		mintByFreeze:   make(map[uuid.UUID]uuid.UUID),
	}
}

// clone copies the mutable tables. Relationships, verifications and extras
// are only written by seeding, so their values are shared.
func (st *state) clone() *state {
	return &state{
		entities:       maps.Clone(st.entities),
		relationships:  maps.Clone(st.relationships),
		verifications:  maps.Clone(st.verifications),
		extra:          maps.Clone(st.extra),
		freezes:        maps.Clone(st.freezes),
		freezeByEntity: maps.Clone(st.freezeByEntity),
		freezeByHash:   maps.Clone(st.freezeByHash),
		mints:          maps.Clone(st.mints),
		mintByFreeze:   maps.Clone(st.mintByFreeze),
	}
}

type memoryTxKey struct{}

// InMemoryStore is a ports.Store for tests and local mode. Writers are
// serialized; RunInTx stages changes on a copy that is discarded when fn
// fails.
type InMemoryStore struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	st   *state

	faultMu sync.Mutex
	faults  map[string]error
}

var (
	_ ports.Store   = (*InMemoryStore)(nil)
	_ ports.StoreTx = (*InMemoryStore)(nil)
)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{st: newState(), faults: make(map[string]error)}
}

// FailOn makes the named write operation (for example "InsertFreeze") return
// err until cleared with a nil err.
func (s *InMemoryStore) FailOn(op string, err error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

func (s *InMemoryStore) fault(op string) error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	return s.faults[op]
}

// PutEntity inserts or replaces an entity. A zero FreezeStatus becomes mutable.
func (s *InMemoryStore) PutEntity(entity models.Entity) {
	if entity.FreezeStatus == "" {
		entity.FreezeStatus = models.StatusMutable
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.entities[entityKey{entity.Type, entity.ID}] = entity
}

func (s *InMemoryStore) AddRelationship(entityType models.EntityType, entityID string, rel models.Relationship) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	key := entityKey{entityType, entityID}
	s.st.relationships[key] = append(slices.Clone(s.st.relationships[key]), rel)
}

func (s *InMemoryStore) AddVerification(entityType models.EntityType, entityID string, v models.Verification) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	key := entityKey{entityType, entityID}
	s.st.verifications[key] = append(slices.Clone(s.st.verifications[key]), v)
}

func (s *InMemoryStore) SetExtra(entityType models.EntityType, entityID string, extra map[string]any) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.extra[entityKey{entityType, entityID}] = maps.Clone(extra)
}

// RunInTx runs fn against a staged copy of the store. The copy replaces the
// live state only when fn returns nil. Nested calls join the outer
// transaction.
func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, store ports.Store) error) error {
	if tx, ok := ctx.Value(memoryTxKey{}).(*memoryTx); ok && tx.parent == s {
		return fn(ctx, tx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	staged := s.st.clone()
	s.mu.RUnlock()

	tx := &memoryTx{parent: s, st: staged}
	if err := fn(context.WithValue(ctx, memoryTxKey{}, tx), tx); err != nil {
		return err
	}

	s.mu.Lock()
	s.st = staged
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) view() *memoryTx {
	return &memoryTx{parent: s, st: s.st}
}

func (s *InMemoryStore) FindEntity(ctx context.Context, entityType models.EntityType, entityID string) (*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().FindEntity(ctx, entityType, entityID)
}

func (s *InMemoryStore) ListRelationships(ctx context.Context, entityType models.EntityType, entityID string) ([]models.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListRelationships(ctx, entityType, entityID)
}

func (s *InMemoryStore) ListVerifications(ctx context.Context, entityType models.EntityType, entityID string) ([]models.Verification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListVerifications(ctx, entityType, entityID)
}

func (s *InMemoryStore) LoadExtra(ctx context.Context, entityType models.EntityType, entityID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().LoadExtra(ctx, entityType, entityID)
}

func (s *InMemoryStore) FindFreezeByID(ctx context.Context, id uuid.UUID) (*models.FreezeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().FindFreezeByID(ctx, id)
}

func (s *InMemoryStore) FindFreezeByEntity(ctx context.Context, entityType models.EntityType, entityID string) (*models.FreezeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().FindFreezeByEntity(ctx, entityType, entityID)
}

func (s *InMemoryStore) FindMintByID(ctx context.Context, id uuid.UUID) (*models.MintRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().FindMintByID(ctx, id)
}

func (s *InMemoryStore) FindMintByFreeze(ctx context.Context, freezeID uuid.UUID) (*models.MintRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().FindMintByFreeze(ctx, freezeID)
}

func (s *InMemoryStore) ListMinting(ctx context.Context, changedBefore time.Time, limit int) ([]models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListMinting(ctx, changedBefore, limit)
}

func (s *InMemoryStore) LockEntity(ctx context.Context, entityType models.EntityType, entityID string) (*models.Entity, error) {
	return s.FindEntity(ctx, entityType, entityID)
}

// Write methods outside RunInTx each run as their own transaction.

func (s *InMemoryStore) InsertFreeze(ctx context.Context, record models.FreezeRecord) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx ports.Store) error {
		return tx.InsertFreeze(ctx, record)
	})
}

func (s *InMemoryStore) InsertMint(ctx context.Context, record models.MintRecord) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx ports.Store) error {
		return tx.InsertMint(ctx, record)
	})
}

func (s *InMemoryStore) AttachMint(ctx context.Context, freezeID, mintID uuid.UUID, mintedAt time.Time) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx ports.Store) error {
		return tx.AttachMint(ctx, freezeID, mintID, mintedAt)
	})
}

func (s *InMemoryStore) MarkFrozen(ctx context.Context, entityType models.EntityType, entityID, freezeHash string, at time.Time) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx ports.Store) error {
		return tx.MarkFrozen(ctx, entityType, entityID, freezeHash, at)
	})
}

func (s *InMemoryStore) MarkMinted(ctx context.Context, entityType models.EntityType, entityID, txHash string, blockNumber uint64, at time.Time) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx ports.Store) error {
		return tx.MarkMinted(ctx, entityType, entityID, txHash, blockNumber, at)
	})
}

func (s *InMemoryStore) TransitionStatus(ctx context.Context, entityType models.EntityType, entityID string, from, to models.FreezeStatus, at time.Time) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx ports.Store) error {
		return tx.TransitionStatus(ctx, entityType, entityID, from, to, at)
	})
}

// memoryTx reads and writes one state without locking. The caller holds
// either the read lock or the transaction lock.
type memoryTx struct {
	parent *InMemoryStore
	st     *state
}

func (t *memoryTx) FindEntity(_ context.Context, entityType models.EntityType, entityID string) (*models.Entity, error) {
	entity, ok := t.st.entities[entityKey{entityType, entityID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &entity, nil
}

func (t *memoryTx) ListRelationships(_ context.Context, entityType models.EntityType, entityID string) ([]models.Relationship, error) {
	return slices.Clone(t.st.relationships[entityKey{entityType, entityID}]), nil
}

func (t *memoryTx) ListVerifications(_ context.Context, entityType models.EntityType, entityID string) ([]models.Verification, error) {
	return slices.Clone(t.st.verifications[entityKey{entityType, entityID}]), nil
}

func (t *memoryTx) LoadExtra(_ context.Context, entityType models.EntityType, entityID string) (map[string]any, error) {
	return maps.Clone(t.st.extra[entityKey{entityType, entityID}]), nil
}

func (t *memoryTx) FindFreezeByID(_ context.Context, id uuid.UUID) (*models.FreezeRecord, error) {
	record, ok := t.st.freezes[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &record, nil
}

func (t *memoryTx) FindFreezeByEntity(ctx context.Context, entityType models.EntityType, entityID string) (*models.FreezeRecord, error) {
	id, ok := t.st.freezeByEntity[entityKey{entityType, entityID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return t.FindFreezeByID(ctx, id)
}

func (t *memoryTx) FindMintByID(_ context.Context, id uuid.UUID) (*models.MintRecord, error) {
	record, ok := t.st.mints[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &record, nil
}

func (t *memoryTx) FindMintByFreeze(ctx context.Context, freezeID uuid.UUID) (*models.MintRecord, error) {
	id, ok := t.st.mintByFreeze[freezeID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return t.FindMintByID(ctx, id)
}

func (t *memoryTx) ListMinting(_ context.Context, changedBefore time.Time, limit int) ([]models.Entity, error) {
	var out []models.Entity
	for _, entity := range t.st.entities {
		if entity.FreezeStatus == models.StatusMinting && entity.StatusChangedAt.Before(changedBefore) {
			out = append(out, entity)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StatusChangedAt.Before(out[j].StatusChangedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memoryTx) LockEntity(ctx context.Context, entityType models.EntityType, entityID string) (*models.Entity, error) {
	return t.FindEntity(ctx, entityType, entityID)
}

func (t *memoryTx) InsertFreeze(_ context.Context, record models.FreezeRecord) error {
	if err := t.parent.fault("InsertFreeze"); err != nil {
		return err
	}
	key := entityKey{record.EntityType, record.EntityID}
	if _, ok := t.st.entities[key]; !ok {
		return sentinel.ErrNotFound
	}
	if _, ok := t.st.freezeByEntity[key]; ok {
		return sentinel.ErrConflict
	}
	if _, ok := t.st.freezeByHash[record.FreezeHash]; ok {
		return sentinel.ErrConflict
	}
	if _, ok := t.st.freezes[record.ID]; ok {
		return sentinel.ErrConflict
	}
	t.st.freezes[record.ID] = record
	t.st.freezeByEntity[key] = record.ID
	t.st.freezeByHash[record.FreezeHash] = record.ID
	return nil
}

func (t *memoryTx) InsertMint(_ context.Context, record models.MintRecord) error {
	if err := t.parent.fault("InsertMint"); err != nil {
		return err
	}
	if _, ok := t.st.freezes[record.FreezeID]; !ok {
		return sentinel.ErrNotFound
	}
	if _, ok := t.st.mintByFreeze[record.FreezeID]; ok {
		return sentinel.ErrConflict
	}
	if _, ok := t.st.mints[record.ID]; ok {
		return sentinel.ErrConflict
	}
	t.st.mints[record.ID] = record
	t.st.mintByFreeze[record.FreezeID] = record.ID
	return nil
}

func (t *memoryTx) AttachMint(_ context.Context, freezeID, mintID uuid.UUID, mintedAt time.Time) error {
	if err := t.parent.fault("AttachMint"); err != nil {
		return err
	}
	record, ok := t.st.freezes[freezeID]
	if !ok || record.MintID != nil {
		return sentinel.ErrInvalidState
	}
	record.MintID = &mintID
	record.MintedAt = &mintedAt
	t.st.freezes[freezeID] = record
	return nil
}

func (t *memoryTx) MarkFrozen(_ context.Context, entityType models.EntityType, entityID, freezeHash string, at time.Time) error {
	if err := t.parent.fault("MarkFrozen"); err != nil {
		return err
	}
	return t.update(entityKey{entityType, entityID}, models.StatusMutable, func(e *models.Entity) {
		e.FreezeStatus = models.StatusFrozenOffchain
		e.FreezeHash = freezeHash
		e.StatusChangedAt = at
	})
}

func (t *memoryTx) MarkMinted(_ context.Context, entityType models.EntityType, entityID, txHash string, blockNumber uint64, at time.Time) error {
	if err := t.parent.fault("MarkMinted"); err != nil {
		return err
	}
	return t.update(entityKey{entityType, entityID}, models.StatusMinting, func(e *models.Entity) {
		e.FreezeStatus = models.StatusMintedOnchain
		e.LedgerTxHash = txHash
		e.LedgerBlockNumber = &blockNumber
		e.StatusChangedAt = at
	})
}

func (t *memoryTx) TransitionStatus(_ context.Context, entityType models.EntityType, entityID string, from, to models.FreezeStatus, at time.Time) error {
	if err := t.parent.fault("TransitionStatus"); err != nil {
		return err
	}
	return t.update(entityKey{entityType, entityID}, from, func(e *models.Entity) {
		e.FreezeStatus = to
		e.StatusChangedAt = at
	})
}

// update applies mutate only when the entity is currently in from.
func (t *memoryTx) update(key entityKey, from models.FreezeStatus, mutate func(*models.Entity)) error {
	entity, ok := t.st.entities[key]
	if !ok || entity.FreezeStatus != from {
		return sentinel.ErrInvalidState
	}
	mutate(&entity)
	t.st.entities[key] = entity
	return nil
}

package trust

import (
	"context"
	"sync"

	"anchorage/internal/anchoring/models"
)

// StaticOracle serves trust levels held in memory. It backs local mode and
// tests; unknown identities have level 0.
type StaticOracle struct {
	mu     sync.RWMutex
	levels map[string]int
	err    error
}

func NewStaticOracle() *StaticOracle {
	return &StaticOracle{levels: make(map[string]int)}
}

func (o *StaticOracle) Set(identityID string, level int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.levels[identityID] = level
}

// FailWith makes every lookup return err until cleared with nil.
func (o *StaticOracle) FailWith(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

func (o *StaticOracle) TrustLevel(_ context.Context, entityID string, entityType models.EntityType) (int, error) {
	if err := requireIdentity(entityType); err != nil {
		return 0, err
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.err != nil {
		return 0, o.err
	}
	return o.levels[entityID], nil
}

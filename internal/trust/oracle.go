// Package trust provides the trust level oracles consulted by the eligibility
// policy. Trust levels are computed elsewhere; this package only reads them.
package trust

import (
	"context"
	"fmt"

	"anchorage/internal/anchoring/models"
)

// Oracle mirrors ports.TrustOracle so decorators can wrap any source.
type Oracle interface {
	TrustLevel(ctx context.Context, entityID string, entityType models.EntityType) (int, error)
}

// requireIdentity rejects lookups for non-identity subjects. The policy
// engine resolves evidence and claims to their author before asking.
func requireIdentity(entityType models.EntityType) error {
	if entityType != models.EntityTypeIdentity {
		return fmt.Errorf("trust level is only defined for identities, got %q", entityType)
	}
	return nil
}

// Package witness computes the composite hash a freeze commits to.
//
// The generator is pure: it never touches storage and has no error path.
// Relationship and verification hashes are sorted before folding so the
// combined hash does not depend on the order rows came back from a query.
package witness

import (
	"sort"
	"time"

	"anchorage/internal/anchoring/models"
)

// Version tags the canonical layout. Bump it whenever a unit's shape changes.
const Version = "1.0"

type entityUnit struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	AuthorID       string         `json:"author_id,omitempty"`
	Payload        map[string]any `json:"payload"`
	ContentHash    string         `json:"content_hash,omitempty"`
	StorageLocator string         `json:"storage_locator,omitempty"`
	ValidityStatus string         `json:"validity_status,omitempty"`
	ValidityScore  any            `json:"validity_score,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}

type metadataUnit struct {
	Version     string `json:"version"`
	GeneratedAt string `json:"generated_at"`
	EntityType  string `json:"entity_type"`
	EntityID    string `json:"entity_id"`
}

type combinedUnit struct {
	EntityHash         string   `json:"entity_hash"`
	MetadataHash       string   `json:"metadata_hash"`
	RelationshipHashes []string `json:"relationship_hashes"`
	VerificationHashes []string `json:"verification_hashes"`
}

// Generate builds the witness for a snapshot taken at generatedAt.
func Generate(snap models.Snapshot, generatedAt time.Time) models.WitnessData {
	generatedAt = generatedAt.UTC()
	e := snap.Entity

	unit := entityUnit{
		ID:             e.ID,
		Type:           string(e.Type),
		AuthorID:       e.AuthorID,
		Payload:        finiteMap(e.Payload),
		ContentHash:    e.ContentHash,
		StorageLocator: e.StorageLocator,
		ValidityStatus: e.ValidityStatus,
		Extra:          finiteMap(snap.Extra),
	}
	if e.ValidityScore != nil {
		unit.ValidityScore = finiteFloat(*e.ValidityScore)
	}
	entityHash := hashUnit(unit)
	metadataHash := hashUnit(metadataUnit{
		Version:     Version,
		GeneratedAt: generatedAt.Format(time.RFC3339Nano),
		EntityType:  string(e.Type),
		EntityID:    e.ID,
	})

	relHashes := make([]string, 0, len(snap.Relationships))
	for _, rel := range snap.Relationships {
		rel.CreatedAt = rel.CreatedAt.UTC()
		relHashes = append(relHashes, hashUnit(rel))
	}
	sort.Strings(relHashes)

	verHashes := make([]string, 0, len(snap.Verifications))
	for _, v := range snap.Verifications {
		if v.VerifiedAt != nil {
			at := v.VerifiedAt.UTC()
			v.VerifiedAt = &at
		}
		verHashes = append(verHashes, hashUnit(v))
	}
	sort.Strings(verHashes)

	combined := hashUnit(combinedUnit{
		EntityHash:         entityHash,
		MetadataHash:       metadataHash,
		RelationshipHashes: relHashes,
		VerificationHashes: verHashes,
	})

	return models.WitnessData{
		Version:            Version,
		GeneratedAt:        generatedAt,
		EntityHash:         entityHash,
		MetadataHash:       metadataHash,
		RelationshipHashes: relHashes,
		VerificationHashes: verHashes,
		CombinedHash:       combined,
	}
}

// Verify recomputes the combined hash from the stored component hashes.
// It detects tampering with a persisted witness without the original data.
func Verify(w models.WitnessData) bool {
	rel := orEmpty(w.RelationshipHashes)
	ver := orEmpty(w.VerificationHashes)
	if !sort.StringsAreSorted(rel) || !sort.StringsAreSorted(ver) {
		return false
	}
	return hashUnit(combinedUnit{
		EntityHash:         w.EntityHash,
		MetadataHash:       w.MetadataHash,
		RelationshipHashes: rel,
		VerificationHashes: ver,
	}) == w.CombinedHash
}

func orEmpty(hashes []string) []string {
	if hashes == nil {
		return []string{}
	}
	return hashes
}

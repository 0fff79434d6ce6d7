package port

import (
	"context"

	"github.com/carematch/matchengine/internal/domain"
)

// SearchHit is one ranked match from the vector index.
type SearchHit struct {
	EntityID string
	Score    float64
}

// QueryOptions controls filtering and search mode for one index query.
// At most one of AllowedIDs and Filter should be set; when both are nil
// the whole partition is searched.
type QueryOptions struct {
	// AllowedIDs restricts results to an explicit, caller-supplied id set.
	AllowedIDs []string

	// Filter is an eligibility predicate evaluated inside the index scan,
	// avoiding a materialized id set at corpus scale. Entities for which
	// it returns false never appear in results.
	Filter func(entityID string) bool

	// Exact forces brute-force search regardless of corpus size.
	Exact bool
}

// VectorIndex answers approximate top-K nearest-neighbor queries over
// two partitions of L2-normalized vectors. Entries are a derived cache:
// the index is fully reconstructible from the embedding store.
type VectorIndex interface {
	// Upsert atomically replaces the entry for the entity. The vector is
	// normalized once at insert time.
	Upsert(entityType domain.EntityType, entityID string, vector []float32) error

	// Remove deletes the entry. Later queries never return a removed id.
	Remove(entityType domain.EntityType, entityID string)

	// Query returns at most k entries from the partition ranked by cosine
	// similarity to the query vector, strictly descending with ties broken
	// by lower entity id.
	Query(ctx context.Context, entityType domain.EntityType, vector []float32, k int, opts QueryOptions) ([]SearchHit, error)

	// Contains reports whether the entity currently has a live entry.
	Contains(entityType domain.EntityType, entityID string) bool

	// Len returns the number of live entries in the partition.
	Len(entityType domain.EntityType) int

	// Rebuild replaces the whole index content from fresh store records.
	// Readers observe either the old or the new index, never a mix.
	Rebuild(records []domain.EmbeddingRecord) error
}

// Package index provides the partitioned vector index: approximate
// top-K retrieval over job and professional embeddings with query-time
// eligibility filtering.
//
// Vectors are L2-normalized once at insert so query-time similarity is
// a dot-product-derived distance only. Corpora at or below a
// configurable threshold are searched exactly; above it a navigable
// small world graph takes over, and callers can always force exact mode.
package index

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/carematch/matchengine/internal/domain"
	"github.com/carematch/matchengine/internal/port"
)

// Compile-time check to ensure Index satisfies the port interface.
var _ port.VectorIndex = (*Index)(nil)

// Config contains configuration options for the vector index.
type Config struct {
	// Dimension is the fixed vector dimensionality, enforced for all
	// inserts and queries.
	Dimension int

	// ExactSearchThreshold is the live-count at or below which a
	// partition is searched exactly. Zero disables the approximate
	// graph entirely.
	ExactSearchThreshold int

	// M and EFConstruction tune graph construction, EFSearch the query
	// candidate list.
	M              int
	EFConstruction int
	EFSearch       int

	// RandomSeed drives graph level assignment.
	RandomSeed int64
}

// DefaultConfig holds the default index configuration.
var DefaultConfig = Config{
	ExactSearchThreshold: 1000,
	M:                    16,
	EFConstruction:       200,
	EFSearch:             100,
}

type partitionSet struct {
	jobs          *partition
	professionals *partition
}

func (ps *partitionSet) byType(t domain.EntityType) *partition {
	if t == domain.EntityTypeJob {
		return ps.jobs
	}
	return ps.professionals
}

// Index is the two-partition vector index. All content is derived from
// the embedding store and fully reconstructible via Rebuild.
type Index struct {
	cfg Config

	// rebuildMu lets upserts and removals for distinct entities proceed
	// in parallel (shared lock) while a structural rebuild takes the
	// exclusive lock for its pointer swap. Read queries never touch it.
	rebuildMu sync.RWMutex
	parts     atomic.Pointer[partitionSet]
}

// New creates an empty index for the given configuration.
func New(cfg Config) (*Index, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("index: invalid dimension %d", cfg.Dimension)
	}
	if cfg.M == 0 {
		cfg.M = DefaultConfig.M
	}
	if cfg.EFConstruction == 0 {
		cfg.EFConstruction = DefaultConfig.EFConstruction
	}
	if cfg.EFSearch == 0 {
		cfg.EFSearch = DefaultConfig.EFSearch
	}

	idx := &Index{cfg: cfg}
	idx.parts.Store(&partitionSet{
		jobs:          newPartition(cfg),
		professionals: newPartition(cfg),
	})
	return idx, nil
}

// Upsert atomically replaces the entry for the entity with a normalized
// copy of the vector.
func (idx *Index) Upsert(entityType domain.EntityType, entityID string, vector []float32) error {
	if len(vector) != idx.cfg.Dimension {
		return &port.DimensionMismatchError{Expected: idx.cfg.Dimension, Actual: len(vector)}
	}
	normalized, ok := normalizeL2(vector)
	if !ok {
		return fmt.Errorf("index: cannot normalize zero vector for %s %s", entityType, entityID)
	}

	idx.rebuildMu.RLock()
	defer idx.rebuildMu.RUnlock()
	idx.parts.Load().byType(entityType).upsert(entityID, normalized)
	return nil
}

// Remove deletes the entity's entry. Subsequent queries never return it.
func (idx *Index) Remove(entityType domain.EntityType, entityID string) {
	idx.rebuildMu.RLock()
	defer idx.rebuildMu.RUnlock()
	idx.parts.Load().byType(entityType).remove(entityID)
}

// Query returns at most k hits from the partition ranked by cosine
// similarity, honoring the eligibility filter inside the scan.
func (idx *Index) Query(ctx context.Context, entityType domain.EntityType, vector []float32, k int, opts port.QueryOptions) ([]port.SearchHit, error) {
	return idx.parts.Load().byType(entityType).query(ctx, vector, k, opts)
}

// Contains reports whether the entity has a live entry.
func (idx *Index) Contains(entityType domain.EntityType, entityID string) bool {
	return idx.parts.Load().byType(entityType).contains(entityID)
}

// Len returns the number of live entries in the partition.
func (idx *Index) Len(entityType domain.EntityType) int {
	return idx.parts.Load().byType(entityType).count()
}

// Rebuild reconstructs the whole index from fresh store records and
// swaps it in atomically. Readers observe either the old or the new
// index, never a partially built one.
func (idx *Index) Rebuild(records []domain.EmbeddingRecord) error {
	next := &partitionSet{
		jobs:          newPartition(idx.cfg),
		professionals: newPartition(idx.cfg),
	}
	for _, rec := range records {
		if rec.Status != domain.EmbeddingStatusFresh {
			continue
		}
		if len(rec.Vector) != idx.cfg.Dimension {
			return &port.DimensionMismatchError{Expected: idx.cfg.Dimension, Actual: len(rec.Vector)}
		}
		normalized, ok := normalizeL2(rec.Vector)
		if !ok {
			return fmt.Errorf("index: zero vector in store for %s %s", rec.EntityType, rec.EntityID)
		}
		next.byType(rec.EntityType).upsert(rec.EntityID, normalized)
	}

	idx.rebuildMu.Lock()
	idx.parts.Store(next)
	idx.rebuildMu.Unlock()
	return nil
}

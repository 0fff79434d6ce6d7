package port

import (
	"context"

	"github.com/carematch/matchengine/internal/domain"
)

// EmbeddingStore persists one current EmbeddingRecord per
// (entity_type, entity_id). It is the source of truth the vector index
// is rebuilt from.
type EmbeddingStore interface {
	// Get returns the record for the entity, or ErrRecordNotFound.
	Get(ctx context.Context, entityType domain.EntityType, entityID string) (*domain.EmbeddingRecord, error)

	// Put inserts or fully replaces the record for its entity.
	Put(ctx context.Context, rec *domain.EmbeddingRecord) error

	// Delete removes the record. Deleting an unknown entity is a no-op.
	Delete(ctx context.Context, entityType domain.EntityType, entityID string) error

	// ListFresh returns every record whose status is fresh, for index
	// rebuilds.
	ListFresh(ctx context.Context) ([]domain.EmbeddingRecord, error)

	// CountByStatus returns record counts grouped by lifecycle status.
	CountByStatus(ctx context.Context) (map[domain.EmbeddingStatus]int, error)
}

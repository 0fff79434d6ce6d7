package store

import (
	"context"
	"sync"
	"time"

	"github.com/carematch/matchengine/internal/domain"
	"github.com/carematch/matchengine/internal/port"
)

// Compile-time check to ensure MemoryStore satisfies the port.
var _ port.EmbeddingStore = (*MemoryStore)(nil)

type recordKey struct {
	entityType domain.EntityType
	entityID   string
}

// MemoryStore is an in-memory embedding store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[recordKey]domain.EmbeddingRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordKey]domain.EmbeddingRecord)}
}

// Get returns the record for the entity, or port.ErrRecordNotFound.
func (s *MemoryStore) Get(_ context.Context, entityType domain.EntityType, entityID string) (*domain.EmbeddingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[recordKey{entityType, entityID}]
	if !ok {
		return nil, port.ErrRecordNotFound
	}
	out := cloneRecord(rec)
	return &out, nil
}

// Put inserts or fully replaces the record for its entity.
func (s *MemoryStore) Put(_ context.Context, rec *domain.EmbeddingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneRecord(*rec)
	stored.UpdatedAt = time.Now()
	s.records[recordKey{rec.EntityType, rec.EntityID}] = stored
	return nil
}

// Delete removes the record. Unknown entities are a no-op.
func (s *MemoryStore) Delete(_ context.Context, entityType domain.EntityType, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, recordKey{entityType, entityID})
	return nil
}

// ListFresh returns every fresh record, for index rebuilds.
func (s *MemoryStore) ListFresh(_ context.Context) ([]domain.EmbeddingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.EmbeddingRecord
	for _, rec := range s.records {
		if rec.Status == domain.EmbeddingStatusFresh {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

// CountByStatus returns record counts grouped by lifecycle status.
func (s *MemoryStore) CountByStatus(_ context.Context) (map[domain.EmbeddingStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[domain.EmbeddingStatus]int)
	for _, rec := range s.records {
		counts[rec.Status]++
	}
	return counts, nil
}

func cloneRecord(rec domain.EmbeddingRecord) domain.EmbeddingRecord {
	out := rec
	if rec.Vector != nil {
		out.Vector = make([]float32, len(rec.Vector))
		copy(out.Vector, rec.Vector)
	}
	return out
}

package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// EntityType discriminates the two index partitions.
type EntityType string

const (
	EntityTypeJob          EntityType = "job"
	EntityTypeProfessional EntityType = "professional"
)

// ParseEntityType validates a wire-format entity type.
func ParseEntityType(s string) (EntityType, error) {
	switch EntityType(s) {
	case EntityTypeJob:
		return EntityTypeJob, nil
	case EntityTypeProfessional:
		return EntityTypeProfessional, nil
	default:
		return "", fmt.Errorf("unknown entity type %q", s)
	}
}

// EmbeddingStatus is the lifecycle state of an embedding record.
type EmbeddingStatus string

const (
	EmbeddingStatusPending EmbeddingStatus = "pending"
	EmbeddingStatusFresh   EmbeddingStatus = "fresh"
	EmbeddingStatusStale   EmbeddingStatus = "stale"
	EmbeddingStatusFailed  EmbeddingStatus = "failed"
)

// EmbeddingRecord is the authoritative vector state for one entity.
// There is at most one record per (entity_type, entity_id); the vector
// index is a rebuildable cache derived from fresh records.
type EmbeddingRecord struct {
	EntityType     EntityType      `json:"entity_type"          db:"entity_type"`
	EntityID       string          `json:"entity_id"            db:"entity_id"`
	Vector         []float32       `json:"-"                    db:"vector"`
	SourceTextHash string          `json:"source_text_hash"     db:"source_text_hash"`
	Status         EmbeddingStatus `json:"status"               db:"status"`
	Attempts       int             `json:"attempts"             db:"attempts"`
	LastError      string          `json:"last_error,omitempty" db:"last_error"`
	GeneratedAt    time.Time       `json:"generated_at"         db:"generated_at"`
	UpdatedAt      time.Time       `json:"updated_at"           db:"updated_at"`
}

// HashSourceText returns the hex SHA-256 of the exact text a vector was
// generated from. Staleness is detected by comparing hashes, never by
// re-sending the full text.
func HashSourceText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

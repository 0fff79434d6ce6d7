package port

import (
	"errors"
	"fmt"
)

// Sentinel errors used across ports.
var (
	// ErrProviderUnavailable indicates a transient embedding provider failure
	// (network error, timeout, 5xx). Safe to retry with backoff.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")

	// ErrProviderRejected indicates the provider permanently rejected the
	// input (empty text, text over the provider limit). Never retried for
	// the same text.
	ErrProviderRejected = errors.New("embedding provider rejected input")

	// ErrProviderMalformed indicates the provider returned a vector of the
	// wrong dimensionality.
	ErrProviderMalformed = errors.New("embedding provider returned malformed vector")

	// ErrQueryVectorUnavailable means the entity a query is issued for has
	// no fresh vector yet. Callers should present a "processing" state.
	ErrQueryVectorUnavailable = errors.New("query vector unavailable")

	// ErrRecommendationTimeout means the read path exceeded its deadline.
	// Safe to retry.
	ErrRecommendationTimeout = errors.New("recommendation timed out")

	// ErrForbidden means the caller identity does not own the queried
	// resource. Fatal, never retried, never silently scoped.
	ErrForbidden = errors.New("forbidden")

	// ErrRecordNotFound is returned by the embedding store for unknown
	// (entity_type, entity_id) pairs.
	ErrRecordNotFound = errors.New("embedding record not found")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")
)

// DimensionMismatchError indicates a vector/query dimensionality mismatch.
// Dimensionality drift is a fatal configuration error, never silently
// truncated or padded.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

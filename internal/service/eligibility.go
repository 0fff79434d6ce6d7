package service

import (
	"context"
	"sync"
	"time"

	"github.com/carematch/matchengine/internal/domain"
	"github.com/carematch/matchengine/internal/port"
)

// EligibilityCache fronts an EligibilitySource with an explicit TTL so
// the index scan's predicate never does per-candidate I/O. A TTL of
// zero disables caching and every query fetches a fresh snapshot.
type EligibilityCache struct {
	source port.EligibilitySource
	ttl    time.Duration

	mu             sync.Mutex
	jobs           map[string]domain.JobEligibility
	jobsFetchedAt  time.Time
	profs          map[string]domain.ProfessionalEligibility
	profsFetchedAt time.Time
}

// NewEligibilityCache wraps the source with the given TTL.
func NewEligibilityCache(source port.EligibilitySource, ttl time.Duration) *EligibilityCache {
	return &EligibilityCache{source: source, ttl: ttl}
}

// Jobs returns the current job eligibility snapshot.
func (c *EligibilityCache) Jobs(ctx context.Context) (map[string]domain.JobEligibility, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.jobs != nil && c.ttl > 0 && time.Since(c.jobsFetchedAt) < c.ttl {
		return c.jobs, nil
	}
	snapshot, err := c.source.JobEligibility(ctx)
	if err != nil {
		return nil, err
	}
	c.jobs = snapshot
	c.jobsFetchedAt = time.Now()
	return snapshot, nil
}

// Professionals returns the current professional eligibility snapshot.
func (c *EligibilityCache) Professionals(ctx context.Context) (map[string]domain.ProfessionalEligibility, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.profs != nil && c.ttl > 0 && time.Since(c.profsFetchedAt) < c.ttl {
		return c.profs, nil
	}
	snapshot, err := c.source.ProfessionalEligibility(ctx)
	if err != nil {
		return nil, err
	}
	c.profs = snapshot
	c.profsFetchedAt = time.Now()
	return snapshot, nil
}

// Invalidate drops cached snapshots so the next query refetches.
func (c *EligibilityCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = nil
	c.profs = nil
}

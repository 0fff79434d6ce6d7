package port

import (
	"context"

	"github.com/carematch/matchengine/internal/domain"
)

// EligibilitySource supplies read-only business eligibility views from
// the CRUD layer. Snapshots are fetched per query or cached with an
// explicit TTL; they are never persisted by this core.
type EligibilitySource interface {
	// JobEligibility returns the eligibility view for every known job.
	JobEligibility(ctx context.Context) (map[string]domain.JobEligibility, error)

	// ProfessionalEligibility returns the eligibility view for every
	// known professional.
	ProfessionalEligibility(ctx context.Context) (map[string]domain.ProfessionalEligibility, error)
}

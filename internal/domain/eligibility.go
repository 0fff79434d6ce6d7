package domain

// JobEligibility is the read-only business view for one job posting,
// supplied by the CRUD layer at query time. Only active jobs from
// approved employers may appear in results.
type JobEligibility struct {
	IsActive         bool   `json:"is_active"`
	EmployerApproved bool   `json:"employer_approved"`
	OwnerID          string `json:"owner_id"`
}

// Eligible reports whether the job may appear in a result pool.
func (j JobEligibility) Eligible() bool {
	return j.IsActive && j.EmployerApproved
}

// ProfessionalEligibility is the read-only business view for one
// professional profile.
type ProfessionalEligibility struct {
	ProfileComplete bool `json:"profile_complete"`
}

// Eligible reports whether the professional may appear in a result pool.
func (p ProfessionalEligibility) Eligible() bool {
	return p.ProfileComplete
}

// Recommendation is one ranked match.
type Recommendation struct {
	EntityID string  `json:"id"`
	Score    float64 `json:"score"`
}

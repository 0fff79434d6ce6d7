package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/carematch/matchengine/internal/domain"
	"github.com/carematch/matchengine/internal/port"
)

// Compile-time checks for the eligibility adapters.
var (
	_ port.EligibilitySource = (*PostgresEligibilitySource)(nil)
	_ port.EligibilitySource = (*StaticEligibilitySource)(nil)
)

// PostgresEligibilitySource reads eligibility views from the CRUD
// database's jobs and professionals tables. The CRUD layer owns those
// tables; this adapter only ever reads them.
type PostgresEligibilitySource struct {
	store *PostgresStore
}

// NewPostgresEligibilitySource creates an eligibility source backed by
// the given Postgres store.
func NewPostgresEligibilitySource(store *PostgresStore) *PostgresEligibilitySource {
	return &PostgresEligibilitySource{store: store}
}

// JobEligibility returns the eligibility view for every known job.
func (s *PostgresEligibilitySource) JobEligibility(ctx context.Context) (map[string]domain.JobEligibility, error) {
	query := `SELECT j.id, j.is_active, e.approved, j.employer_id
	          FROM jobs j JOIN employers e ON e.id = j.employer_id`

	rows, err := s.store.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("job eligibility: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.JobEligibility)
	for rows.Next() {
		var (
			id   string
			view domain.JobEligibility
		)
		if err := rows.Scan(&id, &view.IsActive, &view.EmployerApproved, &view.OwnerID); err != nil {
			return nil, fmt.Errorf("scan job eligibility: %w", err)
		}
		out[id] = view
	}
	return out, rows.Err()
}

// ProfessionalEligibility returns the eligibility view for every known
// professional.
func (s *PostgresEligibilitySource) ProfessionalEligibility(ctx context.Context) (map[string]domain.ProfessionalEligibility, error) {
	rows, err := s.store.db.QueryContext(ctx, `SELECT id, profile_complete FROM professionals`)
	if err != nil {
		return nil, fmt.Errorf("professional eligibility: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.ProfessionalEligibility)
	for rows.Next() {
		var (
			id   string
			view domain.ProfessionalEligibility
		)
		if err := rows.Scan(&id, &view.ProfileComplete); err != nil {
			return nil, fmt.Errorf("scan professional eligibility: %w", err)
		}
		out[id] = view
	}
	return out, rows.Err()
}

// StaticEligibilitySource is an in-memory eligibility source for
// development and tests.
type StaticEligibilitySource struct {
	mu            sync.RWMutex
	jobs          map[string]domain.JobEligibility
	professionals map[string]domain.ProfessionalEligibility
}

// NewStaticEligibilitySource creates an empty static source.
func NewStaticEligibilitySource() *StaticEligibilitySource {
	return &StaticEligibilitySource{
		jobs:          make(map[string]domain.JobEligibility),
		professionals: make(map[string]domain.ProfessionalEligibility),
	}
}

// SetJob sets the eligibility view for one job.
func (s *StaticEligibilitySource) SetJob(id string, view domain.JobEligibility) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id] = view
}

// SetProfessional sets the eligibility view for one professional.
func (s *StaticEligibilitySource) SetProfessional(id string, view domain.ProfessionalEligibility) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.professionals[id] = view
}

// JobEligibility returns a copy of the current job views.
func (s *StaticEligibilitySource) JobEligibility(_ context.Context) (map[string]domain.JobEligibility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.JobEligibility, len(s.jobs))
	for k, v := range s.jobs {
		out[k] = v
	}
	return out, nil
}

// ProfessionalEligibility returns a copy of the current professional views.
func (s *StaticEligibilitySource) ProfessionalEligibility(_ context.Context) (map[string]domain.ProfessionalEligibility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.ProfessionalEligibility, len(s.professionals))
	for k, v := range s.professionals {
		out[k] = v
	}
	return out, nil
}

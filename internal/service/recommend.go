package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/carematch/matchengine/internal/domain"
	"github.com/carematch/matchengine/internal/port"
)

// RecommenderConfig tunes the read path.
type RecommenderConfig struct {
	// JobsK and CandidatesK are the result sizes for the two directions.
	JobsK       int
	CandidatesK int

	// QueryTimeout bounds every recommendation query. On expiry the
	// caller gets ErrRecommendationTimeout, never a silently truncated
	// top-K.
	QueryTimeout time.Duration

	// Exact forces brute-force index search, mainly for tests.
	Exact bool
}

// DefaultRecommenderConfig holds the default read-path configuration.
var DefaultRecommenderConfig = RecommenderConfig{
	JobsK:        5,
	CandidatesK:  10,
	QueryTimeout: 2 * time.Second,
}

// Recommender orchestrates the read path: it loads and validates the
// query vector, restricts the index scan to eligible ids and returns
// ranked results. Eligibility is evaluated at query time, never cached
// into the index.
type Recommender struct {
	store port.EmbeddingStore
	index port.VectorIndex
	elig  *EligibilityCache
	cfg   RecommenderConfig
	log   *zap.Logger
}

// NewRecommender creates the read-path service.
func NewRecommender(store port.EmbeddingStore, index port.VectorIndex, elig *EligibilityCache, cfg RecommenderConfig, log *zap.Logger) *Recommender {
	if cfg.JobsK <= 0 {
		cfg.JobsK = DefaultRecommenderConfig.JobsK
	}
	if cfg.CandidatesK <= 0 {
		cfg.CandidatesK = DefaultRecommenderConfig.CandidatesK
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultRecommenderConfig.QueryTimeout
	}
	return &Recommender{store: store, index: index, elig: elig, cfg: cfg, log: log}
}

// RecommendJobs returns the top jobs for a professional's own profile
// vector. Only active jobs from approved employers are considered.
func (r *Recommender) RecommendJobs(ctx context.Context, professionalID string) ([]domain.Recommendation, error) {
	vector, err := r.queryVector(ctx, domain.EntityTypeProfessional, professionalID)
	if err != nil {
		return nil, err
	}
	return r.RecommendJobsForVector(ctx, vector)
}

// RecommendJobsForVector is the raw-vector variant backing the HTTP
// facade.
func (r *Recommender) RecommendJobsForVector(ctx context.Context, vector []float32) ([]domain.Recommendation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	defer cancel()

	jobs, err := r.elig.Jobs(ctx)
	if err != nil {
		return nil, r.translate(fmt.Errorf("job eligibility snapshot: %w", err))
	}

	hits, err := r.index.Query(ctx, domain.EntityTypeJob, vector, r.cfg.JobsK, port.QueryOptions{
		Filter: func(id string) bool {
			view, ok := jobs[id]
			return ok && view.Eligible()
		},
		Exact: r.cfg.Exact,
	})
	if err != nil {
		return nil, r.translate(err)
	}

	r.log.Debug("recommended jobs", zap.Int("results", len(hits)))
	return toRecommendations(hits), nil
}

// RecommendCandidates returns the top professionals for a job. The
// caller must be the job's owner; any mismatch is fatal, results are
// never silently scoped down.
func (r *Recommender) RecommendCandidates(ctx context.Context, callerID, jobID string) ([]domain.Recommendation, error) {
	jobs, err := r.elig.Jobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("job eligibility snapshot: %w", err)
	}
	view, ok := jobs[jobID]
	if !ok || view.OwnerID != callerID {
		return nil, fmt.Errorf("%w: caller %q does not own job %q", port.ErrForbidden, callerID, jobID)
	}

	vector, err := r.queryVector(ctx, domain.EntityTypeJob, jobID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	defer cancel()

	profs, err := r.elig.Professionals(ctx)
	if err != nil {
		return nil, r.translate(fmt.Errorf("professional eligibility snapshot: %w", err))
	}

	hits, err := r.index.Query(ctx, domain.EntityTypeProfessional, vector, r.cfg.CandidatesK, port.QueryOptions{
		Filter: func(id string) bool {
			view, ok := profs[id]
			return ok && view.Eligible()
		},
		Exact: r.cfg.Exact,
	})
	if err != nil {
		return nil, r.translate(err)
	}

	r.log.Debug("recommended candidates", zap.String("job_id", jobID), zap.Int("results", len(hits)))
	return toRecommendations(hits), nil
}

// RecommendCandidatesForVector ranks an explicit, caller-supplied
// candidate pool against a raw job vector. Eligibility is the caller's
// responsibility in this mode.
func (r *Recommender) RecommendCandidatesForVector(ctx context.Context, vector []float32, candidateIDs []string) ([]domain.Recommendation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	defer cancel()

	if candidateIDs == nil {
		candidateIDs = []string{}
	}
	hits, err := r.index.Query(ctx, domain.EntityTypeProfessional, vector, r.cfg.CandidatesK, port.QueryOptions{
		AllowedIDs: candidateIDs,
		Exact:      r.cfg.Exact,
	})
	if err != nil {
		return nil, r.translate(err)
	}
	return toRecommendations(hits), nil
}

// queryVector loads the entity's own vector; anything but a fresh
// record means the entity cannot be queried for yet.
func (r *Recommender) queryVector(ctx context.Context, entityType domain.EntityType, entityID string) ([]float32, error) {
	rec, err := r.store.Get(ctx, entityType, entityID)
	if errors.Is(err, port.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: no embedding record for %s %q", port.ErrQueryVectorUnavailable, entityType, entityID)
	}
	if err != nil {
		return nil, fmt.Errorf("load embedding record: %w", err)
	}
	if rec.Status != domain.EmbeddingStatusFresh {
		return nil, fmt.Errorf("%w: %s %q is %s", port.ErrQueryVectorUnavailable, entityType, entityID, rec.Status)
	}
	return rec.Vector, nil
}

// translate maps a read-path deadline expiry onto the caller-visible
// timeout error.
func (r *Recommender) translate(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", port.ErrRecommendationTimeout, err)
	}
	return err
}

func toRecommendations(hits []port.SearchHit) []domain.Recommendation {
	out := make([]domain.Recommendation, len(hits))
	for i, h := range hits {
		out[i] = domain.Recommendation{EntityID: h.EntityID, Score: h.Score}
	}
	return out
}

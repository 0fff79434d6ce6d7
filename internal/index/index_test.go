package index

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carematch/matchengine/internal/domain"
	"github.com/carematch/matchengine/internal/port"
)

func newTestIndex(t *testing.T, cfg Config) *Index {
	t.Helper()
	if cfg.Dimension == 0 {
		cfg.Dimension = 3
	}
	idx, err := New(cfg)
	require.NoError(t, err)
	return idx
}

func TestNewRejectsInvalidDimension(t *testing.T) {
	_, err := New(Config{Dimension: 0})
	assert.Error(t, err)
	_, err = New(Config{Dimension: -4})
	assert.Error(t, err)
}

func TestQueryRanksByCosineSimilarity(t *testing.T) {
	idx := newTestIndex(t, Config{ExactSearchThreshold: 1000})

	require.NoError(t, idx.Upsert(domain.EntityTypeJob, "j-exact", []float32{1, 0, 0}))
	require.NoError(t, idx.Upsert(domain.EntityTypeJob, "j-close", []float32{0.9, 0.1, 0}))
	require.NoError(t, idx.Upsert(domain.EntityTypeJob, "j-orthogonal", []float32{0, 1, 0}))

	hits, err := idx.Query(context.Background(), domain.EntityTypeJob, []float32{1, 0, 0}, 3, port.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, "j-exact", hits[0].EntityID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, "j-close", hits[1].EntityID)
	assert.Equal(t, "j-orthogonal", hits[2].EntityID)
	assert.InDelta(t, 0.0, hits[2].Score, 1e-6)

	// Scores are within [0,1] and strictly non-increasing.
	for i, h := range hits {
		assert.GreaterOrEqual(t, h.Score, 0.0)
		assert.LessOrEqual(t, h.Score, 1.0)
		if i > 0 {
			assert.LessOrEqual(t, h.Score, hits[i-1].Score)
		}
	}
}

func TestQueryNormalizesMagnitudeAway(t *testing.T) {
	idx := newTestIndex(t, Config{})

	// Same direction, wildly different magnitudes: identical similarity.
	require.NoError(t, idx.Upsert(domain.EntityTypeJob, "j-small", []float32{0.001, 0, 0}))
	require.NoError(t, idx.Upsert(domain.EntityTypeJob, "j-large", []float32{1000, 0, 0}))

	hits, err := idx.Query(context.Background(), domain.EntityTypeJob, []float32{5, 0, 0}, 2, port.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.InDelta(t, hits[0].Score, hits[1].Score, 1e-6)
	// Equal scores tie-break on lower entity id.
	assert.Equal(t, "j-large", hits[0].EntityID)
	assert.Equal(t, "j-small", hits[1].EntityID)
}

func TestBoundaryTieBreaksOnEntityID(t *testing.T) {
	idx := newTestIndex(t, Config{})

	// Identical vectors, inserted out of id order: the cut at k must
	// keep the lower entity ids regardless of insertion order.
	require.NoError(t, idx.Upsert(domain.EntityTypeJob, "b", []float32{1, 0, 0}))
	require.NoError(t, idx.Upsert(domain.EntityTypeJob, "c", []float32{1, 0, 0}))
	require.NoError(t, idx.Upsert(domain.EntityTypeJob, "a", []float32{1, 0, 0}))

	hits, err := idx.Query(context.Background(), domain.EntityTypeJob, []float32{1, 0, 0}, 1, port.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].EntityID)

	hits, err = idx.Query(context.Background(), domain.EntityTypeJob, []float32{1, 0, 0}, 2, port.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].EntityID)
	assert.Equal(t, "b", hits[1].EntityID)
}

func TestQueryTruncatesToK(t *testing.T) {
	idx := newTestIndex(t, Config{})
	for i := 0; i < 10; i++ {
		v := []float32{1, float32(i) * 0.05, 0}
		require.NoError(t, idx.Upsert(domain.EntityTypeJob, fmt.Sprintf("j-%02d", i), v))
	}

	hits, err := idx.Query(context.Background(), domain.EntityTypeJob, []float32{1, 0, 0}, 4, port.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 4)
	assert.Equal(t, "j-00", hits[0].EntityID)
}

func TestQueryValidation(t *testing.T) {
	idx := newTestIndex(t, Config{})
	require.NoError(t, idx.Upsert(domain.EntityTypeJob, "j1", []float32{1, 0, 0}))

	_, err := idx.Query(context.Background(), domain.EntityTypeJob, []float32{1, 0, 0}, 0, port.QueryOptions{})
	assert.ErrorIs(t, err, port.ErrInvalidK)

	_, err = idx.Query(context.Background(), domain.EntityTypeJob, []float32{1, 0}, 5, port.QueryOptions{})
	var dim *port.DimensionMismatchError
	require.ErrorAs(t, err, &dim)
	assert.Equal(t, 3, dim.Expected)
	assert.Equal(t, 2, dim.Actual)

	_, err = idx.Query(context.Background(), domain.EntityTypeJob, []float32{0, 0, 0}, 5, port.QueryOptions{})
	assert.Error(t, err)
}

func TestUpsertValidation(t *testing.T) {
	idx := newTestIndex(t, Config{})

	err := idx.Upsert(domain.EntityTypeJob, "j1", []float32{1, 0})
	var dim *port.DimensionMismatchError
	assert.ErrorAs(t, err, &dim)

	assert.Error(t, idx.Upsert(domain.EntityTypeJob, "j1", []float32{0, 0, 0}))
	assert.False(t, idx.Contains(domain.EntityTypeJob, "j1"))
}

func TestQueryEmptyPartition(t *testing.T) {
	idx := newTestIndex(t, Config{})
	hits, err := idx.Query(context.Background(), domain.EntityTypeJob, []float32{1, 0, 0}, 5, port.QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestPartitionsAreIsolated(t *testing.T) {
	idx := newTestIndex(t, Config{})
	require.NoError(t, idx.Upsert(domain.EntityTypeJob, "x", []float32{1, 0, 0}))
	require.NoError(t, idx.Upsert(domain.EntityTypeProfessional, "x", []float32{0, 1, 0}))

	assert.Equal(t, 1, idx.Len(domain.EntityTypeJob))
	assert.Equal(t, 1, idx.Len(domain.EntityTypeProfessional))

	hits, err := idx.Query(context.Background(), domain.EntityTypeProfessional, []float32{0, 1, 0}, 5, port.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestRemoveExcludesEntity(t *testing.T) {
	idx := newTestIndex(t, Config{})
	require.NoError(t, idx.Upsert(domain.EntityTypeJob, "j1", []float32{1, 0, 0}))
	require.NoError(t, idx.Upsert(domain.EntityTypeJob, "j2", []float32{0.9, 0.1, 0}))

	idx.Remove(domain.EntityTypeJob, "j1")
	assert.False(t, idx.Contains(domain.EntityTypeJob, "j1"))
	assert.Equal(t, 1, idx.Len(domain.EntityTypeJob))

	hits, err := idx.Query(context.Background(), domain.EntityTypeJob, []float32{1, 0, 0}, 5, port.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "j2", hits[0].EntityID)

	// Removing an unknown id is a no-op.
	idx.Remove(domain.EntityTypeJob, "ghost")
}

func TestUpsertReplacesVector(t *testing.T) {
	idx := newTestIndex(t, Config{})
	require.NoError(t, idx.Upsert(domain.EntityTypeJob, "j1", []float32{1, 0, 0}))
	require.NoError(t, idx.Upsert(domain.EntityTypeJob, "j1", []float32{0, 1, 0}))

	assert.Equal(t, 1, idx.Len(domain.EntityTypeJob))

	hits, err := idx.Query(context.Background(), domain.EntityTypeJob, []float32{0, 1, 0}, 1, port.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "j1", hits[0].EntityID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestAllowedIDsRestrictsResults(t *testing.T) {
	idx := newTestIndex(t, Config{})
	require.NoError(t, idx.Upsert(domain.EntityTypeProfessional, "p1", []float32{1, 0, 0}))
	require.NoError(t, idx.Upsert(domain.EntityTypeProfessional, "p2", []float32{0.9, 0.1, 0}))
	require.NoError(t, idx.Upsert(domain.EntityTypeProfessional, "p3", []float32{0.8, 0.2, 0}))

	hits, err := idx.Query(context.Background(), domain.EntityTypeProfessional, []float32{1, 0, 0}, 10, port.QueryOptions{
		AllowedIDs: []string{"p2", "p3", "unknown"},
	})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "p2", hits[0].EntityID)
	assert.Equal(t, "p3", hits[1].EntityID)
}

func TestEmptyAllowedIDsMeansNoResults(t *testing.T) {
	idx := newTestIndex(t, Config{})
	require.NoError(t, idx.Upsert(domain.EntityTypeProfessional, "p1", []float32{1, 0, 0}))

	// An empty explicit set is a real constraint, not "unrestricted".
	hits, err := idx.Query(context.Background(), domain.EntityTypeProfessional, []float32{1, 0, 0}, 10, port.QueryOptions{
		AllowedIDs: []string{},
	})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestPredicateFilter(t *testing.T) {
	idx := newTestIndex(t, Config{})
	require.NoError(t, idx.Upsert(domain.EntityTypeJob, "j-active", []float32{0.9, 0.1, 0}))
	require.NoError(t, idx.Upsert(domain.EntityTypeJob, "j-inactive", []float32{1, 0, 0}))

	hits, err := idx.Query(context.Background(), domain.EntityTypeJob, []float32{1, 0, 0}, 10, port.QueryOptions{
		Filter: func(id string) bool { return id != "j-inactive" },
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "j-active", hits[0].EntityID)
}

func TestRebuildReplacesContent(t *testing.T) {
	idx := newTestIndex(t, Config{})
	require.NoError(t, idx.Upsert(domain.EntityTypeJob, "j-old", []float32{1, 0, 0}))

	err := idx.Rebuild([]domain.EmbeddingRecord{
		{EntityType: domain.EntityTypeJob, EntityID: "j-new", Vector: []float32{0, 1, 0}, Status: domain.EmbeddingStatusFresh},
		{EntityType: domain.EntityTypeProfessional, EntityID: "p-new", Vector: []float32{0, 0, 1}, Status: domain.EmbeddingStatusFresh},
		{EntityType: domain.EntityTypeJob, EntityID: "j-pending", Vector: []float32{1, 0, 0}},
	})
	require.NoError(t, err)

	assert.False(t, idx.Contains(domain.EntityTypeJob, "j-old"))
	assert.False(t, idx.Contains(domain.EntityTypeJob, "j-pending"))
	assert.True(t, idx.Contains(domain.EntityTypeJob, "j-new"))
	assert.True(t, idx.Contains(domain.EntityTypeProfessional, "p-new"))
	assert.Equal(t, 1, idx.Len(domain.EntityTypeJob))
	assert.Equal(t, 1, idx.Len(domain.EntityTypeProfessional))
}

func TestConcurrentUpsertAndQuery(t *testing.T) {
	idx := newTestIndex(t, Config{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			_ = idx.Upsert(domain.EntityTypeJob, fmt.Sprintf("j-%d", i%50), []float32{1, float32(i) * 0.001, 0})
			if i%10 == 0 {
				idx.Remove(domain.EntityTypeJob, fmt.Sprintf("j-%d", i%50))
			}
		}
	}()

	for i := 0; i < 200; i++ {
		hits, err := idx.Query(context.Background(), domain.EntityTypeJob, []float32{1, 0, 0}, 5, port.QueryOptions{})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(hits), 5)
	}
	<-done
}

func TestConcurrentUpsertAndQueryOnGraphPath(t *testing.T) {
	idx := newTestIndex(t, Config{Dimension: 8, ExactSearchThreshold: 10, RandomSeed: 3})

	seed := rand.New(rand.NewSource(11))
	for i := 0; i < 30; i++ {
		require.NoError(t, idx.Upsert(domain.EntityTypeJob, fmt.Sprintf("j-%03d", i), randomUnit(seed, 8)))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		rng := rand.New(rand.NewSource(12))
		for i := 30; i < 230; i++ {
			require.NoError(t, idx.Upsert(domain.EntityTypeJob, fmt.Sprintf("j-%03d", i), randomUnit(rng, 8)))
		}
	}()

	q := []float32{1, 1, 1, 1, 1, 1, 1, 1}
	for i := 0; i < 100; i++ {
		hits, err := idx.Query(context.Background(), domain.EntityTypeJob, q, 5, port.QueryOptions{})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(hits), 5)
	}
	<-done
}

// randomUnit returns a pseudo-random vector with positive components so
// every pair has non-trivial similarity.
func randomUnit(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = rng.Float32() + 0.01
	}
	return v
}

func TestGraphSearchMatchesExact(t *testing.T) {
	cfg := Config{Dimension: 8, ExactSearchThreshold: 10, RandomSeed: 7}
	idx := newTestIndex(t, cfg)

	rng := rand.New(rand.NewSource(42))
	vectors := make(map[string][]float32, 60)
	for i := 0; i < 60; i++ {
		id := fmt.Sprintf("p-%03d", i)
		v := randomUnit(rng, 8)
		vectors[id] = v
		require.NoError(t, idx.Upsert(domain.EntityTypeProfessional, id, v))
	}

	q := randomUnit(rng, 8)

	exact, err := idx.Query(context.Background(), domain.EntityTypeProfessional, q, 5, port.QueryOptions{Exact: true})
	require.NoError(t, err)
	require.Len(t, exact, 5)

	approx, err := idx.Query(context.Background(), domain.EntityTypeProfessional, q, 5, port.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, approx, 5)

	// With a candidate list wider than the corpus the graph search is
	// effectively exhaustive.
	assert.Equal(t, exact[0].EntityID, approx[0].EntityID)
	assert.InDelta(t, exact[0].Score, approx[0].Score, 1e-6)
}

func TestGraphSearchHonorsRemovalAndFilter(t *testing.T) {
	cfg := Config{Dimension: 8, ExactSearchThreshold: 10, RandomSeed: 7}
	idx := newTestIndex(t, cfg)

	rng := rand.New(rand.NewSource(99))
	for i := 0; i < 40; i++ {
		require.NoError(t, idx.Upsert(domain.EntityTypeJob, fmt.Sprintf("j-%03d", i), randomUnit(rng, 8)))
	}

	q := randomUnit(rng, 8)

	full, err := idx.Query(context.Background(), domain.EntityTypeJob, q, 3, port.QueryOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, full)

	banned := full[0].EntityID
	idx.Remove(domain.EntityTypeJob, banned)

	afterRemove, err := idx.Query(context.Background(), domain.EntityTypeJob, q, 10, port.QueryOptions{})
	require.NoError(t, err)
	for _, h := range afterRemove {
		assert.NotEqual(t, banned, h.EntityID)
	}

	filtered, err := idx.Query(context.Background(), domain.EntityTypeJob, q, 10, port.QueryOptions{
		Filter: func(id string) bool { return id == "j-005" || id == "j-006" },
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(filtered), 2)
	for _, h := range filtered {
		assert.Contains(t, []string{"j-005", "j-006"}, h.EntityID)
	}
}

func TestGraphInsertionIsDeterministicPerSeed(t *testing.T) {
	build := func() []port.SearchHit {
		cfg := Config{Dimension: 8, ExactSearchThreshold: 10, RandomSeed: 1234}
		idx := newTestIndex(t, cfg)
		rng := rand.New(rand.NewSource(5))
		for i := 0; i < 50; i++ {
			require.NoError(t, idx.Upsert(domain.EntityTypeJob, fmt.Sprintf("j-%03d", i), randomUnit(rng, 8)))
		}
		hits, err := idx.Query(context.Background(), domain.EntityTypeJob, []float32{1, 1, 1, 1, 1, 1, 1, 1}, 5, port.QueryOptions{})
		require.NoError(t, err)
		return hits
	}

	assert.Equal(t, build(), build())
}

package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/carematch/matchengine/internal/adapter/store"
	"github.com/carematch/matchengine/internal/domain"
	"github.com/carematch/matchengine/internal/index"
	"github.com/carematch/matchengine/internal/port"
)

type fakeProvider struct {
	mu    sync.Mutex
	calls int
	fn    func(text string) ([]float32, error)
}

func (p *fakeProvider) ModelName() string { return "fake" }
func (p *fakeProvider) Dimension() int    { return 3 }

func (p *fakeProvider) Generate(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.calls++
	fn := p.fn
	p.mu.Unlock()
	return fn(text)
}

func (p *fakeProvider) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := p.Generate(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeProvider) set(fn func(text string) ([]float32, error)) {
	p.mu.Lock()
	p.fn = fn
	p.mu.Unlock()
}

type freshnessFixture struct {
	store    *store.MemoryStore
	index    *index.Index
	provider *fakeProvider
	coord    *Coordinator
}

func newFreshnessFixture(t *testing.T) *freshnessFixture {
	t.Helper()

	memStore := store.NewMemoryStore()
	idx, err := index.New(index.Config{Dimension: 3})
	require.NoError(t, err)

	provider := &fakeProvider{fn: func(string) ([]float32, error) {
		return []float32{1, 0, 0}, nil
	}}

	coord := NewCoordinator(memStore, provider, idx, CoordinatorConfig{
		Workers:        2,
		QueueSize:      16,
		MaxAttempts:    3,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	coord.Start(ctx)

	return &freshnessFixture{store: memStore, index: idx, provider: provider, coord: coord}
}

func (f *freshnessFixture) record(t *testing.T, et domain.EntityType, id string) *domain.EmbeddingRecord {
	t.Helper()
	rec, err := f.store.Get(context.Background(), et, id)
	require.NoError(t, err)
	return rec
}

func TestTextChangedEmbedsAndIndexes(t *testing.T) {
	f := newFreshnessFixture(t)

	require.NoError(t, f.coord.TextChanged(context.Background(), domain.EntityTypeJob, "j1", "ICU nurse, nights"))
	f.coord.WaitIdle()

	rec := f.record(t, domain.EntityTypeJob, "j1")
	assert.Equal(t, domain.EmbeddingStatusFresh, rec.Status)
	assert.Equal(t, domain.HashSourceText("ICU nurse, nights"), rec.SourceTextHash)
	assert.Equal(t, []float32{1, 0, 0}, rec.Vector)
	assert.False(t, rec.GeneratedAt.IsZero())
	assert.Empty(t, rec.LastError)

	assert.True(t, f.index.Contains(domain.EntityTypeJob, "j1"))
	assert.Equal(t, 1, f.provider.callCount())
}

func TestUnchangedTextIsIdempotent(t *testing.T) {
	f := newFreshnessFixture(t)

	require.NoError(t, f.coord.TextChanged(context.Background(), domain.EntityTypeJob, "j1", "same text"))
	f.coord.WaitIdle()
	require.NoError(t, f.coord.TextChanged(context.Background(), domain.EntityTypeJob, "j1", "same text"))
	f.coord.WaitIdle()

	assert.Equal(t, 1, f.provider.callCount())
	assert.True(t, f.index.Contains(domain.EntityTypeJob, "j1"))
}

func TestChangedTextReembeds(t *testing.T) {
	f := newFreshnessFixture(t)

	require.NoError(t, f.coord.TextChanged(context.Background(), domain.EntityTypeJob, "j1", "old text"))
	f.coord.WaitIdle()

	f.provider.set(func(string) ([]float32, error) {
		return []float32{0, 1, 0}, nil
	})
	require.NoError(t, f.coord.TextChanged(context.Background(), domain.EntityTypeJob, "j1", "new text"))
	f.coord.WaitIdle()

	rec := f.record(t, domain.EntityTypeJob, "j1")
	assert.Equal(t, domain.EmbeddingStatusFresh, rec.Status)
	assert.Equal(t, domain.HashSourceText("new text"), rec.SourceTextHash)
	assert.Equal(t, []float32{0, 1, 0}, rec.Vector)
	assert.Equal(t, 2, f.provider.callCount())
}

func TestEmptyTextRejectedUpfront(t *testing.T) {
	f := newFreshnessFixture(t)

	err := f.coord.TextChanged(context.Background(), domain.EntityTypeJob, "j1", "")
	assert.ErrorIs(t, err, port.ErrProviderRejected)

	_, err = f.store.Get(context.Background(), domain.EntityTypeJob, "j1")
	assert.ErrorIs(t, err, port.ErrRecordNotFound)
	assert.Zero(t, f.provider.callCount())
}

func TestPermanentRejectionFailsWithoutRetry(t *testing.T) {
	f := newFreshnessFixture(t)
	f.provider.set(func(string) ([]float32, error) {
		return nil, port.ErrProviderRejected
	})

	require.NoError(t, f.coord.TextChanged(context.Background(), domain.EntityTypeJob, "j1", "some text"))
	f.coord.WaitIdle()

	rec := f.record(t, domain.EntityTypeJob, "j1")
	assert.Equal(t, domain.EmbeddingStatusFailed, rec.Status)
	assert.NotEmpty(t, rec.LastError)
	assert.False(t, f.index.Contains(domain.EntityTypeJob, "j1"))
	assert.Equal(t, 1, f.provider.callCount())
}

func TestTransientFailureIsRetried(t *testing.T) {
	f := newFreshnessFixture(t)

	var mu sync.Mutex
	failures := 2
	f.provider.set(func(string) ([]float32, error) {
		mu.Lock()
		defer mu.Unlock()
		if failures > 0 {
			failures--
			return nil, port.ErrProviderUnavailable
		}
		return []float32{0, 0, 1}, nil
	})

	require.NoError(t, f.coord.TextChanged(context.Background(), domain.EntityTypeJob, "j1", "flaky"))
	f.coord.WaitIdle()

	rec := f.record(t, domain.EntityTypeJob, "j1")
	assert.Equal(t, domain.EmbeddingStatusFresh, rec.Status)
	assert.Equal(t, 3, rec.Attempts)
	assert.Equal(t, 3, f.provider.callCount())
}

func TestExhaustedRetriesFail(t *testing.T) {
	f := newFreshnessFixture(t)
	f.provider.set(func(string) ([]float32, error) {
		return nil, port.ErrProviderUnavailable
	})

	require.NoError(t, f.coord.TextChanged(context.Background(), domain.EntityTypeJob, "j1", "down"))
	f.coord.WaitIdle()

	rec := f.record(t, domain.EntityTypeJob, "j1")
	assert.Equal(t, domain.EmbeddingStatusFailed, rec.Status)
	assert.Equal(t, 3, rec.Attempts)
	assert.Equal(t, 3, f.provider.callCount())
	assert.False(t, f.index.Contains(domain.EntityTypeJob, "j1"))
}

func TestFailedRecordRetriesOnResubmit(t *testing.T) {
	f := newFreshnessFixture(t)
	f.provider.set(func(string) ([]float32, error) {
		return nil, port.ErrProviderRejected
	})

	require.NoError(t, f.coord.TextChanged(context.Background(), domain.EntityTypeJob, "j1", "some text"))
	f.coord.WaitIdle()
	require.Equal(t, domain.EmbeddingStatusFailed, f.record(t, domain.EntityTypeJob, "j1").Status)

	f.provider.set(func(string) ([]float32, error) {
		return []float32{1, 0, 0}, nil
	})

	// Re-submitting the same text is the explicit retry trigger.
	require.NoError(t, f.coord.TextChanged(context.Background(), domain.EntityTypeJob, "j1", "some text"))
	f.coord.WaitIdle()

	rec := f.record(t, domain.EntityTypeJob, "j1")
	assert.Equal(t, domain.EmbeddingStatusFresh, rec.Status)
	assert.True(t, f.index.Contains(domain.EntityTypeJob, "j1"))
}

func TestStaleEntityLeavesResultPoolImmediately(t *testing.T) {
	f := newFreshnessFixture(t)

	require.NoError(t, f.coord.TextChanged(context.Background(), domain.EntityTypeJob, "j1", "old"))
	f.coord.WaitIdle()
	require.True(t, f.index.Contains(domain.EntityTypeJob, "j1"))

	// Block the provider so the entity stays mid-refresh.
	release := make(chan struct{})
	f.provider.set(func(string) ([]float32, error) {
		<-release
		return []float32{0, 1, 0}, nil
	})

	require.NoError(t, f.coord.TextChanged(context.Background(), domain.EntityTypeJob, "j1", "new"))
	assert.False(t, f.index.Contains(domain.EntityTypeJob, "j1"))

	close(release)
	f.coord.WaitIdle()
	assert.True(t, f.index.Contains(domain.EntityTypeJob, "j1"))
}

func TestDeleteRemovesRecordAndIndexEntry(t *testing.T) {
	f := newFreshnessFixture(t)

	require.NoError(t, f.coord.TextChanged(context.Background(), domain.EntityTypeProfessional, "p1", "RN, 5 years"))
	f.coord.WaitIdle()
	require.True(t, f.index.Contains(domain.EntityTypeProfessional, "p1"))

	require.NoError(t, f.coord.Delete(context.Background(), domain.EntityTypeProfessional, "p1"))

	_, err := f.store.Get(context.Background(), domain.EntityTypeProfessional, "p1")
	assert.ErrorIs(t, err, port.ErrRecordNotFound)
	assert.False(t, f.index.Contains(domain.EntityTypeProfessional, "p1"))
}

func TestWaitIdleReturnsAfterShutdown(t *testing.T) {
	memStore := store.NewMemoryStore()
	idx, err := index.New(index.Config{Dimension: 3})
	require.NoError(t, err)

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	provider := &fakeProvider{fn: func(string) ([]float32, error) {
		started <- struct{}{}
		<-release
		return []float32{1, 0, 0}, nil
	}}

	coord := NewCoordinator(memStore, provider, idx, CoordinatorConfig{
		Workers:        1,
		QueueSize:      4,
		MaxAttempts:    1,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  time.Millisecond,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	coord.Start(ctx)

	// First job occupies the only worker; the second stays queued.
	require.NoError(t, coord.TextChanged(context.Background(), domain.EntityTypeJob, "j1", "first"))
	<-started
	require.NoError(t, coord.TextChanged(context.Background(), domain.EntityTypeJob, "j2", "second"))

	cancel()
	close(release)

	done := make(chan struct{})
	go func() {
		coord.WaitIdle()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitIdle did not return after shutdown with a queued job")
	}
}

func TestRebuildRestoresFreshRecordsOnly(t *testing.T) {
	f := newFreshnessFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.Put(ctx, &domain.EmbeddingRecord{
		EntityType: domain.EntityTypeJob, EntityID: "j-fresh",
		Vector: []float32{1, 0, 0}, Status: domain.EmbeddingStatusFresh,
	}))
	require.NoError(t, f.store.Put(ctx, &domain.EmbeddingRecord{
		EntityType: domain.EntityTypeJob, EntityID: "j-pending",
		Status: domain.EmbeddingStatusPending,
	}))
	require.NoError(t, f.store.Put(ctx, &domain.EmbeddingRecord{
		EntityType: domain.EntityTypeProfessional, EntityID: "p-fresh",
		Vector: []float32{0, 1, 0}, Status: domain.EmbeddingStatusFresh,
	}))

	require.NoError(t, f.coord.Rebuild(ctx))

	assert.True(t, f.index.Contains(domain.EntityTypeJob, "j-fresh"))
	assert.False(t, f.index.Contains(domain.EntityTypeJob, "j-pending"))
	assert.True(t, f.index.Contains(domain.EntityTypeProfessional, "p-fresh"))
}

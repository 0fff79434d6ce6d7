package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/carematch/matchengine/internal/domain"
	"github.com/carematch/matchengine/internal/port"
)

// CoordinatorConfig tunes the background write path.
type CoordinatorConfig struct {
	Workers   int
	QueueSize int

	// MaxAttempts bounds retries for transient provider failures; after
	// that the record is marked failed.
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// DefaultCoordinatorConfig holds the default write-path configuration.
var DefaultCoordinatorConfig = CoordinatorConfig{
	Workers:        4,
	QueueSize:      256,
	MaxAttempts:    3,
	RetryBaseDelay: 200 * time.Millisecond,
	RetryMaxDelay:  5 * time.Second,
}

type embedJob struct {
	id         uuid.UUID
	entityType domain.EntityType
	entityID   string
	text       string
	hash       string
}

func (j embedJob) key() string {
	return string(j.entityType) + ":" + j.entityID + ":" + j.hash
}

type generated struct {
	vector   []float32
	attempts int
}

// Coordinator drives the write path: it detects stale or missing
// embeddings when source text changes and re-embeds in the background.
// The triggering CRUD write returns immediately; embedding completion
// is eventual and its failure never blocks the write.
//
// Same-entity work is serialized and generation for an unchanged text
// hash is single-flight, so two racing edits can never leave the store
// in an order-dependent state. No lock is held across the provider
// network call.
type Coordinator struct {
	store    port.EmbeddingStore
	provider port.EmbeddingProvider
	index    port.VectorIndex
	cfg      CoordinatorConfig
	log      *zap.Logger

	group    singleflight.Group
	jobs     chan embedJob
	inflight sync.WaitGroup
	entityMu sync.Map // entity key -> *sync.Mutex
}

// NewCoordinator creates the freshness coordinator.
func NewCoordinator(store port.EmbeddingStore, provider port.EmbeddingProvider, index port.VectorIndex, cfg CoordinatorConfig, log *zap.Logger) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultCoordinatorConfig.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultCoordinatorConfig.QueueSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultCoordinatorConfig.MaxAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultCoordinatorConfig.RetryBaseDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = DefaultCoordinatorConfig.RetryMaxDelay
	}
	return &Coordinator{
		store:    store,
		provider: provider,
		index:    index,
		cfg:      cfg,
		log:      log,
		jobs:     make(chan embedJob, cfg.QueueSize),
	}
}

// Start launches the worker pool. Workers exit when ctx is canceled;
// from then on queued jobs are discarded instead of processed, so
// WaitIdle always returns.
func (c *Coordinator) Start(ctx context.Context) {
	for i := 0; i < c.cfg.Workers; i++ {
		go c.worker(ctx)
	}
	go c.discardAfter(ctx)
	c.log.Info("freshness coordinator started", zap.Int("workers", c.cfg.Workers))
}

// discardAfter releases jobs that arrive after shutdown. Without it a
// job queued at cancel time would hold its inflight count forever and
// deadlock WaitIdle.
func (c *Coordinator) discardAfter(ctx context.Context) {
	<-ctx.Done()
	for job := range c.jobs {
		c.log.Debug("discarding embedding job after shutdown",
			zap.String("entity_type", string(job.entityType)),
			zap.String("entity_id", job.entityID),
		)
		c.inflight.Done()
	}
}

// WaitIdle blocks until every enqueued job has been processed.
func (c *Coordinator) WaitIdle() {
	c.inflight.Wait()
}

// TextChanged records that an entity's source text may have changed and
// enqueues re-embedding when it has. It returns before any provider
// call is made.
func (c *Coordinator) TextChanged(ctx context.Context, entityType domain.EntityType, entityID, text string) error {
	if text == "" {
		return fmt.Errorf("%w: empty text", port.ErrProviderRejected)
	}
	hash := domain.HashSourceText(text)

	mu := c.lockEntity(entityType, entityID)
	defer mu.Unlock()

	rec, err := c.store.Get(ctx, entityType, entityID)
	if err != nil && !errors.Is(err, port.ErrRecordNotFound) {
		return fmt.Errorf("load embedding record: %w", err)
	}

	status := domain.EmbeddingStatusPending
	if rec != nil {
		if rec.SourceTextHash == hash {
			switch rec.Status {
			case domain.EmbeddingStatusFresh, domain.EmbeddingStatusPending, domain.EmbeddingStatusStale:
				// Unchanged text that is fresh or already on its way.
				return nil
			case domain.EmbeddingStatusFailed:
				// Re-submitting the same text is the explicit retry trigger.
			}
		}
		if rec.Status == domain.EmbeddingStatusFresh {
			status = domain.EmbeddingStatusStale
		}
	}

	next := &domain.EmbeddingRecord{
		EntityType:     entityType,
		EntityID:       entityID,
		SourceTextHash: hash,
		Status:         status,
	}
	if rec != nil {
		next.GeneratedAt = rec.GeneratedAt
	}
	if err := c.store.Put(ctx, next); err != nil {
		return fmt.Errorf("mark embedding record: %w", err)
	}

	// The entity has no rankable vector until re-embedding completes.
	c.index.Remove(entityType, entityID)

	c.enqueue(embedJob{
		id:         uuid.New(),
		entityType: entityType,
		entityID:   entityID,
		text:       text,
		hash:       hash,
	})
	return nil
}

// Delete removes the entity's record and its index entry.
func (c *Coordinator) Delete(ctx context.Context, entityType domain.EntityType, entityID string) error {
	mu := c.lockEntity(entityType, entityID)
	defer mu.Unlock()

	if err := c.store.Delete(ctx, entityType, entityID); err != nil {
		return err
	}
	c.index.Remove(entityType, entityID)
	return nil
}

// Rebuild reconstructs the vector index from fresh store records. It is
// a supported recovery operation, run at startup and on demand.
func (c *Coordinator) Rebuild(ctx context.Context) error {
	records, err := c.store.ListFresh(ctx)
	if err != nil {
		return fmt.Errorf("list fresh records: %w", err)
	}
	if err := c.index.Rebuild(records); err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	c.log.Info("vector index rebuilt", zap.Int("records", len(records)))
	return nil
}

func (c *Coordinator) lockEntity(entityType domain.EntityType, entityID string) *sync.Mutex {
	key := string(entityType) + ":" + entityID
	v, _ := c.entityMu.LoadOrStore(key, &sync.Mutex{})
	mu, _ := v.(*sync.Mutex)
	mu.Lock()
	return mu
}

func (c *Coordinator) enqueue(job embedJob) {
	c.inflight.Add(1)
	select {
	case c.jobs <- job:
	default:
		// Queue saturated; hand off without blocking the caller.
		go func() { c.jobs <- job }()
	}
}

func (c *Coordinator) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-c.jobs:
			c.process(ctx, job)
		}
	}
}

func (c *Coordinator) process(ctx context.Context, job embedJob) {
	defer c.inflight.Done()

	log := c.log.With(
		zap.String("job_id", job.id.String()),
		zap.String("entity_type", string(job.entityType)),
		zap.String("entity_id", job.entityID),
	)

	if !c.claim(ctx, job) {
		log.Debug("embedding job superseded before generation")
		return
	}

	// Single-flight per (entity, text hash): concurrent identical jobs
	// collapse into one provider call.
	v, err, _ := c.group.Do(job.key(), func() (any, error) {
		return c.generate(ctx, job.text)
	})

	result, _ := v.(generated)
	if err != nil {
		c.commitFailure(ctx, job, err, result.attempts)
		log.Warn("embedding generation failed", zap.Error(err), zap.Int("attempts", result.attempts))
		return
	}

	if c.commitSuccess(ctx, job, result) {
		log.Info("embedding refreshed", zap.Int("attempts", result.attempts))
	} else {
		log.Debug("embedding result superseded")
	}
}

// claim flips a stale record to pending right before generation starts.
// Returns false when the job no longer matches the stored hash.
func (c *Coordinator) claim(ctx context.Context, job embedJob) bool {
	mu := c.lockEntity(job.entityType, job.entityID)
	defer mu.Unlock()

	rec, err := c.store.Get(ctx, job.entityType, job.entityID)
	if err != nil || rec.SourceTextHash != job.hash {
		return false
	}
	if rec.Status == domain.EmbeddingStatusStale {
		rec.Status = domain.EmbeddingStatusPending
		if err := c.store.Put(ctx, rec); err != nil {
			return false
		}
	}
	return rec.Status == domain.EmbeddingStatusPending
}

// generate calls the provider with bounded retries and exponential
// backoff for transient failures. Permanent rejections are never
// retried.
func (c *Coordinator) generate(ctx context.Context, text string) (generated, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		vector, err := c.provider.Generate(ctx, text)
		if err == nil {
			return generated{vector: vector, attempts: attempt}, nil
		}
		lastErr = err

		if !errors.Is(err, port.ErrProviderUnavailable) {
			return generated{attempts: attempt}, err
		}
		if attempt == c.cfg.MaxAttempts {
			break
		}

		delay := c.cfg.RetryBaseDelay << (attempt - 1)
		if delay > c.cfg.RetryMaxDelay {
			delay = c.cfg.RetryMaxDelay
		}
		// Full jitter keeps concurrent retries from synchronizing.
		delay = time.Duration(rand.Int63n(int64(delay)) + int64(delay)/2)

		select {
		case <-ctx.Done():
			return generated{attempts: attempt}, fmt.Errorf("%w: %v", port.ErrProviderUnavailable, ctx.Err())
		case <-time.After(delay):
		}
	}
	return generated{attempts: c.cfg.MaxAttempts}, lastErr
}

// commitSuccess stores the fresh vector and makes it visible in the
// index, unless a newer text edit superseded this job.
func (c *Coordinator) commitSuccess(ctx context.Context, job embedJob, result generated) bool {
	mu := c.lockEntity(job.entityType, job.entityID)
	defer mu.Unlock()

	rec, err := c.store.Get(ctx, job.entityType, job.entityID)
	if err != nil || rec.SourceTextHash != job.hash {
		return false
	}

	rec.Vector = result.vector
	rec.Status = domain.EmbeddingStatusFresh
	rec.Attempts = result.attempts
	rec.LastError = ""
	rec.GeneratedAt = time.Now()
	if err := c.store.Put(ctx, rec); err != nil {
		c.log.Error("store fresh embedding", zap.Error(err))
		return false
	}
	if err := c.index.Upsert(job.entityType, job.entityID, result.vector); err != nil {
		c.log.Error("index fresh embedding", zap.Error(err))
		return false
	}
	return true
}

// commitFailure marks the record failed; the entity stays out of result
// pools until its text changes or the same text is re-submitted.
func (c *Coordinator) commitFailure(ctx context.Context, job embedJob, genErr error, attempts int) {
	mu := c.lockEntity(job.entityType, job.entityID)
	defer mu.Unlock()

	rec, err := c.store.Get(ctx, job.entityType, job.entityID)
	if err != nil || rec.SourceTextHash != job.hash {
		return
	}

	rec.Status = domain.EmbeddingStatusFailed
	rec.Attempts = attempts
	rec.LastError = genErr.Error()
	if err := c.store.Put(ctx, rec); err != nil {
		c.log.Error("store failed embedding status", zap.Error(err))
	}
}

package index

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/carematch/matchengine/internal/port"
)

// partitionState holds the immutable state of one partition for
// lock-free reads. Internal ids are append-only; nil vector slots are
// tombstones.
type partitionState struct {
	vectors  [][]float32 // internal id -> normalized vector, nil = tombstone
	ids      []string    // internal id -> entity id
	byEntity map[string]uint32
	live     int
}

// partition stores the vectors of one entity type. It uses a
// copy-on-write pattern: readers load an immutable snapshot, writers are
// serialized by a mutex and publish a new snapshot atomically, so a
// query observes either the pre- or post-upsert state and never a
// partially written vector.
type partition struct {
	cfg     Config
	writeMu sync.Mutex
	state   atomic.Value // holds *partitionState

	// graph is built once the live count first exceeds the exact-search
	// threshold and grows append-only from then on. Queries load the
	// pointer without touching writeMu.
	graph atomic.Pointer[hnswGraph]
}

func newPartition(cfg Config) *partition {
	p := &partition{cfg: cfg}
	p.state.Store(&partitionState{byEntity: make(map[string]uint32)})
	return p
}

func (p *partition) getState() *partitionState {
	st, _ := p.state.Load().(*partitionState)
	return st
}

func (p *partition) cloneState(st *partitionState) *partitionState {
	newState := &partitionState{
		vectors:  make([][]float32, len(st.vectors)),
		ids:      make([]string, len(st.ids)),
		byEntity: make(map[string]uint32, len(st.byEntity)),
		live:     st.live,
	}
	copy(newState.vectors, st.vectors)
	copy(newState.ids, st.ids)
	for k, v := range st.byEntity {
		newState.byEntity[k] = v
	}
	return newState
}

// upsert inserts or atomically replaces the entry for entityID.
// The vector must already be normalized and dimension-checked.
func (p *partition) upsert(entityID string, normalized []float32) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	newState := p.cloneState(p.getState())

	if old, ok := newState.byEntity[entityID]; ok {
		newState.vectors[old] = nil
		newState.live--
	}

	id := uint32(len(newState.vectors))
	newState.vectors = append(newState.vectors, normalized)
	newState.ids = append(newState.ids, entityID)
	newState.byEntity[entityID] = id
	newState.live++

	if g := p.graph.Load(); g != nil {
		g.insert(id, normalized)
	} else if p.cfg.ExactSearchThreshold > 0 && newState.live > p.cfg.ExactSearchThreshold {
		p.graph.Store(p.buildGraph(newState))
	}

	p.state.Store(newState)
}

// remove tombstones the entry for entityID. The graph keeps the dead
// element; search results are filtered against the live set.
func (p *partition) remove(entityID string) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	oldState := p.getState()
	id, ok := oldState.byEntity[entityID]
	if !ok {
		return
	}

	newState := p.cloneState(oldState)
	newState.vectors[id] = nil
	delete(newState.byEntity, entityID)
	newState.live--
	p.state.Store(newState)
}

func (p *partition) buildGraph(st *partitionState) *hnswGraph {
	g := newGraph(graphOptions{M: p.cfg.M, EF: p.cfg.EFConstruction, Seed: p.cfg.RandomSeed})
	for id, vec := range st.vectors {
		if vec != nil {
			g.insert(uint32(id), vec)
		}
	}
	return g
}

func (p *partition) contains(entityID string) bool {
	_, ok := p.getState().byEntity[entityID]
	return ok
}

func (p *partition) count() int {
	return p.getState().live
}

// query returns at most k hits ranked by cosine similarity, strictly
// descending with ties broken by lower entity id.
func (p *partition) query(ctx context.Context, vector []float32, k int, opts port.QueryOptions) ([]port.SearchHit, error) {
	if k <= 0 {
		return nil, port.ErrInvalidK
	}
	if len(vector) != p.cfg.Dimension {
		return nil, &port.DimensionMismatchError{Expected: p.cfg.Dimension, Actual: len(vector)}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st := p.getState()
	if st.live == 0 {
		return nil, nil
	}

	q, ok := normalizeL2(vector)
	if !ok {
		return nil, fmt.Errorf("index: cannot normalize zero query vector")
	}

	filter := p.buildFilter(st, opts)

	// The approximate graph is consulted only above the exact-search
	// threshold and when the caller did not request exact mode.
	graph := p.graph.Load()
	if graph != nil && !opts.Exact && st.live > p.cfg.ExactSearchThreshold {
		return p.graphSearch(st, graph, q, k, filter), nil
	}
	return p.bruteSearch(ctx, st, q, k, filter)
}

// buildFilter folds the explicit-set and predicate forms into a single
// internal-id predicate. The explicit set is materialized once per query
// as a roaring bitmap over internal ids; the predicate form allocates
// nothing proportional to the corpus.
func (p *partition) buildFilter(st *partitionState, opts port.QueryOptions) func(id uint32) bool {
	if opts.AllowedIDs != nil {
		allowed := roaring.New()
		for _, entityID := range opts.AllowedIDs {
			if id, ok := st.byEntity[entityID]; ok {
				allowed.Add(id)
			}
		}
		return allowed.Contains
	}
	if opts.Filter != nil {
		pred := opts.Filter
		return func(id uint32) bool { return pred(st.ids[id]) }
	}
	return nil
}

// bruteSearch scans every live vector. Exact by construction; boundary
// ties are settled on entity id so insertion order never decides the
// cut.
func (p *partition) bruteSearch(ctx context.Context, st *partitionState, q []float32, k int, filter func(id uint32) bool) ([]port.SearchHit, error) {
	topCandidates := &bruteHeap{}
	heap.Init(topCandidates)

	for id, vec := range st.vectors {
		if id%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if vec == nil {
			continue
		}
		if filter != nil && !filter(uint32(id)) {
			continue
		}

		d := squaredL2(q, vec)
		item := bruteItem{node: uint32(id), entityID: st.ids[id], distance: d}

		if topCandidates.Len() < k {
			heap.Push(topCandidates, item)
			continue
		}
		if worst := (*topCandidates)[0]; worst.distance > d || (worst.distance == d && worst.entityID > item.entityID) {
			heap.Pop(topCandidates)
			heap.Push(topCandidates, item)
		}
	}

	hits := make([]port.SearchHit, 0, topCandidates.Len())
	for topCandidates.Len() > 0 {
		item, _ := heap.Pop(topCandidates).(bruteItem)
		hits = append(hits, port.SearchHit{
			EntityID: item.entityID,
			Score:    cosineScore(item.distance),
		})
	}
	sortHits(hits)
	return hits, nil
}

// graphSearch consults the approximate graph, filtering tombstones and
// ineligible entities out of the candidate list. Recall may drop under
// heavy filtering; correctness of the filter never does.
func (p *partition) graphSearch(st *partitionState, graph *hnswGraph, q []float32, k int, filter func(id uint32) bool) []port.SearchHit {
	ef := p.cfg.EFSearch
	if ef < k {
		ef = k
	}

	for attempt := 0; ; attempt++ {
		candidates := graph.search(q, ef)

		hits := make([]port.SearchHit, 0, k)
		for _, c := range candidates {
			if int(c.node) >= len(st.vectors) || st.vectors[c.node] == nil {
				continue // tombstoned or not yet visible in this snapshot
			}
			if filter != nil && !filter(c.node) {
				continue
			}
			hits = append(hits, port.SearchHit{
				EntityID: st.ids[c.node],
				Score:    cosineScore(c.distance),
			})
			if len(hits) == k {
				break
			}
		}

		// One widened retry when filtering starved the candidate list.
		if len(hits) < k && attempt == 0 && ef < graph.len() {
			ef *= 4
			continue
		}

		sortHits(hits)
		return hits
	}
}

func sortHits(hits []port.SearchHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].EntityID < hits[j].EntityID
	})
}

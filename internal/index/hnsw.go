package index

import (
	"container/heap"
	"math"
	"math/rand"
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// graphOptions configures the navigable small world graph.
type graphOptions struct {
	// M is the number of established connections per element during
	// construction. The range 12-48 works for most embedding workloads.
	M int

	// EF is the size of the dynamic candidate list during construction.
	// Larger values improve graph quality at the cost of insert time.
	EF int

	// Seed drives level assignment so identical insertion sequences
	// produce identical graphs.
	Seed int64
}

// graphNode is one element of the graph. Positions in the node slice are
// graph-local; id carries the partition-internal vector id.
type graphNode struct {
	id          uint32
	vector      []float32
	layer       int
	connections [][]uint32 // neighbor positions per level
}

// hnswGraph is a hierarchical navigable small world graph over normalized
// vectors. It is append-only: removals are tombstoned by the owning
// partition and filtered out of search results, never unlinked here.
type hnswGraph struct {
	mu       sync.RWMutex
	mmax     int     // max connections per element per layer
	mmax0    int     // max for layer 0
	ml       float64 // normalization factor for level generation
	ef       int
	ep       int // graph-local entry point, -1 while empty
	maxLevel int
	nodes    []*graphNode
	rng      *rand.Rand
}

func newGraph(opts graphOptions) *hnswGraph {
	if opts.M < 2 {
		// M == 1 would make the level normalization factor divide by zero.
		opts.M = 2
	}
	return &hnswGraph{
		mmax:  opts.M,
		mmax0: 2 * opts.M,
		ml:    1 / math.Log(float64(opts.M)),
		ef:    opts.EF,
		ep:    -1,
		rng:   rand.New(rand.NewSource(opts.Seed)),
	}
}

// insert adds a new element for the given partition-internal id.
func (g *hnswGraph) insert(id uint32, v []float32) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pos := uint32(len(g.nodes))
	layer := int(math.Floor(-math.Log(g.rng.Float64()) * g.ml))

	node := &graphNode{
		id:          id,
		vector:      v,
		layer:       layer,
		connections: make([][]uint32, max(layer, g.maxLevel)+1),
	}

	if g.ep < 0 {
		g.nodes = append(g.nodes, node)
		g.ep = int(pos)
		g.maxLevel = layer
		return
	}

	// Greedy descent through the layers above the new node's level.
	currPos, currDist := g.findEntry(v, layer)

	topCandidates := &priorityQueue{}
	for level := min(layer, g.maxLevel); level >= 0; level-- {
		g.searchLayer(v, priorityQueueItem{node: currPos, distance: currDist}, topCandidates, g.ef, level)

		// Keep the M closest as bidirectional links.
		for topCandidates.Len() > g.mmax {
			heap.Pop(topCandidates)
		}

		node.connections[level] = make([]uint32, topCandidates.Len())
		for i := topCandidates.Len() - 1; i >= 0; i-- {
			candidate, _ := heap.Pop(topCandidates).(priorityQueueItem)
			node.connections[level][i] = candidate.node
		}
	}

	g.nodes = append(g.nodes, node)

	for level := min(layer, g.maxLevel); level >= 0; level-- {
		for _, neighbour := range node.connections[level] {
			g.link(neighbour, pos, level)
		}
	}

	if layer > g.maxLevel {
		g.ep = int(pos)
		g.maxLevel = layer
	}
}

// search returns up to ef candidates closest to q, ordered nearest first.
// Candidates carry partition-internal ids; the caller applies tombstone
// and eligibility filtering.
func (g *hnswGraph) search(q []float32, ef int) []priorityQueueItem {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.ep < 0 {
		return nil
	}
	if ef < 1 {
		ef = 1
	}

	currPos, currDist := g.findEntry(q, 0)

	topCandidates := &priorityQueue{order: true}
	heap.Init(topCandidates)
	g.searchLayer(q, priorityQueueItem{node: currPos, distance: currDist}, topCandidates, ef, 0)

	out := make([]priorityQueueItem, topCandidates.Len())
	for i := topCandidates.Len() - 1; i >= 0; i-- {
		item, _ := heap.Pop(topCandidates).(priorityQueueItem)
		item.node = g.nodes[item.node].id
		out[i] = item
	}
	return out
}

// len reports the number of graph elements, including tombstoned ones.
func (g *hnswGraph) len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// findEntry greedily descends from the top layer down to targetLayer+1
// and returns the closest entry point found.
func (g *hnswGraph) findEntry(q []float32, targetLayer int) (uint32, float32) {
	currPos := uint32(g.ep)
	currDist := squaredL2(q, g.nodes[currPos].vector)

	for level := g.maxLevel; level > targetLayer; level-- {
		changed := true
		for changed {
			changed = false
			curr := g.nodes[currPos]
			if level >= len(curr.connections) {
				continue
			}
			for _, neighbour := range curr.connections[level] {
				d := squaredL2(q, g.nodes[neighbour].vector)
				if d < currDist {
					currPos = neighbour
					currDist = d
					changed = true
				}
			}
		}
	}
	return currPos, currDist
}

// searchLayer performs a best-first search in one layer of the graph.
func (g *hnswGraph) searchLayer(q []float32, ep priorityQueueItem, topCandidates *priorityQueue, ef int, level int) {
	var visited bitset.BitSet
	visited.Set(uint(ep.node))

	candidates := &priorityQueue{}
	heap.Init(candidates)
	heap.Push(candidates, ep)

	topCandidates.order = true // max-heap
	heap.Init(topCandidates)
	heap.Push(topCandidates, ep)

	for candidates.Len() > 0 {
		lowerBound := topCandidates.top().distance

		candidate, _ := heap.Pop(candidates).(priorityQueueItem)
		if candidate.distance > lowerBound {
			break
		}

		node := g.nodes[candidate.node]
		if level >= len(node.connections) {
			continue
		}

		for _, n := range node.connections[level] {
			if visited.Test(uint(n)) {
				continue
			}
			visited.Set(uint(n))

			d := squaredL2(q, g.nodes[n].vector)
			item := priorityQueueItem{node: n, distance: d}

			if topCandidates.Len() < ef {
				heap.Push(topCandidates, item)
				heap.Push(candidates, item)
			} else if topCandidates.top().distance > d {
				heap.Pop(topCandidates)
				heap.Push(topCandidates, item)
				heap.Push(candidates, item)
			}
		}
	}
}

// link records a bidirectional connection and prunes back to the
// per-layer connection budget, keeping the closest neighbours.
func (g *hnswGraph) link(from, to uint32, level int) {
	maxConnections := g.mmax
	if level == 0 {
		maxConnections = g.mmax0
	}

	node := g.nodes[from]
	if level >= len(node.connections) {
		return
	}
	node.connections[level] = append(node.connections[level], to)

	if len(node.connections[level]) <= maxConnections {
		return
	}

	topCandidates := &priorityQueue{order: true}
	heap.Init(topCandidates)
	for _, n := range node.connections[level] {
		heap.Push(topCandidates, priorityQueueItem{
			node:     n,
			distance: squaredL2(node.vector, g.nodes[n].vector),
		})
	}
	for topCandidates.Len() > maxConnections {
		heap.Pop(topCandidates)
	}

	node.connections[level] = make([]uint32, maxConnections)
	for i := maxConnections - 1; i >= 0; i-- {
		item, _ := heap.Pop(topCandidates).(priorityQueueItem)
		node.connections[level][i] = item.node
	}
}

package index

import "container/heap"

// Compile time check to ensure priorityQueue satisfies the heap interface.
var _ heap.Interface = (*priorityQueue)(nil)

// priorityQueueItem represents an item in the priority queue.
type priorityQueueItem struct {
	node     uint32  // internal vector id
	distance float32 // priority of the item in the queue
}

// priorityQueue implements heap.Interface over priorityQueueItems.
// Equal distances are ordered by id so evictions at the k boundary are
// reproducible for identical inputs.
type priorityQueue struct {
	order bool // false = min-heap by distance, true = max-heap
	items []priorityQueueItem
}

func (pq *priorityQueue) Len() int { return len(pq.items) }

func (pq *priorityQueue) Less(i, j int) bool {
	a, b := pq.items[i], pq.items[j]
	if !pq.order {
		if a.distance != b.distance {
			return a.distance < b.distance
		}
		return a.node < b.node
	}
	if a.distance != b.distance {
		return a.distance > b.distance
	}
	return a.node > b.node
}

func (pq *priorityQueue) Swap(i, j int) {
	pq.items[i], pq.items[j] = pq.items[j], pq.items[i]
}

func (pq *priorityQueue) Push(x any) {
	item, _ := x.(priorityQueueItem)
	pq.items = append(pq.items, item)
}

func (pq *priorityQueue) Pop() any {
	old := pq.items
	n := len(old)
	item := old[n-1]
	pq.items = old[:n-1]
	return item
}

// top returns the root element without removing it.
func (pq *priorityQueue) top() priorityQueueItem {
	return pq.items[0]
}

// bruteItem is one candidate in an exact scan, carrying the entity id
// so boundary ties resolve on it rather than on insertion order.
type bruteItem struct {
	node     uint32
	entityID string
	distance float32
}

// bruteHeap is a max-heap whose root is always the entry to evict at
// the k boundary: farthest first, highest entity id among equal
// distances.
type bruteHeap []bruteItem

func (h bruteHeap) Len() int { return len(h) }

func (h bruteHeap) Less(i, j int) bool {
	if h[i].distance != h[j].distance {
		return h[i].distance > h[j].distance
	}
	return h[i].entityID > h[j].entityID
}

func (h bruteHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *bruteHeap) Push(x any) {
	item, _ := x.(bruteItem)
	*h = append(*h, item)
}

func (h *bruteHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

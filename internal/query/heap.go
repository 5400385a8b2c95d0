package query

import (
	"container/heap"

	"github.com/acksell/dci/internal/posfile"
)

// gapItem is one candidate advance step: simple index j's iterator
// offering point (localID, globalID) at distance gap from the query's
// own projected coordinate along direction j.
type gapItem struct {
	gap       float64
	simpleIdx int
	dir       posfile.Direction
	localID   int
	globalID  int
}

// gapQueue is a min-heap of gapItems ordered by (gap, simpleIdx, dir),
// matching the tie-break rule: equal gap breaks by simple-index id, then
// by direction, toward larger keys (Up) first.
type gapQueue []*gapItem

func (q gapQueue) Len() int { return len(q) }

func (q gapQueue) Less(i, j int) bool {
	if q[i].gap != q[j].gap {
		return q[i].gap < q[j].gap
	}
	if q[i].simpleIdx != q[j].simpleIdx {
		return q[i].simpleIdx < q[j].simpleIdx
	}
	return q[i].dir < q[j].dir
}

func (q gapQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *gapQueue) Push(x any) { *q = append(*q, x.(*gapItem)) }

func (q *gapQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

var _ heap.Interface = (*gapQueue)(nil)

// neighbor is one retrieved candidate: a point id and its true ambient
// distance to the query.
type neighbor struct {
	globalID int
	dist     float64
}

// maxHeap is a bounded max-heap over neighbors, ordered so the worst
// (largest-distance) kept neighbor sits at the root and can be evicted
// in O(log k) when a closer candidate arrives.
type maxHeap []*neighbor

func (h maxHeap) Len() int { return len(h) }
func (h maxHeap) Less(i, j int) bool { return h[i].dist > h[j].dist }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *maxHeap) Push(x any) { *h = append(*h, x.(*neighbor)) }

func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

var _ heap.Interface = (*maxHeap)(nil)

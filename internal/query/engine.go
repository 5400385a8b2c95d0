// Package query implements the priority-driven multi-probe traversal
// that is the algorithmic heart of the index: per-composite iterator
// priority queues, promotion counting, the bounded k-nearest max-heap,
// blind mode, and the round-robin schedule across composite indices.
package query

import (
	"container/heap"
	"math"
	"runtime"
	"sort"

	"golang.org/x/exp/constraints"
	"golang.org/x/sync/errgroup"

	"github.com/acksell/dci/internal/posfile"
)

// Composite groups Ls simple indices (position files) belonging to one
// composite index at one level.
type Composite struct {
	simples []*posfile.PositionFile
}

// NewComposite builds a composite from its simple indices' position
// files, in simple-index order.
func NewComposite(simples []*posfile.PositionFile) *Composite {
	return &Composite{simples: simples}
}

// Ls returns the number of simple indices in the composite.
func (c *Composite) Ls() int { return len(c.simples) }

// Cfg is a query's termination budget and mode, resolved to this level's
// point count.
type Cfg struct {
	Blind          bool
	NumToVisit     int     // -1 defers to PropToVisit
	NumToRetrieve  int     // -1 defers to PropToRetrieve
	PropToVisit    float64 // in [0,1]
	PropToRetrieve float64 // in [0,1]
}

// capAxis is one resolved termination axis.
type capAxis struct {
	active bool
	value  int
}

// maxOrdered returns the larger of a and b, for any ordered numeric type.
// resolveCap uses it to combine an absolute cap with a proportional one
// without duplicating the comparison for int and float64 separately.
func maxOrdered[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}

func resolveCap(abs int, prop float64, n int) capAxis {
	var c capAxis
	if abs >= 0 {
		c.active = true
		c.value = abs
	}
	if prop > 0 {
		v := int(math.Ceil(prop * float64(n)))
		if !c.active {
			c.active = true
			c.value = v
		} else {
			c.value = maxOrdered(c.value, v)
		}
	}
	return c
}

func (c capAxis) reached(n int) bool {
	return c.active && n >= c.value
}

// Result is one query's outcome: up to k neighbours, sorted ascending by
// distance (or, in blind mode, in promotion order with no distances).
// PromotionOrder additionally records every distinct point's global id in
// the order it was first promoted, regardless of whether it survived
// into the k-heap; hierarchical field-of-view expansion walks this list
// rather than the distance-sorted IDs, per the promoted-order resolution
// of the field-of-view basis.
type Result struct {
	IDs            []int
	Dists          []float64
	PromotionOrder []int
}

// PointAccessor returns the ambient-space coordinates of the point with
// the given level-local id.
type PointAccessor func(localID int) []float64

// Eligible reports whether a global id is inside the current field of
// view. A nil Eligible imposes no restriction.
type Eligible func(globalID int) bool

// Engine runs the traversal for one level: L composites of Ls simple
// indices each, against a D-dimensional ambient point set reachable
// through a PointAccessor.
type Engine struct {
	d, l, ls       int
	point          PointAccessor
	maxParallelism int
}

// NewEngine builds an engine for a level with ambient dimension d, l
// composite indices of ls simple indices each, evaluating ambient
// distances through point.
func NewEngine(d, l, ls int, point PointAccessor) *Engine {
	return &Engine{d: d, l: l, ls: ls, point: point, maxParallelism: runtime.GOMAXPROCS(0)}
}

// SetMaxParallelism bounds the number of composites (or, in QueryBatch,
// queries) serviced concurrently. A value of 1 forces fully sequential
// execution; output is byte-identical to the parallel path regardless of
// this setting, since composite state never overlaps and promotions are
// always applied back in a fixed composite order.
func (e *Engine) SetMaxParallelism(n int) {
	if n < 1 {
		n = 1
	}
	e.maxParallelism = n
}

type stepEvent struct {
	popped           bool
	promoted         bool
	promotedLocalID  int
	promotedGlobalID int
}

// compositeState is the per-composite, per-query mutable state: the
// priority queue of pending advance steps and the promotion-witness
// counts, keyed by global id so composites can be compared against each
// other for deduplication across composites.
type compositeState struct {
	ls      int
	pq      gapQueue
	cursors []cursorPair
	witness map[int]int
}

type cursorPair struct {
	up, down *posfile.Cursor
}

func newCompositeState(c *Composite, queryProj []float64) *compositeState {
	ls := c.Ls()
	cs := &compositeState{
		ls:      ls,
		cursors: make([]cursorPair, ls),
		witness: make(map[int]int),
	}
	for j := 0; j < ls; j++ {
		pf := c.simples[j]
		start := pf.Locate(queryProj[j])
		up := pf.NewCursor(start, posfile.Up)
		down := pf.NewCursor(start, posfile.Down)
		cs.cursors[j] = cursorPair{up: up, down: down}
		if e, ok := up.Peek(); ok {
			heap.Push(&cs.pq, &gapItem{gap: math.Abs(e.Key - queryProj[j]), simpleIdx: j, dir: posfile.Up, localID: e.LocalID, globalID: e.GlobalID})
		}
		if e, ok := down.Peek(); ok {
			heap.Push(&cs.pq, &gapItem{gap: math.Abs(e.Key - queryProj[j]), simpleIdx: j, dir: posfile.Down, localID: e.LocalID, globalID: e.GlobalID})
		}
	}
	return cs
}

// step pops the single smallest-gap pending entry, records its witness,
// and advances the originating iterator, pushing its next entry if any
// remains. It does not touch any state shared with other composites, so
// multiple compositeStates may be stepped concurrently.
func (cs *compositeState) step(queryProj []float64) stepEvent {
	if cs.pq.Len() == 0 {
		return stepEvent{}
	}
	item := heap.Pop(&cs.pq).(*gapItem)
	cs.witness[item.globalID]++
	ev := stepEvent{popped: true}
	if cs.witness[item.globalID] == cs.ls {
		ev.promoted = true
		ev.promotedLocalID = item.localID
		ev.promotedGlobalID = item.globalID
	}

	cp := cs.cursors[item.simpleIdx]
	var cur *posfile.Cursor
	if item.dir == posfile.Up {
		cur = cp.up
	} else {
		cur = cp.down
	}
	cur.Advance()
	if e, ok := cur.Peek(); ok {
		gap := math.Abs(e.Key - queryProj[item.simpleIdx])
		heap.Push(&cs.pq, &gapItem{gap: gap, simpleIdx: item.simpleIdx, dir: item.dir, localID: e.LocalID, globalID: e.GlobalID})
	}
	return ev
}

// Query runs one query against composites (one per L composite indices
// of this level), returning up to k neighbours. queryProj[c][j] is the
// query's projection along composite c's simple index j. eligible may be
// nil to consider every point in this level.
func (e *Engine) Query(composites []*Composite, queryProj [][]float64, queryPoint []float64, k int, cfg Cfg, n int, eligible Eligible) Result {
	visitCap := resolveCap(cfg.NumToVisit, cfg.PropToVisit, n)
	retrieveCap := resolveCap(cfg.NumToRetrieve, cfg.PropToRetrieve, n)

	states := make([]*compositeState, e.l)
	for c := 0; c < e.l; c++ {
		states[c] = newCompositeState(composites[c], queryProj[c])
	}

	seen := make(map[int]bool)
	var kheap maxHeap
	var blindOut []int
	var promotionOrder []int
	visited := 0
	retrieved := 0

	promote := func(localID, globalID int) {
		if seen[globalID] {
			return
		}
		if eligible != nil && !eligible(globalID) {
			return
		}
		seen[globalID] = true
		retrieved++
		promotionOrder = append(promotionOrder, globalID)
		if cfg.Blind {
			blindOut = append(blindOut, globalID)
			return
		}
		dist := euclid(queryPoint, e.point(localID))
		if kheap.Len() < k {
			heap.Push(&kheap, &neighbor{globalID: globalID, dist: dist})
		} else if kheap.Len() > 0 && dist < kheap[0].dist {
			heap.Pop(&kheap)
			heap.Push(&kheap, &neighbor{globalID: globalID, dist: dist})
		}
	}

	terminated := func() bool {
		if visitCap.reached(visited) {
			return true
		}
		return retrieveCap.reached(retrieved)
	}

	for {
		if terminated() {
			break
		}
		events := make([]stepEvent, e.l)
		var g errgroup.Group
		g.SetLimit(e.maxParallelism)
		for c := 0; c < e.l; c++ {
			c := c
			g.Go(func() error {
				events[c] = states[c].step(queryProj[c])
				return nil
			})
		}
		_ = g.Wait()

		anyPopped := false
		for c := 0; c < e.l; c++ {
			ev := events[c]
			if !ev.popped {
				continue
			}
			anyPopped = true
			visited++
			if ev.promoted {
				promote(ev.promotedLocalID, ev.promotedGlobalID)
			}
			if terminated() {
				break
			}
		}
		if !anyPopped {
			break
		}
	}

	if cfg.Blind {
		return Result{IDs: blindOut, PromotionOrder: promotionOrder}
	}
	res := finalizeHeap(kheap)
	res.PromotionOrder = promotionOrder
	return res
}

// QueryBatch runs q independent queries concurrently, bounded so as not
// to oversubscribe the scheduler on small machines.
func (e *Engine) QueryBatch(composites []*Composite, queryProjs [][][]float64, queryPoints [][]float64, k int, cfg Cfg, n int, eligible Eligible) []Result {
	q := len(queryPoints)
	results := make([]Result, q)
	var g errgroup.Group
	g.SetLimit(e.maxParallelism)
	for i := 0; i < q; i++ {
		i := i
		g.Go(func() error {
			results[i] = e.Query(composites, queryProjs[i], queryPoints[i], k, cfg, n, eligible)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func finalizeHeap(kheap maxHeap) Result {
	n := kheap.Len()
	ids := make([]int, n)
	dists := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		top := heap.Pop(&kheap).(*neighbor)
		ids[i] = top.globalID
		dists[i] = top.dist
	}
	sort.Stable(byDist{ids, dists})
	return Result{IDs: ids, Dists: dists}
}

type byDist struct {
	ids   []int
	dists []float64
}

func (b byDist) Len() int           { return len(b.ids) }
func (b byDist) Less(i, j int) bool { return b.dists[i] < b.dists[j] }
func (b byDist) Swap(i, j int) {
	b.ids[i], b.ids[j] = b.ids[j], b.ids[i]
	b.dists[i], b.dists[j] = b.dists[j], b.dists[i]
}

func euclid(a, b []float64) float64 {
	var sumSq float64
	for i := range a {
		d := a[i] - b[i]
		sumSq += d * d
	}
	return math.Sqrt(sumSq)
}


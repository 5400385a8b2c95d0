// Package hierarchy builds and walks the coarse-to-fine level pyramid:
// each level holds a uniformly-sampled subset of the next finer level's
// points, its own projection bank, and its own composite indices: a
// self-contained query.Engine target.
package hierarchy

import (
	"fmt"
	"math"

	"github.com/acksell/dci/internal/posfile"
	"github.com/acksell/dci/internal/projection"
	"github.com/acksell/dci/internal/query"
	"github.com/acksell/dci/internal/rng"
)

// ChildRanges records, for every point at one coarse level, the
// contiguous range of the next finer level's local ids that descend from
// it, after that finer level has been reordered so siblings of one
// parent are adjacent.
type ChildRanges struct {
	start, count []int
	finerTotal   int
}

// NewChildRanges builds a ChildRanges from parallel start/count slices
// indexed by coarse-level local id.
func NewChildRanges(start, count []int, finerTotal int) *ChildRanges {
	return &ChildRanges{start: start, count: count, finerTotal: finerTotal}
}

// Lookup returns the (start, count) range, in the finer level's local id
// space, of the children belonging to parentLocalID.
func (c *ChildRanges) Lookup(parentLocalID int) (start, count int) {
	return c.start[parentLocalID], c.count[parentLocalID]
}

// Disjoint reports whether every parent's child range is disjoint from
// every other parent's, the invariant the hierarchy-containment testable
// property checks directly.
func (c *ChildRanges) Disjoint() bool {
	type interval struct{ s, e int }
	ivs := make([]interval, 0, len(c.start))
	for i := range c.start {
		if c.count[i] == 0 {
			continue
		}
		ivs = append(ivs, interval{c.start[i], c.start[i] + c.count[i]})
	}
	for i := range ivs {
		for j := i + 1; j < len(ivs); j++ {
			if ivs[i].s < ivs[j].e && ivs[j].s < ivs[i].e {
				return false
			}
		}
	}
	return true
}

// Level is one layer of the pyramid: its own projection bank, composite
// indices built over its point subset, and (for every level but the
// finest) the child ranges into the next finer level.
type Level struct {
	Bank          *projection.Bank
	Composites    []*query.Composite
	LocalToGlobal []int
	globalToLocal map[int]int
	ChildRanges   *ChildRanges
}

// N returns the number of points at this level.
func (lvl *Level) N() int { return len(lvl.LocalToGlobal) }

// LocalOf returns the level-local id of a global id, and whether the
// point is present at this level at all.
func (lvl *Level) LocalOf(globalID int) (int, bool) {
	id, ok := lvl.globalToLocal[globalID]
	return id, ok
}

// Engine builds a query.Engine for this level, evaluating ambient
// distances against raw (row-major, dimension d).
func (lvl *Level) Engine(d int, raw []float64) *query.Engine {
	l := len(lvl.Composites)
	ls := 0
	if l > 0 {
		ls = lvl.Composites[0].Ls()
	}
	accessor := func(localID int) []float64 {
		gid := lvl.LocalToGlobal[localID]
		return raw[gid*d : gid*d+d]
	}
	return query.NewEngine(d, l, ls, accessor)
}

// QueryProjections computes, for every composite/simple-index column of
// this level's bank, the query's projected coordinate, shaped as
// proj[c][j] for composite c, simple index j.
func (lvl *Level) QueryProjections(queryPoint []float64, l, ls int) [][]float64 {
	full := lvl.Bank.ProjectVector(queryPoint)
	out := make([][]float64, l)
	for c := 0; c < l; c++ {
		out[c] = full[c*ls : c*ls+ls]
	}
	return out
}

// Pyramid is the full coarse-to-fine chain, Levels[0] coarsest through
// Levels[len(Levels)-1] finest.
type Pyramid struct {
	Levels []*Level
}

// Finest returns the full-resolution level.
func (p *Pyramid) Finest() *Level { return p.Levels[len(p.Levels)-1] }

// ExpandEligible promotes the top fieldOfView points of lvl's promoted
// order into an eligibility predicate over the next finer level's global
// ids, via the stored child ranges. Points from promotionOrder that are
// not present at lvl (should not happen for points lvl itself produced)
// are skipped defensively.
func (p *Pyramid) ExpandEligible(lvl int, promotionOrder []int, fieldOfView int) func(globalID int) bool {
	level := p.Levels[lvl]
	finer := p.Levels[lvl+1]
	n := fieldOfView
	if n > len(promotionOrder) {
		n = len(promotionOrder)
	}
	eligible := make(map[int]bool)
	for i := 0; i < n; i++ {
		localID, ok := level.LocalOf(promotionOrder[i])
		if !ok {
			continue
		}
		start, count := level.ChildRanges.Lookup(localID)
		for j := start; j < start+count; j++ {
			eligible[finer.LocalToGlobal[j]] = true
		}
	}
	return func(globalID int) bool { return eligible[globalID] }
}

// EligibleCount returns how many distinct global ids ExpandEligible's
// predicate admits, for scaling proportional caps at intermediate
// levels.
func (p *Pyramid) EligibleCount(lvl int, promotionOrder []int, fieldOfView int) int {
	level := p.Levels[lvl]
	finer := p.Levels[lvl+1]
	n := fieldOfView
	if n > len(promotionOrder) {
		n = len(promotionOrder)
	}
	seen := make(map[int]bool)
	for i := 0; i < n; i++ {
		localID, ok := level.LocalOf(promotionOrder[i])
		if !ok {
			continue
		}
		start, count := level.ChildRanges.Lookup(localID)
		for j := start; j < start+count; j++ {
			seen[finer.LocalToGlobal[j]] = true
		}
	}
	return len(seen)
}

// levelSizes computes the geometric schedule of point counts per level:
// the finest level (last) holds n, the coarsest (first) holds
// numCoarsePoints, and intermediate levels are spaced by a constant
// ratio r solved from n and numCoarsePoints.
func levelSizes(n, h, numCoarsePoints int) []int {
	sizes := make([]int, h)
	sizes[h-1] = n
	if h == 1 {
		return sizes
	}
	target := numCoarsePoints
	if target <= 0 || target > n {
		target = n
	}
	r := math.Pow(float64(target)/float64(n), 1.0/float64(h-1))
	for lvl := 0; lvl < h-1; lvl++ {
		exp := h - 1 - lvl
		v := int(math.Round(float64(n) * math.Pow(r, float64(exp))))
		if v < 1 {
			v = 1
		}
		if v > n {
			v = n
		}
		sizes[lvl] = v
	}
	sizes[0] = target
	for lvl := 1; lvl < h; lvl++ {
		if sizes[lvl] < sizes[lvl-1] {
			sizes[lvl] = sizes[lvl-1]
		}
	}
	return sizes
}

// sampleSubsetAndGroup chooses coarseSize of finerGlobalIDs' positions
// uniformly at random to carry forward to the coarser level, assigns
// every remaining position to one of those as its parent by uniform
// sampling, and returns the coarser level's global ids plus the
// reordering of the finer level's positions so that every parent's
// children are contiguous.
func sampleSubsetAndGroup(finerGlobalIDs []int, coarseSize int, src *rng.Source) (coarseGlobalIDs []int, childStart, childCount []int, reorder []int) {
	nFiner := len(finerGlobalIDs)
	perm := src.Perm(nFiner)
	isCoarse := make([]bool, nFiner)
	parentOf := make([]int, nFiner)
	coarseGlobalIDs = make([]int, coarseSize)
	for ci := 0; ci < coarseSize; ci++ {
		idx := perm[ci]
		isCoarse[idx] = true
		coarseGlobalIDs[ci] = finerGlobalIDs[idx]
		parentOf[idx] = ci
	}
	for i := 0; i < nFiner; i++ {
		if isCoarse[i] {
			continue
		}
		parentOf[i] = src.IntN(coarseSize)
	}
	groups := make([][]int, coarseSize)
	for i := 0; i < nFiner; i++ {
		p := parentOf[i]
		groups[p] = append(groups[p], i)
	}
	reorder = make([]int, 0, nFiner)
	childStart = make([]int, coarseSize)
	childCount = make([]int, coarseSize)
	pos := 0
	for p := 0; p < coarseSize; p++ {
		childStart[p] = pos
		childCount[p] = len(groups[p])
		reorder = append(reorder, groups[p]...)
		pos += len(groups[p])
	}
	return coarseGlobalIDs, childStart, childCount, reorder
}

// Build constructs the full pyramid: h levels over n ambient points of
// dimension d, raw laid out row-major, each level with l composites of
// ls simple indices, the coarsest level targeting numCoarsePoints.
// src seeds both the per-level ancestor sampling and (via src.Child) each
// level's independent projection bank.
// finestBank, if non-nil, is reused as the finest level's bank instead of
// sampling a fresh one — the finest level's bank is the one allocated at
// index initialization and persists across Clear, per the projection
// bank's lifecycle rule.
func Build(raw []float64, d, n, h, l, ls, numCoarsePoints int, src *rng.Source, finestBank *projection.Bank) (*Pyramid, error) {
	if h < 1 {
		return nil, fmt.Errorf("hierarchy: invalid level count %d", h)
	}
	sizes := levelSizes(n, h, numCoarsePoints)

	globalIDsByLevel := make([][]int, h)
	childRangesByLevel := make([]*ChildRanges, h)

	identity := make([]int, n)
	for i := range identity {
		identity[i] = i
	}
	globalIDsByLevel[h-1] = identity

	for lvl := h - 2; lvl >= 0; lvl-- {
		coarseIDs, childStart, childCount, reorder := sampleSubsetAndGroup(globalIDsByLevel[lvl+1], sizes[lvl], src)

		old := globalIDsByLevel[lvl+1]
		reordered := make([]int, len(old))
		for newLocal, oldLocal := range reorder {
			reordered[newLocal] = old[oldLocal]
		}
		globalIDsByLevel[lvl+1] = reordered
		// The finer level's own child ranges (if it has any) are keyed by
		// its local ids, so they must follow the same reorder.
		if cr := childRangesByLevel[lvl+1]; cr != nil {
			start := make([]int, len(reorder))
			count := make([]int, len(reorder))
			for newLocal, oldLocal := range reorder {
				start[newLocal] = cr.start[oldLocal]
				count[newLocal] = cr.count[oldLocal]
			}
			childRangesByLevel[lvl+1] = NewChildRanges(start, count, cr.finerTotal)
		}
		childRangesByLevel[lvl] = NewChildRanges(childStart, childCount, len(reordered))
		globalIDsByLevel[lvl] = coarseIDs
	}

	levels := make([]*Level, h)
	for lvl := 0; lvl < h; lvl++ {
		m := l * ls
		var bank *projection.Bank
		if lvl == h-1 && finestBank != nil {
			bank = finestBank
		} else {
			var err error
			bank, err = projection.Sample(d, m, src.Child(lvl))
			if err != nil {
				return nil, fmt.Errorf("hierarchy: sampling level %d bank: %w", lvl, err)
			}
		}
		ids := globalIDsByLevel[lvl]
		points := projection.NewPointMatrix(raw, d, ids)
		proj := bank.Project(points)

		composites := make([]*query.Composite, l)
		for c := 0; c < l; c++ {
			simples := make([]*posfile.PositionFile, ls)
			for j := 0; j < ls; j++ {
				col := c*ls + j
				keys := make([]float64, len(ids))
				localIDs := make([]int, len(ids))
				for i := range ids {
					keys[i] = proj.At(i, col)
					localIDs[i] = i
				}
				simples[j] = posfile.Build(keys, localIDs, ids)
			}
			composites[c] = query.NewComposite(simples)
		}

		g2l := make(map[int]int, len(ids))
		for localID, gid := range ids {
			g2l[gid] = localID
		}

		levels[lvl] = &Level{
			Bank:          bank,
			Composites:    composites,
			LocalToGlobal: ids,
			globalToLocal: g2l,
			ChildRanges:   childRangesByLevel[lvl],
		}
	}

	return &Pyramid{Levels: levels}, nil
}

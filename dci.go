// Package dci implements the core of Prioritized Dynamic Continuous
// Indexing: a randomized exact k-nearest-neighbour index for
// high-dimensional Euclidean space. It composes a per-level random
// projection bank, sorted position files per projection direction, a
// priority-driven multi-probe query engine, and an optional coarse-to-
// fine hierarchy of levels that narrows the field of view before
// querying at full resolution.
package dci

import (
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/acksell/dci/internal/hierarchy"
	"github.com/acksell/dci/internal/projection"
	"github.com/acksell/dci/internal/query"
	"github.com/acksell/dci/internal/rng"
)

// Index is the top-level object: ambient dimension D, L composite
// indices of Ls simple indices each, fixed at construction; points and
// the level pyramid are attached by Add and released by Clear/Reset/
// Close. The index is single-writer: Add/Clear/Reset/Close must not run
// concurrently with Query or each other, enforced here with a RWMutex
// (queries share the read lock, everything else takes the write lock).
type Index struct {
	d, l, ls       int
	seed           uint64
	maxParallelism int

	mu         sync.RWMutex
	src        *rng.Source
	resetCount int
	finestBank *projection.Bank

	raw     *rawPoints
	pyramid *hierarchy.Pyramid
}

// New allocates an empty index with ambient dimension d, composite-index
// count l, and simple-indices-per-composite ls, and samples its
// finest-level projection bank. The index holds no points until Add.
func New(d, l, ls int, opts ...Option) (*Index, error) {
	if d <= 0 {
		return nil, configErrorf("dci: ambient dimension d=%d must be positive", d)
	}
	if l <= 0 {
		return nil, configErrorf("dci: composite count l=%d must be positive", l)
	}
	if ls <= 0 {
		return nil, configErrorf("dci: simple-index count ls=%d must be positive", ls)
	}

	x := &Index{d: d, l: l, ls: ls, maxParallelism: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(x)
	}

	x.src = rng.New(x.seed)
	bank, err := projection.Sample(d, l*ls, x.src.Child(0))
	if err != nil {
		return nil, fmt.Errorf("dci: sampling initial projection bank: %w", err)
	}
	x.finestBank = bank
	return x, nil
}

// Add attaches n points from data (row-major, dimension d, borrowed: not
// copied, must outlive every subsequent Query) and builds the level
// pyramid described by cfg. Add must not be called on an index that
// already holds points; call Clear or Reset first.
func (x *Index) Add(data []float64, n int, cfg ConstructionConfig) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if n <= 0 {
		return configErrorf("dci: n=%d must be positive", n)
	}
	if data == nil && n > 0 {
		panic("dci: Add called with nil data and n>0")
	}
	if len(data) < n*x.d {
		return configErrorf("dci: data has %d elements, need at least %d for n=%d d=%d", len(data), n*x.d, n, x.d)
	}
	if x.pyramid != nil {
		panic("dci: Add called twice without an intervening Clear or Reset")
	}

	h := cfg.NumLevels
	if h < 1 {
		h = 1
	}

	pyr, err := hierarchy.Build(data, x.d, n, h, x.l, x.ls, cfg.NumCoarsePoints, x.src, x.finestBank)
	if err != nil {
		return fmt.Errorf("dci: %w", err)
	}

	x.raw = newRawPoints(data, x.d, n)
	x.pyramid = pyr
	return nil
}

// Query returns up to k neighbours for each of q points in queries
// (row-major, dimension d). Queries within the batch run concurrently,
// bounded by the index's configured parallelism.
func (x *Index) Query(queries []float64, q, k int, cfg QueryConfig) ([]Result, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if q <= 0 {
		return nil, configErrorf("dci: q=%d must be positive", q)
	}
	if k <= 0 {
		return nil, configErrorf("dci: k=%d must be positive", k)
	}
	if x.pyramid == nil {
		panic("dci: Query called before Add")
	}
	if len(queries) < q*x.d {
		return nil, configErrorf("dci: queries has %d elements, need at least %d for q=%d d=%d", len(queries), q*x.d, q, x.d)
	}

	multiLevel := len(x.pyramid.Levels) > 1
	if err := cfg.validate(multiLevel); err != nil {
		return nil, err
	}

	results := make([]Result, q)
	errs := make([]error, q)
	var g errgroup.Group
	g.SetLimit(x.maxParallelism)
	for i := 0; i < q; i++ {
		i := i
		g.Go(func() error {
			qp := queries[i*x.d : i*x.d+x.d]
			res, err := x.queryOne(qp, k, cfg)
			results[i] = res
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// queryOne walks the pyramid from coarsest to finest, narrowing the
// field of view between levels by promoted order, and returns the
// finest level's result.
func (x *Index) queryOne(queryPoint []float64, k int, cfg QueryConfig) (Result, error) {
	levels := x.pyramid.Levels

	var eligible query.Eligible
	var promoted []int
	var final query.Result

	for lvl := 0; lvl < len(levels); lvl++ {
		level := levels[lvl]
		isFinest := lvl == len(levels)-1

		engine := level.Engine(x.d, x.raw.data)
		engine.SetMaxParallelism(x.maxParallelism)
		proj := level.QueryProjections(queryPoint, x.l, x.ls)

		n := level.N()
		elig := eligible
		if lvl > 0 {
			n = x.pyramid.EligibleCount(lvl-1, promoted, cfg.FieldOfView)
			if n == 0 {
				n = 1
			}
		}

		var levelCfg query.Cfg
		if isFinest {
			levelCfg = query.Cfg{
				Blind:          cfg.Blind,
				NumToVisit:     cfg.NumToVisit,
				NumToRetrieve:  cfg.NumToRetrieve,
				PropToVisit:    cfg.PropToVisit,
				PropToRetrieve: cfg.PropToRetrieve,
			}
		} else {
			fov := cfg.FieldOfView
			if fov < 1 {
				fov = 1
			}
			levelCfg = query.Cfg{NumToVisit: -1, PropToVisit: 1, NumToRetrieve: fov}
		}

		res := engine.Query(level.Composites, proj, queryPoint, k, levelCfg, n, elig)
		if isFinest {
			final = res
		} else {
			eligible = x.pyramid.ExpandEligible(lvl, res.PromotionOrder, cfg.FieldOfView)
			promoted = res.PromotionOrder
		}
	}

	return Result{IDs: final.IDs, Dists: final.Dists}, nil
}

// Reset drops per-level position files and the level pyramid, then
// re-samples the projection bank. The index holds no points afterward;
// Add must be called again before Query.
func (x *Index) Reset() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.resetCount++
	x.src = rng.New(x.seed ^ uint64(x.resetCount)*0x9E3779B97F4A7C15)
	bank, err := projection.Sample(x.d, x.l*x.ls, x.src.Child(0))
	if err != nil {
		return fmt.Errorf("dci: resampling projection bank: %w", err)
	}
	x.finestBank = bank
	x.pyramid = nil
	x.raw = nil
	return nil
}

// Clear drops per-level position files and the level pyramid but keeps
// the projection bank, so a subsequent Add reuses the same finest-level
// directions.
func (x *Index) Clear() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.pyramid = nil
	x.raw = nil
}

// Close releases everything, including the projection bank. The index
// must not be used afterward.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.pyramid = nil
	x.raw = nil
	x.finestBank = nil
	x.src = nil
	return nil
}

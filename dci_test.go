package dci

import (
	"math"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func squareGrid() []float64 {
	return []float64{
		0, 0,
		1, 0,
		0, 1,
		1, 1,
	}
}

// Scenario 1: D=2, N=4 unit-square corners, k=1, uncapped.
func TestScenarioSingleNearest(t *testing.T) {
	idx, err := New(2, 2, 2, WithSeed(0))
	require.NoError(t, err)
	require.NoError(t, idx.Add(squareGrid(), 4, ConstructionConfig{NumLevels: 1}))

	res, err := idx.Query([]float64{0.1, 0.1}, 1, 1, QueryConfig{NumToVisit: 100, NumToRetrieve: 100})
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Len(t, res[0].IDs, 1)
	require.Equal(t, 0, res[0].IDs[0])
	require.InDelta(t, 0.14142135, res[0].Dists[0], 1e-6)
}

// Scenario 2: same grid, k=4, uncapped: ids in distance order, with the
// middle two (equidistant) allowed in either order.
func TestScenarioAllFourDistanceOrder(t *testing.T) {
	idx, err := New(2, 2, 2, WithSeed(0))
	require.NoError(t, err)
	require.NoError(t, idx.Add(squareGrid(), 4, ConstructionConfig{NumLevels: 1}))

	res, err := idx.Query([]float64{0.1, 0.1}, 1, 4, QueryConfig{NumToVisit: 100, NumToRetrieve: 100})
	require.NoError(t, err)
	ids := res[0].IDs
	require.Len(t, ids, 4)
	require.Equal(t, 0, ids[0])
	require.Equal(t, 3, ids[3])
	require.ElementsMatch(t, []int{1, 2}, ids[1:3])
	for i := 1; i < len(res[0].Dists); i++ {
		require.True(t, res[0].Dists[i-1] <= res[0].Dists[i])
	}
}

func bruteForceTopK(raw []float64, d, n int, query []float64, k int) ([]int, []float64) {
	type cand struct {
		id   int
		dist float64
	}
	cands := make([]cand, n)
	for i := 0; i < n; i++ {
		p := raw[i*d : i*d+d]
		var sumSq float64
		for j := 0; j < d; j++ {
			diff := p[j] - query[j]
			sumSq += diff * diff
		}
		cands[i] = cand{id: i, dist: math.Sqrt(sumSq)}
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })
	if k > len(cands) {
		k = len(cands)
	}
	ids := make([]int, k)
	dists := make([]float64, k)
	for i := 0; i < k; i++ {
		ids[i] = cands[i].id
		dists[i] = cands[i].dist
	}
	return ids, dists
}

// Scenario 3: D=10, N=1000 standard normal, visit_cap=N -> exact match
// against brute force for every query.
func TestScenarioExactnessSmallN(t *testing.T) {
	const d, n = 10, 1000
	src := rand.New(rand.NewPCG(1, 2))
	raw := make([]float64, n*d)
	for i := range raw {
		raw[i] = src.NormFloat64()
	}

	idx, err := New(d, 2, 3, WithSeed(1))
	require.NoError(t, err)
	require.NoError(t, idx.Add(raw, n, ConstructionConfig{NumLevels: 1}))

	queries := make([]float64, 5*d)
	for i := range queries {
		queries[i] = src.NormFloat64()
	}

	// visit_cap set to the maximum number of pops a full traversal of
	// every simple index in every composite can ever need (l*ls*n), so
	// the engine exhausts the whole point set before terminating.
	cfg := QueryConfig{NumToVisit: 2 * 3 * n, NumToRetrieve: n}
	for q := 0; q < 5; q++ {
		qp := queries[q*d : q*d+d]
		res, err := idx.Query(qp, 1, 5, cfg)
		require.NoError(t, err)

		wantIDs, wantDists := bruteForceTopK(raw, d, n, qp, 5)
		require.Equal(t, wantIDs, res[0].IDs, "query %d", q)
		for i := range wantDists {
			require.InDelta(t, wantDists[i], res[0].Dists[i], 1e-9)
		}
	}
}

// Scenario 4 (scaled down from the full 50-dim/10000-point configuration
// to keep this test's cost bounded: D=30, N=2000, intrinsic_dim=5,
// num_coarse_points=200, field_of_view=50, 20 queries): hierarchical
// recall@10 should stay high against a visit cap far below N.
func TestScenarioHierarchicalRecall(t *testing.T) {
	const d, n, intrinsic = 30, 2000, 5
	src := rand.New(rand.NewPCG(3, 4))

	basis := make([]float64, d*intrinsic)
	for i := range basis {
		basis[i] = src.NormFloat64()
	}
	coeffs := make([]float64, intrinsic*n)
	for i := range coeffs {
		coeffs[i] = src.NormFloat64()
	}
	raw := make([]float64, n*d)
	for p := 0; p < n; p++ {
		for i := 0; i < d; i++ {
			var sum float64
			for j := 0; j < intrinsic; j++ {
				sum += basis[i*intrinsic+j] * coeffs[j*n+p]
			}
			raw[p*d+i] = sum
		}
	}

	idx, err := New(d, 3, 3, WithSeed(5))
	require.NoError(t, err)
	require.NoError(t, idx.Add(raw, n, ConstructionConfig{NumLevels: 2, NumCoarsePoints: 200}))

	const numQueries = 20
	queries := make([]float64, numQueries*d)
	for i := range queries {
		queries[i] = src.NormFloat64() * 0.1
	}

	cfg := QueryConfig{NumToVisit: 0, PropToVisit: 0.1, FieldOfView: 50}
	var totalRecall float64
	for q := 0; q < numQueries; q++ {
		qp := queries[q*d : q*d+d]
		res, err := idx.Query(qp, 1, 10, cfg)
		require.NoError(t, err)

		wantIDs, _ := bruteForceTopK(raw, d, n, qp, 10)
		want := make(map[int]bool, len(wantIDs))
		for _, id := range wantIDs {
			want[id] = true
		}
		var hit int
		for _, id := range res[0].IDs {
			if want[id] {
				hit++
			}
		}
		totalRecall += float64(hit) / float64(len(wantIDs))
	}
	avgRecall := totalRecall / numQueries
	require.GreaterOrEqual(t, avgRecall, 0.7, "average recall@10 too low: %v", avgRecall)
}

// Scenario 5: blind query returns exactly retrieve_cap distinct ids in
// promotion order, with no distances computed.
func TestScenarioBlindMode(t *testing.T) {
	const d, n = 10, 100
	src := rand.New(rand.NewPCG(7, 8))
	raw := make([]float64, n*d)
	for i := range raw {
		raw[i] = src.NormFloat64()
	}

	idx, err := New(d, 2, 2, WithSeed(9))
	require.NoError(t, err)
	require.NoError(t, idx.Add(raw, n, ConstructionConfig{NumLevels: 1}))

	query := make([]float64, d)
	for i := range query {
		query[i] = src.NormFloat64()
	}

	res, err := idx.Query(query, 1, 7, QueryConfig{Blind: true, NumToVisit: 20, NumToRetrieve: 7})
	require.NoError(t, err)
	require.Len(t, res[0].IDs, 7)
	require.Nil(t, res[0].Dists)

	seen := map[int]bool{}
	for _, id := range res[0].IDs {
		require.False(t, seen[id])
		seen[id] = true
	}

	// Blind-mode containment: the blind result must be a subset of what a
	// non-blind query with the same visit cap would consider. Pairing the
	// same NumToVisit with a retrieve cap and k both large enough that
	// neither bounds the run (n points total, so nothing is evicted from
	// the k-heap and the retrieve axis never fires first) makes the
	// non-blind query walk the identical pop sequence the blind query did,
	// just without stopping early at retrieve_cap=7.
	considered, err := idx.Query(query, 1, n, QueryConfig{NumToVisit: 20, NumToRetrieve: n})
	require.NoError(t, err)
	consideredSet := make(map[int]bool, len(considered[0].IDs))
	for _, id := range considered[0].IDs {
		consideredSet[id] = true
	}
	for _, id := range res[0].IDs {
		require.True(t, consideredSet[id], "blind id %d not considered by a non-blind query with the same visit cap", id)
	}
}

// Monotonicity in budget: recall (the fraction of the true top-k
// returned) is monotone non-decreasing as the visit cap increases, other
// parameters held fixed. The traversal order for a fixed query/composite
// pair is deterministic and depends only on the data, not on the cap, so
// a larger NumToVisit always extends the exact same pop-sequence prefix a
// smaller one stopped at; the set of promoted points can only grow, never
// shrink, and recall can only grow or stay flat alongside it.
func TestScenarioMonotonicRecallInVisitCap(t *testing.T) {
	const d, n = 10, 500
	src := rand.New(rand.NewPCG(31, 32))
	raw := make([]float64, n*d)
	for i := range raw {
		raw[i] = src.NormFloat64()
	}

	idx, err := New(d, 2, 3, WithSeed(33))
	require.NoError(t, err)
	require.NoError(t, idx.Add(raw, n, ConstructionConfig{NumLevels: 1}))

	query := make([]float64, d)
	for i := range query {
		query[i] = src.NormFloat64()
	}
	const k = 10
	wantIDs, _ := bruteForceTopK(raw, d, n, query, k)
	want := make(map[int]bool, len(wantIDs))
	for _, id := range wantIDs {
		want[id] = true
	}

	// NumToRetrieve is held fixed at n throughout so only the visit axis
	// ever governs termination: retrieved can never reach n before every
	// distinct point has been visited, so it never fires first regardless
	// of how small the visit cap is.
	recallAt := func(visitCap int) float64 {
		res, err := idx.Query(query, 1, k, QueryConfig{NumToVisit: visitCap, NumToRetrieve: n})
		require.NoError(t, err)
		var hit int
		for _, id := range res[0].IDs {
			if want[id] {
				hit++
			}
		}
		return float64(hit) / float64(len(wantIDs))
	}

	visitCaps := []int{5, 20, 60, 150, 2 * 3 * n}
	prevRecall := -1.0
	for _, visitCap := range visitCaps {
		recall := recallAt(visitCap)
		require.GreaterOrEqual(t, recall, prevRecall, "recall decreased when visit cap increased to %d", visitCap)
		prevRecall = recall
	}
	require.Equal(t, 1.0, prevRecall, "a full traversal must recover the exact top-k")
}

// Scenario 6: init/add/query/clear/add/query/close lifecycle.
func TestScenarioLifecycle(t *testing.T) {
	const d, n = 4, 50
	src := rand.New(rand.NewPCG(11, 12))
	raw1 := make([]float64, n*d)
	for i := range raw1 {
		raw1[i] = src.NormFloat64()
	}

	idx, err := New(d, 2, 2, WithSeed(13))
	require.NoError(t, err)

	require.NoError(t, idx.Add(raw1, n, ConstructionConfig{NumLevels: 1}))
	res, err := idx.Query(raw1[:d], 1, 3, QueryConfig{NumToVisit: n, NumToRetrieve: n})
	require.NoError(t, err)
	require.Equal(t, 0, res[0].IDs[0])

	idx.Clear()

	raw2 := make([]float64, n*d)
	for i := range raw2 {
		raw2[i] = src.NormFloat64()
	}
	require.NoError(t, idx.Add(raw2, n, ConstructionConfig{NumLevels: 1}))

	res2, err := idx.Query(raw2[:d], 1, 3, QueryConfig{NumToVisit: n, NumToRetrieve: n})
	require.NoError(t, err)
	require.Equal(t, 0, res2[0].IDs[0])

	require.NoError(t, idx.Close())
}

func TestNewRejectsBadShape(t *testing.T) {
	_, err := New(0, 2, 2)
	require.Error(t, err)
	_, err = New(4, 0, 2)
	require.Error(t, err)
	_, err = New(4, 2, 0)
	require.Error(t, err)
}

func TestQueryRejectsInactiveCaps(t *testing.T) {
	idx, err := New(2, 2, 2, WithSeed(0))
	require.NoError(t, err)
	require.NoError(t, idx.Add(squareGrid(), 4, ConstructionConfig{NumLevels: 1}))

	_, err = idx.Query([]float64{0.1, 0.1}, 1, 1, QueryConfig{NumToVisit: -1, NumToRetrieve: -1})
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestDeterminismAcrossParallelism(t *testing.T) {
	const d, n = 10, 200
	src := rand.New(rand.NewPCG(21, 22))
	raw := make([]float64, n*d)
	for i := range raw {
		raw[i] = src.NormFloat64()
	}
	query := make([]float64, d)
	for i := range query {
		query[i] = src.NormFloat64()
	}

	idx1, err := New(d, 2, 2, WithSeed(99), WithMaxParallelism(1))
	require.NoError(t, err)
	require.NoError(t, idx1.Add(raw, n, ConstructionConfig{NumLevels: 1}))
	res1, err := idx1.Query(query, 1, 5, QueryConfig{NumToVisit: n, NumToRetrieve: n})
	require.NoError(t, err)

	idx2, err := New(d, 2, 2, WithSeed(99), WithMaxParallelism(8))
	require.NoError(t, err)
	require.NoError(t, idx2.Add(raw, n, ConstructionConfig{NumLevels: 1}))
	res2, err := idx2.Query(query, 1, 5, QueryConfig{NumToVisit: n, NumToRetrieve: n})
	require.NoError(t, err)

	require.Equal(t, res1[0].IDs, res2[0].IDs)
	require.Equal(t, res1[0].Dists, res2[0].Dists)
}

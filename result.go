package dci

// Result is one query's outcome: up to k neighbour ids and, unless the
// query was blind, their ambient distances in the same order, ascending.
// len(IDs) may be less than k if the termination budget fired first; the
// caller reads that directly rather than through a separate count.
type Result struct {
	IDs   []int
	Dists []float64
}

// Package projection implements the random projection bank: a D x M
// matrix of independent unit vectors, sampled once and reused across the
// construction/query lifetime of the level it belongs to.
package projection

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/acksell/dci/internal/rng"
)

// Bank owns the D x M matrix of projection directions for one level. M is
// m*Ls: the composite count times the simple-index count per composite.
// Once sampled a Bank is read-only and safe for concurrent use.
type Bank struct {
	d, m int
	dirs *mat.Dense // D x M, column j is direction j
}

// Sample draws M columns i.i.d. from the uniform distribution on the
// (D-1)-sphere: fill each column from a standard normal, then normalize
// to unit L2 norm. src is consumed in column-major, then row-major order
// within each column; callers that need reproducibility across levels
// should give each level its own rng.Source (see rng.Source.Child).
func Sample(d, m int, src *rng.Source) (*Bank, error) {
	if d <= 0 || m <= 0 {
		return nil, fmt.Errorf("projection: invalid shape d=%d m=%d", d, m)
	}
	n := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	data := make([]float64, d*m)
	dirs := mat.NewDense(d, m, data)
	for j := 0; j < m; j++ {
		var sumSq float64
		for i := 0; i < d; i++ {
			v := n.Rand()
			dirs.Set(i, j, v)
			sumSq += v * v
		}
		norm := math.Sqrt(sumSq)
		if norm == 0 {
			// A zero vector has probability zero under a continuous
			// distribution; guard anyway rather than dividing by zero.
			norm = 1
		}
		for i := 0; i < d; i++ {
			dirs.Set(i, j, dirs.At(i, j)/norm)
		}
	}
	return &Bank{d: d, m: m, dirs: dirs}, nil
}

// D returns the ambient dimension this bank projects from.
func (b *Bank) D() int { return b.d }

// M returns the number of projection directions (m*Ls) this bank holds.
func (b *Bank) M() int { return b.m }

// ColumnNorm returns the L2 norm of direction j, for the unit-norm
// testable property.
func (b *Bank) ColumnNorm(j int) float64 {
	col := mat.Col(nil, j, b.dirs)
	var sumSq float64
	for _, v := range col {
		sumSq += v * v
	}
	return math.Sqrt(sumSq)
}

// Project computes the projections of an N x D row-major point matrix
// against every direction, returning an N x M matrix whose entry (n, j)
// is the dot product of point n with direction j. points must already be
// shaped N x D; raw []float64 callers should build it with NewPointMatrix.
//
// This is the transpose of spec's C = A^T B layout (A the D x M
// projection matrix, B a D x P point matrix): computing points * dirs
// directly avoids a physical transpose of the caller's row-major point
// buffer while delegating the bulk multiply to the same external
// dense-linear-algebra routine (gonum's Dense.Mul).
func (b *Bank) Project(points *mat.Dense) *mat.Dense {
	n, _ := points.Dims()
	out := mat.NewDense(n, b.m, nil)
	out.Mul(points, b.dirs)
	return out
}

// ProjectVector computes the projection of a single D-length point
// against every direction, returning a length-M slice.
func (b *Bank) ProjectVector(point []float64) []float64 {
	out := make([]float64, b.m)
	for j := 0; j < b.m; j++ {
		var dot float64
		col := mat.Col(nil, j, b.dirs)
		for i, v := range col {
			dot += v * point[i]
		}
		out[j] = dot
	}
	return out
}

// NewPointMatrix builds the N x D row-major matrix Project expects from a
// flat, row-major raw point buffer (N points of D coordinates each),
// restricted to the given local-to-global id mapping: row i of the result
// is the point at raw global id ids[i].
func NewPointMatrix(raw []float64, d int, ids []int) *mat.Dense {
	n := len(ids)
	data := make([]float64, n*d)
	for i, gid := range ids {
		copy(data[i*d:(i+1)*d], raw[gid*d:(gid+1)*d])
	}
	return mat.NewDense(n, d, data)
}

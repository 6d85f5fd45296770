package lsh

import (
	"errors"

	"github.com/gasparian/hash-dot-go/vector"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	// ErrCodeWidth is returned for non-positive code widths
	ErrCodeWidth = errors.New("code width must be a positive integer")
	// ErrDimensions is returned for non-positive vector dimensions
	ErrDimensions = errors.New("dimensions number must be a positive integer")
	// ErrDimensionMismatch is returned when a vector does not fit the projection planes
	ErrDimensionMismatch = errors.New("vector length does not match projection dimensions")
	// ErrDegeneratePlane is returned when a provided plane matrix contains a zero row
	ErrDegeneratePlane = errors.New("projection contains a zero plane")
)

// Projection holds the hyperplane normals used to binarize vectors.
// A trainable projection is updated by the optimizer between forward calls;
// a frozen one keeps the initial random draw for its whole lifetime.
type Projection struct {
	planes    blas64.General // k x dims
	trainable bool
}

func newProjection(k, dims int, seed uint64, trainable bool) (*Projection, error) {
	if k < 1 {
		return nil, ErrCodeWidth
	}
	if dims < 1 {
		return nil, ErrDimensions
	}
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(seed)}
	planes := vector.NewDense(k, dims, nil)
	for i := 0; i < k; i++ {
		row := vector.Row(planes, i)
		for {
			for j := 0; j < dims; j++ {
				row.Data[j] = normal.Rand()
			}
			// a zero normal defines no hyperplane; redraw
			if !vector.IsZeroVector(row) {
				break
			}
		}
	}
	return &Projection{planes: planes, trainable: trainable}, nil
}

// NewRandomProjection draws a frozen k x dims standard-normal plane matrix
func NewRandomProjection(k, dims int, seed uint64) (*Projection, error) {
	return newProjection(k, dims, seed, false)
}

// NewLearnedProjection draws the same initial matrix but leaves it trainable
func NewLearnedProjection(k, dims int, seed uint64) (*Projection, error) {
	return newProjection(k, dims, seed, true)
}

// ProjectionFromPlanes wraps an existing plane matrix, e.g. one restored
// from a checkpoint; the matrix is copied and validated against zero rows
func ProjectionFromPlanes(planes blas64.General, trainable bool) (*Projection, error) {
	if planes.Rows < 1 {
		return nil, ErrCodeWidth
	}
	if planes.Cols < 1 {
		return nil, ErrDimensions
	}
	owned := vector.NewDense(planes.Rows, planes.Cols, nil)
	for i := 0; i < planes.Rows; i++ {
		src := vector.Row(planes, i)
		if vector.IsZeroVector(src) {
			return nil, ErrDegeneratePlane
		}
		blas64.Copy(src, vector.Row(owned, i))
	}
	return &Projection{planes: owned, trainable: trainable}, nil
}

// K returns the code width
func (p *Projection) K() int {
	return p.planes.Rows
}

// Dims returns the input dimensionality
func (p *Projection) Dims() int {
	return p.planes.Cols
}

// Trainable reports whether the planes receive gradient updates
func (p *Projection) Trainable() bool {
	return p.trainable
}

// Planes returns a copy of the current plane matrix
func (p *Projection) Planes() blas64.General {
	out := vector.NewDense(p.planes.Rows, p.planes.Cols, nil)
	copy(out.Data, p.planes.Data)
	return out
}

// Plane returns a view of the i-th plane normal
func (p *Projection) Plane(i int) blas64.Vector {
	return vector.Row(p.planes, i)
}

// Step applies a plain gradient-descent update to a trainable projection
func (p *Projection) Step(grad blas64.General, lr float64) error {
	if !p.trainable {
		return errors.New("projection is frozen and cannot be updated")
	}
	if grad.Rows != p.planes.Rows || grad.Cols != p.planes.Cols {
		return ErrDimensionMismatch
	}
	for i := 0; i < p.planes.Rows; i++ {
		blas64.Axpy(-lr, vector.Row(grad, i), vector.Row(p.planes, i))
	}
	return nil
}

// Sign maps a projected coordinate to a code entry.
// Exact zero maps to +1 so codes never contain a third symbol.
func Sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}

// HashVector computes the k-bit code sign(P*v) for a unit-norm vector.
// It returns the +-1 code together with the raw projections, which the
// straight-through backward pass needs for its clip window.
func (p *Projection) HashVector(v blas64.Vector) (code, raw []float64, err error) {
	if v.N != p.planes.Cols {
		return nil, nil, ErrDimensionMismatch
	}
	raw = make([]float64, p.planes.Rows)
	blas64.Gemv(blas.NoTrans, 1, p.planes, v, 0, vector.NewVec(raw))
	code = make([]float64, len(raw))
	for i, x := range raw {
		code[i] = Sign(x)
	}
	return code, raw, nil
}

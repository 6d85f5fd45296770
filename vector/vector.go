package vector

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/blas/blas64"
)

const tol = 1e-6

var (
	// ErrDegenerateVector signals a zero-norm vector where a direction is required
	ErrDegenerateVector = errors.New("vector has zero norm and cannot be normalized")
)

// NewVec creates new blas vector
func NewVec(data []float64) blas64.Vector {
	if data == nil {
		data = make([]float64, 0)
	}
	return blas64.Vector{
		N:    len(data),
		Inc:  1,
		Data: data,
	}
}

// NewDense creates a row-major matrix backed by the given data;
// data may be nil to get a zeroed matrix
func NewDense(rows, cols int, data []float64) blas64.General {
	if data == nil {
		data = make([]float64, rows*cols)
	}
	return blas64.General{
		Rows:   rows,
		Cols:   cols,
		Stride: cols,
		Data:   data,
	}
}

// Row returns a view of the i-th matrix row as a blas vector
func Row(m blas64.General, i int) blas64.Vector {
	return blas64.Vector{
		N:    m.Cols,
		Inc:  1,
		Data: m.Data[i*m.Stride : i*m.Stride+m.Cols],
	}
}

// Normalize returns a unit-norm copy of the input vector along with
// its original l2 norm, so callers can reapply the true magnitude later
func Normalize(v blas64.Vector) (blas64.Vector, float64, error) {
	norm := blas64.Nrm2(v)
	if norm <= tol {
		return blas64.Vector{}, 0, ErrDegenerateVector
	}
	normed := NewVec(make([]float64, v.N))
	blas64.Axpy(1/norm, v, normed)
	return normed, norm, nil
}

// CosineSim calculates cosine similarity btw the two given vectors
func CosineSim(a, b blas64.Vector) (float64, error) {
	na, nb := blas64.Nrm2(a), blas64.Nrm2(b)
	if na <= tol || nb <= tol {
		return 0, ErrDegenerateVector
	}
	return blas64.Dot(a, b) / (na * nb), nil
}

// IsZeroVector returns true if the sum of vectors' elements close to 0.0
func IsZeroVector(v blas64.Vector) bool {
	return math.Abs(blas64.Asum(v)) <= tol
}

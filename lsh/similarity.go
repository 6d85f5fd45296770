package lsh

import (
	"math"

	"github.com/gasparian/hash-dot-go/vector"
	"gonum.org/v1/gonum/blas/blas64"
)

// Agreement returns the mean sign agreement (a*b)/k between two codes,
// which lands in [-1, 1]: 1 for identical codes, -1 for inverted ones
func Agreement(a, b []float64) (float64, error) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	return blas64.Dot(vector.NewVec(a), vector.NewVec(b)) / float64(len(a)), nil
}

// CosineFromAgreement inverts the random-hyperplane collision bound
// P[sign match] = 1 - theta/pi: with s the agreement rescaled to [-1, 1],
// the angle estimate is theta = pi/2 * (1 - s), so cosine ~= cos(theta)
func CosineFromAgreement(s float64) float64 {
	return math.Cos(math.Pi / 2 * (1 - s))
}

// Reconstruct rescales the estimated cosine by the original vector norms,
// giving back an estimate of the raw dot product between the inputs
func Reconstruct(s, normA, normB float64) float64 {
	return normA * normB * CosineFromAgreement(s)
}

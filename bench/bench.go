package bench

import (
	"errors"
	"math"

	"github.com/cheggaaa/pb/v3"
	"github.com/gasparian/hash-dot-go/lsh"
	"github.com/gasparian/hash-dot-go/vector"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	emptySampleErr = errors.New("number of sampled pairs must be positive")
	shapeErr       = errors.New("reference and approximation must have equal shapes")
)

// CosineMAE estimates the mean absolute error of the hash-reconstructed
// cosine against the true cosine over random normal pairs at the given code
// width. By the hyperplane collision bound the error shrinks as k grows,
// which is the property this measurement makes visible.
func CosineMAE(k, dims, pairs int, seed uint64) (float64, error) {
	if pairs < 1 {
		return 0, emptySampleErr
	}
	proj, err := lsh.NewRandomProjection(k, dims, seed)
	if err != nil {
		return 0, err
	}
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(seed + 1)}
	var mae float64
	for i := 0; i < pairs; i++ {
		a := randVec(dims, normal)
		b := randVec(dims, normal)
		truth, err := vector.CosineSim(a, b)
		if err != nil {
			return 0, err
		}
		aUnit, _, err := vector.Normalize(a)
		if err != nil {
			return 0, err
		}
		bUnit, _, err := vector.Normalize(b)
		if err != nil {
			return 0, err
		}
		aCode, _, err := proj.HashVector(aUnit)
		if err != nil {
			return 0, err
		}
		bCode, _, err := proj.HashVector(bUnit)
		if err != nil {
			return 0, err
		}
		s, err := lsh.Agreement(aCode, bCode)
		if err != nil {
			return 0, err
		}
		mae += math.Abs(lsh.CosineFromAgreement(s) - truth)
	}
	return mae / float64(pairs), nil
}

func randVec(dims int, normal distuv.Normal) blas64.Vector {
	data := make([]float64, dims)
	for i := range data {
		data[i] = normal.Rand()
	}
	return vector.NewVec(data)
}

// Progression runs CosineMAE over a ladder of code widths; with showBar set
// it renders a progress bar while the widths are being measured
func Progression(ks []int, dims, pairs int, seed uint64, showBar bool) ([]float64, error) {
	maes := make([]float64, len(ks))
	var bar *pb.ProgressBar
	if showBar {
		bar = pb.StartNew(len(ks))
	}
	for i, k := range ks {
		mae, err := CosineMAE(k, dims, pairs, seed)
		if err != nil {
			return nil, err
		}
		maes[i] = mae
		if bar != nil {
			bar.Increment()
		}
	}
	if bar != nil {
		bar.Finish()
	}
	return maes, nil
}

// RelativeError returns ||ref - approx||_2 / ||ref||_2 over whole batches,
// used to compare a patched model against the original one
func RelativeError(ref, approx blas64.General) (float64, error) {
	if ref.Rows != approx.Rows || ref.Cols != approx.Cols {
		return 0, shapeErr
	}
	var diff, norm float64
	for i := 0; i < ref.Rows; i++ {
		r := vector.Row(ref, i)
		a := vector.Row(approx, i)
		for j := 0; j < ref.Cols; j++ {
			d := r.Data[j] - a.Data[j]
			diff += d * d
			norm += r.Data[j] * r.Data[j]
		}
	}
	if norm == 0 {
		return 0, vector.ErrDegenerateVector
	}
	return math.Sqrt(diff / norm), nil
}

package kernel

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gasparian/hash-dot-go/lsh"
	"github.com/gasparian/hash-dot-go/vector"
	"gonum.org/v1/gonum/blas/blas64"
)

var (
	// ErrShapeMismatch is returned when an input does not fit the kernel dimensions
	ErrShapeMismatch = errors.New("input feature dimension does not match kernel dimensions")
	// ErrUntrainedState is returned when a kernel is used before weights and projection are set
	ErrUntrainedState = errors.New("kernel used before weights and projection were initialized")
	// ErrNoForwardState is returned when backward is called without a training-mode forward
	ErrNoForwardState = errors.New("backward called before a training-mode forward pass")
)

// DefaultClip is the straight-through clip window used when the config leaves it at zero
const DefaultClip = 1.0

// Config holds the knobs fixed at kernel construction
type Config struct {
	K         int
	Learnable bool
	Seed      uint64
	// Clip is the straight-through window: 0 picks DefaultClip, negative disables clipping
	Clip float64
}

// HashKernel approximates y = W*x + b through k-bit sign codes:
// both the weight rows and the input are reduced to codes sign(P*v) over
// unit-norm copies, the Hamming agreement between codes is mapped back to a
// cosine estimate, and the retained norms restore the true magnitudes.
// The random and learned variants share this struct; they differ only in
// whether the projection source is trainable.
type HashKernel struct {
	mutex  sync.RWMutex
	proj   *lsh.Projection
	weight blas64.General // out x in, owned copy
	bias   []float64      // nil when the replaced layer had no bias
	clip   float64

	training bool
	dirty    bool

	// weight-side codes, recomputed when W or P change
	wUnit  blas64.General
	wNorms []float64
	wCodes [][]float64
	wRaw   [][]float64

	// input-side state retained by training-mode forward for backward
	lastXUnit  blas64.General
	lastXNorms []float64
	lastXCodes [][]float64
	lastXRaw   [][]float64
	lastS      blas64.General

	gradW blas64.General
	gradB []float64
	gradP blas64.General
}

// New builds a kernel owning copies of the given weight matrix and bias.
// The projection is drawn from a standard normal; cfg.Learnable picks
// between the frozen and the trainable variant.
func New(weight blas64.General, bias []float64, cfg Config) (*HashKernel, error) {
	clip := cfg.Clip
	if clip == 0 {
		clip = DefaultClip
	}
	var proj *lsh.Projection
	var err error
	if cfg.Learnable {
		proj, err = lsh.NewLearnedProjection(cfg.K, weight.Cols, cfg.Seed)
	} else {
		proj, err = lsh.NewRandomProjection(cfg.K, weight.Cols, cfg.Seed)
	}
	if err != nil {
		return nil, err
	}
	return NewWithProjection(weight, bias, proj, clip)
}

// NewWithProjection builds a kernel around an existing projection source,
// e.g. one restored from a checkpoint
func NewWithProjection(weight blas64.General, bias []float64, proj *lsh.Projection, clip float64) (*HashKernel, error) {
	if weight.Rows < 1 || weight.Cols < 1 {
		return nil, ErrUntrainedState
	}
	if proj == nil {
		return nil, ErrUntrainedState
	}
	if proj.Dims() != weight.Cols {
		return nil, fmt.Errorf("%w: projection dims %d, weight cols %d", ErrShapeMismatch, proj.Dims(), weight.Cols)
	}
	if bias != nil && len(bias) != weight.Rows {
		return nil, fmt.Errorf("%w: bias length %d, weight rows %d", ErrShapeMismatch, len(bias), weight.Rows)
	}
	hk := &HashKernel{
		proj:   proj,
		weight: vector.NewDense(weight.Rows, weight.Cols, nil),
		clip:   clip,
		dirty:  true,
	}
	for i := 0; i < weight.Rows; i++ {
		blas64.Copy(vector.Row(weight, i), vector.Row(hk.weight, i))
	}
	if bias != nil {
		hk.bias = make([]float64, len(bias))
		copy(hk.bias, bias)
	}
	if err := hk.refreshWeightCodes(); err != nil {
		return nil, err
	}
	return hk, nil
}

// refreshWeightCodes re-derives the weight-side codes from the current W and P.
// Callers must hold the write lock.
func (hk *HashKernel) refreshWeightCodes() error {
	out, in := hk.weight.Rows, hk.weight.Cols
	hk.wUnit = vector.NewDense(out, in, nil)
	hk.wNorms = make([]float64, out)
	hk.wCodes = make([][]float64, out)
	hk.wRaw = make([][]float64, out)
	for r := 0; r < out; r++ {
		unit, norm, err := vector.Normalize(vector.Row(hk.weight, r))
		if err != nil {
			return fmt.Errorf("weight row %d: %w", r, err)
		}
		blas64.Copy(unit, vector.Row(hk.wUnit, r))
		hk.wNorms[r] = norm
		code, raw, err := hk.proj.HashVector(unit)
		if err != nil {
			return err
		}
		hk.wCodes[r] = code
		hk.wRaw[r] = raw
	}
	hk.dirty = false
	return nil
}

// Forward approximates x*W^T + b for a batch of inputs, one row per sample.
// In training mode the weight codes are re-derived every call, since the
// optimizer may have moved W or P since the last step; in eval mode the
// cached codes are reused until MarkDirty.
func (hk *HashKernel) Forward(x blas64.General) (blas64.General, error) {
	hk.mutex.Lock()
	defer hk.mutex.Unlock()

	if hk.proj == nil || hk.weight.Rows == 0 {
		return blas64.General{}, ErrUntrainedState
	}
	if x.Cols != hk.weight.Cols {
		return blas64.General{}, fmt.Errorf("%w: got %d features, kernel expects %d", ErrShapeMismatch, x.Cols, hk.weight.Cols)
	}
	if hk.training || hk.dirty {
		if err := hk.refreshWeightCodes(); err != nil {
			return blas64.General{}, err
		}
	}

	batch, out := x.Rows, hk.weight.Rows
	k := float64(hk.proj.K())
	y := vector.NewDense(batch, out, nil)
	var xUnit blas64.General
	var xNorms []float64
	var xCodes, xRaw [][]float64
	var sMat blas64.General
	if hk.training {
		xUnit = vector.NewDense(batch, x.Cols, nil)
		xNorms = make([]float64, batch)
		xCodes = make([][]float64, batch)
		xRaw = make([][]float64, batch)
		sMat = vector.NewDense(batch, out, nil)
	}

	for b := 0; b < batch; b++ {
		unit, norm, err := vector.Normalize(vector.Row(x, b))
		if err != nil {
			return blas64.General{}, fmt.Errorf("input row %d: %w", b, err)
		}
		code, raw, err := hk.proj.HashVector(unit)
		if err != nil {
			return blas64.General{}, err
		}
		codeVec := vector.NewVec(code)
		for r := 0; r < out; r++ {
			s := blas64.Dot(codeVec, vector.NewVec(hk.wCodes[r])) / k
			v := lsh.Reconstruct(s, hk.wNorms[r], norm)
			if hk.bias != nil {
				v += hk.bias[r]
			}
			y.Data[b*y.Stride+r] = v
			if hk.training {
				sMat.Data[b*sMat.Stride+r] = s
			}
		}
		if hk.training {
			blas64.Copy(unit, vector.Row(xUnit, b))
			xNorms[b] = norm
			xCodes[b] = code
			xRaw[b] = raw
		}
	}

	if hk.training {
		hk.lastXUnit = xUnit
		hk.lastXNorms = xNorms
		hk.lastXCodes = xCodes
		hk.lastXRaw = xRaw
		hk.lastS = sMat
	}
	return y, nil
}

// SetTraining toggles training mode; entering it drops any cached codes
func (hk *HashKernel) SetTraining(training bool) {
	hk.mutex.Lock()
	defer hk.mutex.Unlock()
	hk.training = training
	if training {
		hk.dirty = true
	}
}

// MarkDirty forces the weight codes to be re-derived on the next forward
func (hk *HashKernel) MarkDirty() {
	hk.mutex.Lock()
	defer hk.mutex.Unlock()
	hk.dirty = true
}

// InDim returns the input feature dimension
func (hk *HashKernel) InDim() int {
	return hk.weight.Cols
}

// OutDim returns the output feature dimension
func (hk *HashKernel) OutDim() int {
	return hk.weight.Rows
}

// K returns the code width
func (hk *HashKernel) K() int {
	return hk.proj.K()
}

// Learnable reports whether the projection source is trainable
func (hk *HashKernel) Learnable() bool {
	return hk.proj.Trainable()
}

// Clip returns the straight-through clip window
func (hk *HashKernel) Clip() float64 {
	return hk.clip
}

// Weight returns a copy of the owned weight matrix
func (hk *HashKernel) Weight() blas64.General {
	hk.mutex.RLock()
	defer hk.mutex.RUnlock()
	out := vector.NewDense(hk.weight.Rows, hk.weight.Cols, nil)
	copy(out.Data, hk.weight.Data)
	return out
}

// Bias returns a copy of the bias, or nil when the kernel carries none
func (hk *HashKernel) Bias() []float64 {
	hk.mutex.RLock()
	defer hk.mutex.RUnlock()
	if hk.bias == nil {
		return nil
	}
	out := make([]float64, len(hk.bias))
	copy(out, hk.bias)
	return out
}

// Projection exposes the kernel's projection source
func (hk *HashKernel) Projection() *lsh.Projection {
	return hk.proj
}

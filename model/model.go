package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/gasparian/hash-dot-go/kernel"
	"github.com/gasparian/hash-dot-go/vector"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	// ErrShapeMismatch is returned when an input does not fit a layer
	ErrShapeMismatch = errors.New("input feature dimension does not match layer dimensions")
	// ErrDuplicateName is returned when two stateful layers share a name
	ErrDuplicateName = errors.New("model contains duplicate layer names")
)

// Layer is a single node of a model tree: anything that can push a batch
// of row vectors forward
type Layer interface {
	Name() string
	Forward(x blas64.General) (blas64.General, error)
}

// Linear is the reference dense layer computing y = x*W^T + b
type Linear struct {
	name   string
	weight blas64.General // out x in
	bias   []float64      // nil when absent
}

// NewLinear builds a dense layer owning copies of the given parameters
func NewLinear(name string, weight blas64.General, bias []float64) (*Linear, error) {
	if weight.Rows < 1 || weight.Cols < 1 {
		return nil, ErrShapeMismatch
	}
	if bias != nil && len(bias) != weight.Rows {
		return nil, fmt.Errorf("%w: bias length %d, weight rows %d", ErrShapeMismatch, len(bias), weight.Rows)
	}
	l := &Linear{
		name:   name,
		weight: vector.NewDense(weight.Rows, weight.Cols, nil),
	}
	for i := 0; i < weight.Rows; i++ {
		blas64.Copy(vector.Row(weight, i), vector.Row(l.weight, i))
	}
	if bias != nil {
		l.bias = make([]float64, len(bias))
		copy(l.bias, bias)
	}
	return l, nil
}

// NewRandomLinear builds a dense layer with Kaiming-scaled normal weights
// and a zero bias; mainly used to stand up models for benchmarks and tests
func NewRandomLinear(name string, in, out int, seed uint64) *Linear {
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(seed)}
	scale := math.Sqrt(2.0 / float64(in))
	w := vector.NewDense(out, in, nil)
	for i := range w.Data {
		w.Data[i] = normal.Rand() * scale
	}
	return &Linear{
		name:   name,
		weight: w,
		bias:   make([]float64, out),
	}
}

// Name returns the layer name
func (l *Linear) Name() string {
	return l.name
}

// InDim returns the input feature dimension
func (l *Linear) InDim() int {
	return l.weight.Cols
}

// OutDim returns the output feature dimension
func (l *Linear) OutDim() int {
	return l.weight.Rows
}

// Weight returns a copy of the weight matrix
func (l *Linear) Weight() blas64.General {
	out := vector.NewDense(l.weight.Rows, l.weight.Cols, nil)
	copy(out.Data, l.weight.Data)
	return out
}

// Bias returns a copy of the bias, nil when the layer has none
func (l *Linear) Bias() []float64 {
	if l.bias == nil {
		return nil
	}
	out := make([]float64, len(l.bias))
	copy(out, l.bias)
	return out
}

// Forward computes x*W^T + b for a batch of row vectors
func (l *Linear) Forward(x blas64.General) (blas64.General, error) {
	if x.Cols != l.weight.Cols {
		return blas64.General{}, fmt.Errorf("%w: got %d features, layer expects %d", ErrShapeMismatch, x.Cols, l.weight.Cols)
	}
	y := vector.NewDense(x.Rows, l.weight.Rows, nil)
	blas64.Gemm(blas.NoTrans, blas.Trans, 1, x, l.weight, 0, y)
	if l.bias != nil {
		for b := 0; b < y.Rows; b++ {
			blas64.Axpy(1, vector.NewVec(l.bias), vector.Row(y, b))
		}
	}
	return y, nil
}

func (l *Linear) setState(weight []float64, bias []float64, rows, cols int) error {
	if rows != l.weight.Rows || cols != l.weight.Cols || len(weight) != rows*cols {
		return fmt.Errorf("%w: state is %dx%d, layer is %dx%d", ErrShapeMismatch, rows, cols, l.weight.Rows, l.weight.Cols)
	}
	copy(l.weight.Data, weight)
	if bias != nil {
		if len(bias) != rows {
			return fmt.Errorf("%w: state bias length %d, layer rows %d", ErrShapeMismatch, len(bias), rows)
		}
		l.bias = make([]float64, len(bias))
		copy(l.bias, bias)
	} else {
		l.bias = nil
	}
	return nil
}

// ReLU clamps negative activations to zero; carries no state
type ReLU struct {
	name string
}

// NewReLU creates a named activation layer
func NewReLU(name string) *ReLU {
	return &ReLU{name: name}
}

// Name returns the layer name
func (r *ReLU) Name() string {
	return r.name
}

// Forward clamps the batch element-wise
func (r *ReLU) Forward(x blas64.General) (blas64.General, error) {
	y := vector.NewDense(x.Rows, x.Cols, nil)
	for b := 0; b < x.Rows; b++ {
		src := vector.Row(x, b)
		dst := vector.Row(y, b)
		for j, v := range src.Data {
			if v > 0 {
				dst.Data[j] = v
			}
		}
	}
	return y, nil
}

// HashLayer adapts a hash kernel to the Layer interface
type HashLayer struct {
	name   string
	Kernel *kernel.HashKernel
}

// NewHashLayer wraps a kernel under the given layer name
func NewHashLayer(name string, hk *kernel.HashKernel) *HashLayer {
	return &HashLayer{name: name, Kernel: hk}
}

// Name returns the layer name
func (h *HashLayer) Name() string {
	return h.name
}

// Forward delegates to the kernel
func (h *HashLayer) Forward(x blas64.General) (blas64.General, error) {
	return h.Kernel.Forward(x)
}

// Sequential chains layers; nested Sequential values form the model tree
type Sequential struct {
	name   string
	layers []Layer
}

// NewSequential builds a container over the given layers
func NewSequential(name string, layers ...Layer) *Sequential {
	return &Sequential{name: name, layers: layers}
}

// Name returns the container name
func (m *Sequential) Name() string {
	return m.name
}

// Layers returns the direct children in execution order
func (m *Sequential) Layers() []Layer {
	out := make([]Layer, len(m.layers))
	copy(out, m.layers)
	return out
}

// Forward pushes the batch through every child in order
func (m *Sequential) Forward(x blas64.General) (blas64.General, error) {
	var err error
	for _, l := range m.layers {
		x, err = l.Forward(x)
		if err != nil {
			return blas64.General{}, fmt.Errorf("layer %q: %w", l.Name(), err)
		}
	}
	return x, nil
}

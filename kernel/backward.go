package kernel

import (
	"fmt"
	"math"

	"github.com/gasparian/hash-dot-go/lsh"
	"github.com/gasparian/hash-dot-go/vector"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
)

// Backward consumes dL/dy for the most recent training-mode forward call,
// accumulates parameter gradients on the kernel and returns dL/dx.
//
// Gradients flow through sign via the straight-through rule: inside the clip
// window sign acts as the identity, outside it the gradient is zeroed. The
// normalization feeding the sign path is treated as a constant scale (the
// usual convention for binarized layers), while the retained norm factors in
// the reconstruction get exact product-rule gradients. The projection grad is
// accumulated only for the learned variant; the frozen one skips it.
func (hk *HashKernel) Backward(grad blas64.General) (blas64.General, error) {
	hk.mutex.Lock()
	defer hk.mutex.Unlock()

	if !hk.training || hk.lastXNorms == nil {
		return blas64.General{}, ErrNoForwardState
	}
	batch, out, in := len(hk.lastXNorms), hk.weight.Rows, hk.weight.Cols
	if grad.Rows != batch || grad.Cols != out {
		return blas64.General{}, fmt.Errorf("%w: got %dx%d gradient, expected %dx%d",
			ErrShapeMismatch, grad.Rows, grad.Cols, batch, out)
	}

	k := hk.proj.K()
	kf := float64(k)
	planes := hk.proj.Planes()
	learnable := hk.proj.Trainable()

	if hk.gradW.Rows == 0 {
		hk.gradW = vector.NewDense(out, in, nil)
	}
	if hk.bias != nil && hk.gradB == nil {
		hk.gradB = make([]float64, out)
	}
	if learnable && hk.gradP.Rows == 0 {
		hk.gradP = vector.NewDense(k, in, nil)
	}

	gradX := vector.NewDense(batch, in, nil)
	// upstream gradients routed into the raw projections of each side
	dRawX := make([][]float64, batch)
	for b := range dRawX {
		dRawX[b] = make([]float64, k)
	}
	dRawW := make([][]float64, out)
	for r := range dRawW {
		dRawW[r] = make([]float64, k)
	}

	for b := 0; b < batch; b++ {
		nX := hk.lastXNorms[b]
		for r := 0; r < out; r++ {
			g := grad.Data[b*grad.Stride+r]
			if g == 0 {
				continue
			}
			nW := hk.wNorms[r]
			s := hk.lastS.Data[b*hk.lastS.Stride+r]
			theta := math.Pi / 2 * (1 - s)
			cosT, sinT := math.Cos(theta), math.Sin(theta)

			if hk.gradB != nil {
				hk.gradB[r] += g
			}
			// norm factors: y = nW * nX * cos(theta) + b
			blas64.Axpy(g*nX*cosT, vector.Row(hk.wUnit, r), vector.Row(hk.gradW, r))
			blas64.Axpy(g*nW*cosT, vector.Row(hk.lastXUnit, b), vector.Row(gradX, b))
			// agreement: dy/ds = nW * nX * sin(theta) * pi/2, ds/dcode = other code / k
			c := g * nW * nX * sinT * math.Pi / 2 / kf
			blas64.Axpy(c, vector.NewVec(hk.wCodes[r]), vector.NewVec(dRawX[b]))
			blas64.Axpy(c, vector.NewVec(hk.lastXCodes[b]), vector.NewVec(dRawW[r]))
		}
	}

	// input-side sign path
	for b := 0; b < batch; b++ {
		gated, err := lsh.StraightThrough(dRawX[b], hk.lastXRaw[b], hk.clip)
		if err != nil {
			return blas64.General{}, err
		}
		gatedVec := vector.NewVec(gated)
		blas64.Gemv(blas.Trans, 1, planes, gatedVec, 1, vector.Row(gradX, b))
		if learnable {
			for l := 0; l < k; l++ {
				if gated[l] != 0 {
					blas64.Axpy(gated[l], vector.Row(hk.lastXUnit, b), vector.Row(hk.gradP, l))
				}
			}
		}
	}
	// weight-side sign path
	for r := 0; r < out; r++ {
		gated, err := lsh.StraightThrough(dRawW[r], hk.wRaw[r], hk.clip)
		if err != nil {
			return blas64.General{}, err
		}
		gatedVec := vector.NewVec(gated)
		blas64.Gemv(blas.Trans, 1, planes, gatedVec, 1, vector.Row(hk.gradW, r))
		if learnable {
			for l := 0; l < k; l++ {
				if gated[l] != 0 {
					blas64.Axpy(gated[l], vector.Row(hk.wUnit, r), vector.Row(hk.gradP, l))
				}
			}
		}
	}
	return gradX, nil
}

// GradWeight returns a copy of the accumulated weight gradient
func (hk *HashKernel) GradWeight() blas64.General {
	hk.mutex.RLock()
	defer hk.mutex.RUnlock()
	out := vector.NewDense(hk.weight.Rows, hk.weight.Cols, nil)
	if hk.gradW.Rows != 0 {
		copy(out.Data, hk.gradW.Data)
	}
	return out
}

// GradBias returns a copy of the accumulated bias gradient, nil without a bias
func (hk *HashKernel) GradBias() []float64 {
	hk.mutex.RLock()
	defer hk.mutex.RUnlock()
	if hk.bias == nil {
		return nil
	}
	out := make([]float64, len(hk.bias))
	if hk.gradB != nil {
		copy(out, hk.gradB)
	}
	return out
}

// GradPlanes returns a copy of the accumulated projection gradient;
// for the frozen variant it is always zero
func (hk *HashKernel) GradPlanes() blas64.General {
	hk.mutex.RLock()
	defer hk.mutex.RUnlock()
	out := vector.NewDense(hk.proj.K(), hk.weight.Cols, nil)
	if hk.gradP.Rows != 0 {
		copy(out.Data, hk.gradP.Data)
	}
	return out
}

// ZeroGrad clears the accumulated gradients
func (hk *HashKernel) ZeroGrad() {
	hk.mutex.Lock()
	defer hk.mutex.Unlock()
	hk.gradW = blas64.General{}
	hk.gradB = nil
	hk.gradP = blas64.General{}
}

// Step applies plain gradient descent over the accumulated gradients, with
// independent learning rates for the weights and the projection planes, then
// clears them. The weight codes are re-derived on the next forward call.
func (hk *HashKernel) Step(lrW, lrP float64) error {
	hk.mutex.Lock()
	defer hk.mutex.Unlock()

	if hk.gradW.Rows != 0 {
		for r := 0; r < hk.weight.Rows; r++ {
			blas64.Axpy(-lrW, vector.Row(hk.gradW, r), vector.Row(hk.weight, r))
		}
	}
	if hk.gradB != nil {
		blas64.Axpy(-lrW, vector.NewVec(hk.gradB), vector.NewVec(hk.bias))
	}
	if hk.proj.Trainable() && hk.gradP.Rows != 0 {
		if err := hk.proj.Step(hk.gradP, lrP); err != nil {
			return err
		}
	}
	hk.gradW = blas64.General{}
	hk.gradB = nil
	hk.gradP = blas64.General{}
	hk.dirty = true
	return nil
}

package kernel

import (
	"errors"
	"math"
	"testing"

	"github.com/gasparian/hash-dot-go/vector"
)

func TestBackwardBeforeForward(t *testing.T) {
	w := correlatedWeights(randomBase(8, 1), 4, 0.1, 2)
	hk, err := New(w, nil, Config{K: 16, Seed: 42})
	if err != nil {
		t.Fatalf("Could not build kernel: %v", err)
	}
	if _, err := hk.Backward(vector.NewDense(1, 4, nil)); !errors.Is(err, ErrNoForwardState) {
		t.Fatal("Backward without a training forward must fail with ErrNoForwardState")
	}
	// eval-mode forward retains nothing for backward either
	x := correlatedWeights(randomBase(8, 3), 1, 0.2, 4)
	if _, err := hk.Forward(x); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if _, err := hk.Backward(vector.NewDense(1, 4, nil)); !errors.Is(err, ErrNoForwardState) {
		t.Fatal("Eval-mode forward must not enable backward")
	}
}

func TestBackwardGradShapes(t *testing.T) {
	w := correlatedWeights(randomBase(8, 1), 4, 0.1, 2)
	hk, err := New(w, nil, Config{K: 16, Seed: 42})
	if err != nil {
		t.Fatalf("Could not build kernel: %v", err)
	}
	hk.SetTraining(true)
	x := correlatedWeights(randomBase(8, 3), 2, 0.2, 4)
	if _, err := hk.Forward(x); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if _, err := hk.Backward(vector.NewDense(2, 3, nil)); !errors.Is(err, ErrShapeMismatch) {
		t.Fatal("Wrong gradient shape must fail with ErrShapeMismatch")
	}
	gradX, err := hk.Backward(vector.NewDense(2, 4, nil))
	if err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	if gradX.Rows != 2 || gradX.Cols != 8 {
		t.Fatal("Input gradient must match the forward input shape")
	}
}

func TestBackwardBiasGradient(t *testing.T) {
	out := 4
	w := correlatedWeights(randomBase(8, 1), out, 0.1, 2)
	hk, err := New(w, make([]float64, out), Config{K: 16, Seed: 42})
	if err != nil {
		t.Fatalf("Could not build kernel: %v", err)
	}
	hk.SetTraining(true)
	x := correlatedWeights(randomBase(8, 3), 3, 0.2, 4)
	if _, err := hk.Forward(x); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	grad := vector.NewDense(3, out, nil)
	for i := range grad.Data {
		grad.Data[i] = 1
	}
	if _, err := hk.Backward(grad); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	for _, g := range hk.GradBias() {
		if math.Abs(g-3.0) > 1e-12 {
			t.Fatal("Bias gradient must be the column sum of the upstream gradient")
		}
	}
}

// With W = 2 * x / ||x|| the codes agree exactly, the angle estimate is zero
// and the sign path carries no gradient, so the norm-path gradients can be
// checked in closed form.
func TestBackwardAlignedCase(t *testing.T) {
	xData := []float64{3, 0, 4, 0}
	xNorm := 5.0
	unit := []float64{0.6, 0, 0.8, 0}
	w := vector.NewDense(1, 4, nil)
	for j := range unit {
		w.Data[j] = 2 * unit[j]
	}
	hk, err := New(w, make([]float64, 1), Config{K: 32, Seed: 42})
	if err != nil {
		t.Fatalf("Could not build kernel: %v", err)
	}
	hk.SetTraining(true)
	y, err := hk.Forward(vector.NewDense(1, 4, xData))
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	// agreement is exactly 1, so the output is just the product of norms
	if math.Abs(y.Data[0]-2*xNorm) > 1e-9 {
		t.Fatalf("Aligned forward must return the norm product, got %v", y.Data[0])
	}
	gradX, err := hk.Backward(vector.NewDense(1, 1, []float64{1}))
	if err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	gradW := hk.GradWeight()
	for j := range unit {
		if math.Abs(gradW.Data[j]-xNorm*unit[j]) > 1e-9 {
			t.Fatalf("Weight gradient entry %d: got %v, expected %v", j, gradW.Data[j], xNorm*unit[j])
		}
		if math.Abs(gradX.Data[j]-2*unit[j]) > 1e-9 {
			t.Fatalf("Input gradient entry %d: got %v, expected %v", j, gradX.Data[j], 2*unit[j])
		}
	}
	if math.Abs(hk.GradBias()[0]-1.0) > 1e-12 {
		t.Fatal("Bias gradient must equal the upstream gradient")
	}
}

func TestFrozenProjectionGetsNoGradient(t *testing.T) {
	w := correlatedWeights(randomBase(8, 1), 4, 0.3, 2)
	hk, err := New(w, nil, Config{K: 16, Seed: 42})
	if err != nil {
		t.Fatalf("Could not build kernel: %v", err)
	}
	hk.SetTraining(true)
	x := correlatedWeights(randomBase(8, 3), 2, 0.5, 4)
	if _, err := hk.Forward(x); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	grad := vector.NewDense(2, 4, nil)
	for i := range grad.Data {
		grad.Data[i] = 1
	}
	if _, err := hk.Backward(grad); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	gradP := hk.GradPlanes()
	for _, g := range gradP.Data {
		if g != 0 {
			t.Fatal("Frozen projection must accumulate no gradient")
		}
	}
}

func TestLearnedProjectionGetsGradient(t *testing.T) {
	w := correlatedWeights(randomBase(8, 1), 4, 0.3, 2)
	// clipping disabled so every coordinate passes the straight-through gate
	hk, err := New(w, nil, Config{K: 16, Learnable: true, Seed: 42, Clip: -1})
	if err != nil {
		t.Fatalf("Could not build kernel: %v", err)
	}
	hk.SetTraining(true)
	x := correlatedWeights(randomBase(8, 3), 2, 0.5, 4)
	if _, err := hk.Forward(x); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	grad := vector.NewDense(2, 4, nil)
	for i := range grad.Data {
		grad.Data[i] = 1
	}
	if _, err := hk.Backward(grad); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	var total float64
	for _, g := range hk.GradPlanes().Data {
		total += math.Abs(g)
	}
	if total == 0 {
		t.Fatal("Learned projection must accumulate a non-zero gradient")
	}
}

func TestStepUpdatesParameters(t *testing.T) {
	w := correlatedWeights(randomBase(8, 1), 4, 0.3, 2)
	hk, err := New(w, make([]float64, 4), Config{K: 16, Learnable: true, Seed: 42, Clip: -1})
	if err != nil {
		t.Fatalf("Could not build kernel: %v", err)
	}
	hk.SetTraining(true)
	x := correlatedWeights(randomBase(8, 3), 2, 0.5, 4)
	if _, err := hk.Forward(x); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	grad := vector.NewDense(2, 4, nil)
	for i := range grad.Data {
		grad.Data[i] = 0.5
	}
	if _, err := hk.Backward(grad); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	wBefore := hk.Weight()
	pBefore := hk.Projection().Planes()
	if err := hk.Step(0.01, 0.01); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	wAfter := hk.Weight()
	pAfter := hk.Projection().Planes()
	var wMoved, pMoved bool
	for i := range wBefore.Data {
		if wBefore.Data[i] != wAfter.Data[i] {
			wMoved = true
			break
		}
	}
	for i := range pBefore.Data {
		if pBefore.Data[i] != pAfter.Data[i] {
			pMoved = true
			break
		}
	}
	if !wMoved || !pMoved {
		t.Fatal("Step must move both the weights and the trainable planes")
	}
	// gradients must be cleared after the step
	var leftover float64
	for _, g := range hk.GradWeight().Data {
		leftover += math.Abs(g)
	}
	if leftover != 0 {
		t.Fatal("Step must clear the accumulated gradients")
	}
	// next forward reflects the updated parameters without NaNs
	if _, err := hk.Forward(x); err != nil {
		t.Fatalf("Forward after step failed: %v", err)
	}
}

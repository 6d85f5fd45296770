package bench

import (
	"testing"

	"github.com/gasparian/hash-dot-go/vector"
)

func TestCosineMAEConvergence(t *testing.T) {
	ks := []int{8, 64, 512}
	maes, err := Progression(ks, 16, 300, 42, false)
	if err != nil {
		t.Fatalf("Could not run progression: %v", err)
	}
	for i := 1; i < len(maes); i++ {
		if maes[i] >= maes[i-1] {
			t.Fatalf("MAE must shrink as k grows: %v", maes)
		}
	}
	if maes[len(maes)-1] > 0.1 {
		t.Fatalf("MAE at k=512 is %.4f, expected a tight estimate", maes[len(maes)-1])
	}
}

func TestCosineMAEValidation(t *testing.T) {
	if _, err := CosineMAE(8, 16, 0, 42); err == nil {
		t.Fatal("Zero pairs must be rejected")
	}
	if _, err := CosineMAE(0, 16, 10, 42); err == nil {
		t.Fatal("Zero code width must be rejected")
	}
}

func TestRelativeError(t *testing.T) {
	ref := vector.NewDense(1, 2, []float64{3, 4})
	same := vector.NewDense(1, 2, []float64{3, 4})
	relErr, err := RelativeError(ref, same)
	if err != nil {
		t.Fatalf("Could not compute relative error: %v", err)
	}
	if relErr != 0 {
		t.Fatal("Identical outputs must have zero relative error")
	}
	// ||(0, 5)|| / ||(3, 4)|| = 1
	approx := vector.NewDense(1, 2, []float64{3, 9})
	relErr, _ = RelativeError(ref, approx)
	if relErr != 1 {
		t.Fatalf("Expected relative error 1, got %v", relErr)
	}
	if _, err := RelativeError(ref, vector.NewDense(2, 2, nil)); err == nil {
		t.Fatal("Shape mismatch must be rejected")
	}
}

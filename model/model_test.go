package model

import (
	"errors"
	"math"
	"testing"

	"github.com/gasparian/hash-dot-go/vector"
)

func TestLinearForward(t *testing.T) {
	w := vector.NewDense(2, 3, []float64{1, 0, -1, 2, 1, 0})
	l, err := NewLinear("fc", w, []float64{0.5, -0.5})
	if err != nil {
		t.Fatalf("Could not build layer: %v", err)
	}
	x := vector.NewDense(1, 3, []float64{1, 2, 3})
	y, err := l.Forward(x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	// row 0: 1*1 + 0*2 + (-1)*3 + 0.5 = -1.5; row 1: 2*1 + 1*2 + 0*3 - 0.5 = 3.5
	if math.Abs(y.Data[0]+1.5) > 1e-12 || math.Abs(y.Data[1]-3.5) > 1e-12 {
		t.Fatalf("Wrong linear output: %v", y.Data)
	}
}

func TestLinearValidation(t *testing.T) {
	w := vector.NewDense(2, 3, nil)
	if _, err := NewLinear("fc", w, []float64{1}); !errors.Is(err, ErrShapeMismatch) {
		t.Fatal("Bias length mismatch must fail with ErrShapeMismatch")
	}
	l, _ := NewLinear("fc", w, nil)
	if _, err := l.Forward(vector.NewDense(1, 4, nil)); !errors.Is(err, ErrShapeMismatch) {
		t.Fatal("Wrong input width must fail with ErrShapeMismatch")
	}
}

func TestLinearOwnsParameters(t *testing.T) {
	wData := []float64{1, 2, 3, 4}
	w := vector.NewDense(2, 2, wData)
	l, _ := NewLinear("fc", w, nil)
	wData[0] = 100
	got := l.Weight()
	if got.Data[0] != 1 {
		t.Fatal("Layer must own a copy of the weights, not a reference")
	}
}

func TestReLU(t *testing.T) {
	r := NewReLU("act")
	x := vector.NewDense(1, 4, []float64{-1, 2, -3, 4})
	y, err := r.Forward(x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	expected := []float64{0, 2, 0, 4}
	for i := range expected {
		if y.Data[i] != expected[i] {
			t.Fatalf("Wrong ReLU output: %v", y.Data)
		}
	}
}

func TestSequentialForward(t *testing.T) {
	w1 := vector.NewDense(2, 2, []float64{1, 0, 0, 1})
	w2 := vector.NewDense(1, 2, []float64{1, 1})
	l1, _ := NewLinear("fc1", w1, nil)
	l2, _ := NewLinear("fc2", w2, nil)
	m := NewSequential("mlp", l1, NewReLU("act"), l2)
	x := vector.NewDense(1, 2, []float64{-2, 3})
	y, err := m.Forward(x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	// identity -> relu clamps -2 -> sum = 3
	if math.Abs(y.Data[0]-3.0) > 1e-12 {
		t.Fatalf("Wrong chained output: %v", y.Data)
	}
}

func TestRandomLinearDeterminism(t *testing.T) {
	a := NewRandomLinear("fc", 8, 4, 42)
	b := NewRandomLinear("fc", 8, 4, 42)
	wa, wb := a.Weight(), b.Weight()
	for i := range wa.Data {
		if wa.Data[i] != wb.Data[i] {
			t.Fatal("Same seed must reproduce identical weights")
		}
	}
}

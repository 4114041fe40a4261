package utils

import (
	"math"
	"testing"
)

func TestNormalizeL2(t *testing.T) {
	x := []float32{3, 4}
	NormalizeL2(x)
	if math.Abs(float64(x[0])-0.6) > 1e-6 || math.Abs(float64(x[1])-0.8) > 1e-6 {
		t.Errorf("got %v", x)
	}

	zero := []float32{0, 0, 0}
	NormalizeL2(zero)
	for _, v := range zero {
		if v != 0 {
			t.Fatalf("zero vector changed: %v", zero)
		}
	}
}

func TestNormalizedCopies(t *testing.T) {
	x := []float32{0, 2}
	y := Normalized(x)
	if x[1] != 2 {
		t.Error("input mutated")
	}
	if y[1] != 1 {
		t.Errorf("got %v", y)
	}
}

func TestDistances(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 6, 3}
	if got := SquaredL2(a, b); got != 25 {
		t.Errorf("SquaredL2 = %v, want 25", got)
	}
	if got := Dot(a, b); got != 25 {
		t.Errorf("Dot = %v, want 25", got)
	}
	if got := Norm([]float32{3, 4}); got != 5 {
		t.Errorf("Norm = %v, want 5", got)
	}
}

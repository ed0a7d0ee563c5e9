package embed

import (
	"math"
	"testing"
)

func TestCosineDistanceIdenticalVectorsIsZero(t *testing.T) {
	v := []int8{10, 20, -30, 40}
	if d := CosineDistance(v, v); d > 1e-9 {
		t.Errorf("expected ~0 distance for identical vectors, got %v", d)
	}
}

func TestCosineDistanceOrthogonalVectorsIsOne(t *testing.T) {
	a := []int8{127, 0}
	b := []int8{0, 127}
	if d := CosineDistance(a, b); math.Abs(d-1) > 1e-9 {
		t.Errorf("expected distance 1 for orthogonal vectors, got %v", d)
	}
}

func TestCosineDistanceZeroVectorIsMaximal(t *testing.T) {
	a := []int8{0, 0, 0}
	b := []int8{1, 2, 3}
	if d := CosineDistance(a, b); d != 1 {
		t.Errorf("expected distance 1 for a zero vector, got %v", d)
	}
}

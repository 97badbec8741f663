package filter

import (
	"math"
	"testing"

	"pmapcut/pkg/volume"
)

func TestKernel1D(t *testing.T) {
	if _, err := Kernel1D(-1); err == nil {
		t.Error("expected error for negative sigma")
	}

	identity, err := Kernel1D(0)
	if err != nil {
		t.Fatalf("Kernel1D(0) failed: %v", err)
	}
	if len(identity) != 1 || identity[0] != 1 {
		t.Errorf("Kernel1D(0) = %v, want [1]", identity)
	}

	kernel, err := Kernel1D(1.5)
	if err != nil {
		t.Fatalf("Kernel1D failed: %v", err)
	}
	if len(kernel)%2 == 0 {
		t.Errorf("kernel length %d is not odd", len(kernel))
	}
	sum := 0.0
	for _, w := range kernel {
		sum += w
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("kernel sums to %g, want 1", sum)
	}
	// Symmetric and peaked at the centre.
	mid := len(kernel) / 2
	for i := 0; i < mid; i++ {
		if kernel[i] != kernel[len(kernel)-1-i] {
			t.Errorf("kernel not symmetric at %d", i)
		}
		if kernel[i] >= kernel[mid] {
			t.Errorf("kernel tail %g not below centre %g", kernel[i], kernel[mid])
		}
	}
}

func TestGaussianPreservesConstant(t *testing.T) {
	v, _ := volume.New(3, 5, 5)
	for i := range v.Data {
		v.Data[i] = 0.7
	}

	smoothed, err := Gaussian(v, 1.2)
	if err != nil {
		t.Fatalf("Gaussian failed: %v", err)
	}
	for i, got := range smoothed.Data {
		if math.Abs(got-0.7) > 1e-10 {
			t.Fatalf("constant volume changed at %d: %g", i, got)
		}
	}
}

func TestGaussianSpreadsImpulse(t *testing.T) {
	v, _ := volume.New(1, 9, 9)
	v.Set(0, 4, 4, 1)

	smoothed, err := Gaussian(v, 1.0)
	if err != nil {
		t.Fatalf("Gaussian failed: %v", err)
	}

	centre := smoothed.At(0, 4, 4)
	if centre <= 0 || centre >= 1 {
		t.Errorf("centre value %g not strictly between 0 and 1", centre)
	}
	if neighbour := smoothed.At(0, 4, 5); neighbour <= 0 || neighbour >= centre {
		t.Errorf("neighbour value %g not between 0 and centre %g", neighbour, centre)
	}

	// Total mass is preserved by the normalized kernel with reflected
	// borders.
	sum := 0.0
	for _, value := range smoothed.Data {
		sum += value
	}
	if math.Abs(sum-1) > 1e-10 {
		t.Errorf("total mass %g, want 1", sum)
	}
}

func TestGaussianSigmaZeroIsIdentity(t *testing.T) {
	v, _ := volume.New(2, 3, 3)
	for i := range v.Data {
		v.Data[i] = float64(i) / 17
	}
	smoothed, err := Gaussian(v, 0)
	if err != nil {
		t.Fatalf("Gaussian failed: %v", err)
	}
	for i := range v.Data {
		if smoothed.Data[i] != v.Data[i] {
			t.Fatalf("sigma=0 changed value at %d", i)
		}
	}
}

func TestGaussianDepthOne(t *testing.T) {
	// A depth-1 volume must smooth only within the plane; the degenerate
	// z axis is skipped rather than reflected into garbage.
	v, _ := volume.New(1, 7, 7)
	v.Set(0, 3, 3, 1)
	smoothed, err := Gaussian(v, 0.8)
	if err != nil {
		t.Fatalf("Gaussian failed: %v", err)
	}
	sum := 0.0
	for _, value := range smoothed.Data {
		sum += value
	}
	if math.Abs(sum-1) > 1e-10 {
		t.Errorf("total mass %g, want 1", sum)
	}
}

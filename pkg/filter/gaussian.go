// Package filter implements the smoothing filters used to condition
// probability volumes before watershed seeding. Smoothing is separable:
// a 1D Gaussian kernel is convolved along each axis in turn, with
// reflected borders so that edge voxels keep full kernel support.
package filter

import (
	"fmt"
	"math"

	"pmapcut/pkg/volume"
)

// Kernel1D returns a normalized 1D Gaussian kernel for the given sigma.
// The kernel radius is ceil(3*sigma), which captures 99.7% of the mass.
// A sigma of 0 returns the identity kernel.
func Kernel1D(sigma float64) ([]float64, error) {
	if sigma < 0 {
		return nil, fmt.Errorf("sigma must be non-negative, got %g", sigma)
	}
	if sigma == 0 {
		return []float64{1}, nil
	}
	radius := int(math.Ceil(3 * sigma))
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for i := -radius; i <= radius; i++ {
		w := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+radius] = w
		sum += w
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel, nil
}

// Gaussian smooths a volume with an isotropic Gaussian of the given sigma
// and returns the result as a new volume. The convolution runs separably
// along z, then y, then x; axes shorter than the kernel are handled by
// border reflection, so a depth-1 volume degenerates cleanly to a 2D
// smoothing.
func Gaussian(v *volume.Volume, sigma float64) (*volume.Volume, error) {
	kernel, err := Kernel1D(sigma)
	if err != nil {
		return nil, err
	}
	out := v.Clone()
	if len(kernel) == 1 {
		return out, nil
	}
	convolveAxis(out, kernel, 0)
	convolveAxis(out, kernel, 1)
	convolveAxis(out, kernel, 2)
	return out, nil
}

// convolveAxis convolves the volume in place with a 1D kernel along the
// given axis (0=z, 1=y, 2=x), reflecting indices at the borders.
func convolveAxis(v *volume.Volume, kernel []float64, axis int) {
	radius := (len(kernel) - 1) / 2

	var extent, stride int
	switch axis {
	case 0:
		extent = v.Depth
		stride = v.Height * v.Width
	case 1:
		extent = v.Height
		stride = v.Width
	case 2:
		extent = v.Width
		stride = 1
	}
	if extent == 1 {
		return
	}

	line := make([]float64, extent)
	forEachLine(v, axis, func(base int) {
		for i := 0; i < extent; i++ {
			line[i] = v.Data[base+i*stride]
		}
		for i := 0; i < extent; i++ {
			sum := 0.0
			for k := -radius; k <= radius; k++ {
				sum += kernel[k+radius] * line[reflect(i+k, extent)]
			}
			v.Data[base+i*stride] = sum
		}
	})
}

// forEachLine invokes fn with the base flat index of every 1D line running
// along the given axis.
func forEachLine(v *volume.Volume, axis int, fn func(base int)) {
	switch axis {
	case 0:
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				fn(y*v.Width + x)
			}
		}
	case 1:
		for z := 0; z < v.Depth; z++ {
			for x := 0; x < v.Width; x++ {
				fn(z*v.Height*v.Width + x)
			}
		}
	case 2:
		for z := 0; z < v.Depth; z++ {
			for y := 0; y < v.Height; y++ {
				fn((z*v.Height + y) * v.Width)
			}
		}
	}
}

// reflect maps an out-of-range index back into [0, extent) by mirroring
// at the borders.
func reflect(i, extent int) int {
	for i < 0 || i >= extent {
		if i < 0 {
			i = -i - 1
		}
		if i >= extent {
			i = 2*extent - i - 1
		}
	}
	return i
}

// Package volume provides the dense 3D array types shared by all pipeline
// stages: float-valued probability volumes and integer-valued label volumes.
// Both store their data as a flat slice in (z, y, x) row-major order, matching
// the axis convention of the boundary-prediction models that produce the
// input.
package volume

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Volume is a dense 3D array of float64 values with axes (z, y, x).
// Element (z, y, x) lives at Data[z*Height*Width + y*Width + x].
type Volume struct {
	// Data holds the voxel values in row-major (z, y, x) order.
	Data []float64

	// Depth, Height and Width are the extents along z, y and x.
	Depth  int
	Height int
	Width  int
}

// Labels is a dense 3D array of uint32 region labels with the same
// geometry and storage layout as Volume. Label 0 is reserved for
// "unassigned" voxels and must not appear in a finished segmentation.
type Labels struct {
	Data []uint32

	Depth  int
	Height int
	Width  int
}

// New allocates a zero-filled volume with the given extents.
func New(depth, height, width int) (*Volume, error) {
	if depth <= 0 || height <= 0 || width <= 0 {
		return nil, fmt.Errorf("volume dimensions must be positive, got %dx%dx%d", depth, height, width)
	}
	return &Volume{
		Data:   make([]float64, depth*height*width),
		Depth:  depth,
		Height: height,
		Width:  width,
	}, nil
}

// NewLabels allocates a zero-filled label volume with the given extents.
func NewLabels(depth, height, width int) (*Labels, error) {
	if depth <= 0 || height <= 0 || width <= 0 {
		return nil, fmt.Errorf("label volume dimensions must be positive, got %dx%dx%d", depth, height, width)
	}
	return &Labels{
		Data:   make([]uint32, depth*height*width),
		Depth:  depth,
		Height: height,
		Width:  width,
	}, nil
}

// Idx returns the flat index of voxel (z, y, x).
func (v *Volume) Idx(z, y, x int) int {
	return (z*v.Height+y)*v.Width + x
}

// At returns the value at voxel (z, y, x).
func (v *Volume) At(z, y, x int) float64 {
	return v.Data[(z*v.Height+y)*v.Width+x]
}

// Set stores a value at voxel (z, y, x).
func (v *Volume) Set(z, y, x int, value float64) {
	v.Data[(z*v.Height+y)*v.Width+x] = value
}

// Len returns the total number of voxels.
func (v *Volume) Len() int {
	return v.Depth * v.Height * v.Width
}

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	data := make([]float64, len(v.Data))
	copy(data, v.Data)
	return &Volume{Data: data, Depth: v.Depth, Height: v.Height, Width: v.Width}
}

// ZSlice extracts z-slice index z as a depth-1 volume sharing no storage
// with the receiver. Slices are the unit of work for the per-slice
// watershed mode.
func (v *Volume) ZSlice(z int) (*Volume, error) {
	if z < 0 || z >= v.Depth {
		return nil, fmt.Errorf("z index %d outside volume depth %d", z, v.Depth)
	}
	n := v.Height * v.Width
	data := make([]float64, n)
	copy(data, v.Data[z*n:(z+1)*n])
	return &Volume{Data: data, Depth: 1, Height: v.Height, Width: v.Width}, nil
}

// Normalize rescales the voxel values to [0, 1] in place using the min-max
// range of the data. A constant volume maps to all zeros.
func (v *Volume) Normalize() {
	min := floats.Min(v.Data)
	max := floats.Max(v.Data)
	span := max - min
	if span == 0 {
		for i := range v.Data {
			v.Data[i] = 0
		}
		return
	}
	for i := range v.Data {
		v.Data[i] = (v.Data[i] - min) / span
	}
}

// Idx returns the flat index of voxel (z, y, x).
func (l *Labels) Idx(z, y, x int) int {
	return (l.Height*z+y)*l.Width + x
}

// At returns the label at voxel (z, y, x).
func (l *Labels) At(z, y, x int) uint32 {
	return l.Data[(l.Height*z+y)*l.Width+x]
}

// Set stores a label at voxel (z, y, x).
func (l *Labels) Set(z, y, x int, label uint32) {
	l.Data[(l.Height*z+y)*l.Width+x] = label
}

// Len returns the total number of voxels.
func (l *Labels) Len() int {
	return l.Depth * l.Height * l.Width
}

// Max returns the largest label present in the volume.
func (l *Labels) Max() uint32 {
	var max uint32
	for _, label := range l.Data {
		if label > max {
			max = label
		}
	}
	return max
}

// SetZSlice copies a depth-1 label volume into z-slice index z, adding
// offset to every non-zero label. The per-slice watershed uses this to
// stitch independently labelled slices into one globally unique label
// space.
func (l *Labels) SetZSlice(z int, slice *Labels, offset uint32) error {
	if slice.Depth != 1 || slice.Height != l.Height || slice.Width != l.Width {
		return fmt.Errorf("slice shape %dx%dx%d does not match volume %dx%dx%d",
			slice.Depth, slice.Height, slice.Width, 1, l.Height, l.Width)
	}
	if z < 0 || z >= l.Depth {
		return fmt.Errorf("z index %d outside volume depth %d", z, l.Depth)
	}
	n := l.Height * l.Width
	for i, label := range slice.Data {
		if label == 0 {
			l.Data[z*n+i] = 0
			continue
		}
		l.Data[z*n+i] = label + offset
	}
	return nil
}

// Compact renumbers the non-zero labels to a contiguous 1..n range in
// place, preserving their relative order, and returns n.
func (l *Labels) Compact() uint32 {
	present := make(map[uint32]bool)
	var max uint32
	for _, label := range l.Data {
		if label != 0 {
			present[label] = true
			if label > max {
				max = label
			}
		}
	}
	remap := make(map[uint32]uint32, len(present))
	var next uint32
	for old := uint32(1); old <= max; old++ {
		if present[old] {
			next++
			remap[old] = next
		}
	}
	for i, label := range l.Data {
		if label != 0 {
			l.Data[i] = remap[label]
		}
	}
	return next
}

// SameShape reports whether the two volumes have identical extents.
func SameShape(v *Volume, l *Labels) bool {
	return v.Depth == l.Depth && v.Height == l.Height && v.Width == l.Width
}

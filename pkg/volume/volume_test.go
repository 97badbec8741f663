package volume

import (
	"testing"
)

func TestNewValidation(t *testing.T) {
	if _, err := New(0, 4, 4); err == nil {
		t.Error("expected error for zero depth")
	}
	if _, err := New(2, -1, 4); err == nil {
		t.Error("expected error for negative height")
	}
	if _, err := NewLabels(2, 4, 0); err == nil {
		t.Error("expected error for zero width")
	}

	v, err := New(2, 3, 4)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if v.Len() != 24 || len(v.Data) != 24 {
		t.Errorf("expected 24 voxels, got Len=%d len=%d", v.Len(), len(v.Data))
	}
}

func TestIndexingRoundTrip(t *testing.T) {
	v, err := New(3, 4, 5)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	value := 0.0
	for z := 0; z < 3; z++ {
		for y := 0; y < 4; y++ {
			for x := 0; x < 5; x++ {
				v.Set(z, y, x, value)
				value++
			}
		}
	}

	// Row-major (z, y, x) order means the written values match the flat
	// slice exactly.
	for i, got := range v.Data {
		if got != float64(i) {
			t.Fatalf("Data[%d] = %g, want %d", i, got, i)
		}
	}
	if v.At(2, 3, 4) != float64(v.Len()-1) {
		t.Errorf("At(2,3,4) = %g, want %d", v.At(2, 3, 4), v.Len()-1)
	}
	if v.Idx(1, 2, 3) != 1*20+2*5+3 {
		t.Errorf("Idx(1,2,3) = %d, want %d", v.Idx(1, 2, 3), 1*20+2*5+3)
	}
}

func TestNormalize(t *testing.T) {
	v, _ := New(1, 2, 2)
	copy(v.Data, []float64{2, 4, 6, 10})
	v.Normalize()

	want := []float64{0, 0.25, 0.5, 1}
	for i := range want {
		if diff := v.Data[i] - want[i]; diff > 1e-12 || diff < -1e-12 {
			t.Errorf("Data[%d] = %g, want %g", i, v.Data[i], want[i])
		}
	}

	// A constant volume maps to zeros rather than dividing by zero.
	flat, _ := New(1, 1, 3)
	copy(flat.Data, []float64{5, 5, 5})
	flat.Normalize()
	for i, got := range flat.Data {
		if got != 0 {
			t.Errorf("constant volume Data[%d] = %g, want 0", i, got)
		}
	}
}

func TestZSliceExtraction(t *testing.T) {
	v, _ := New(2, 2, 2)
	for i := range v.Data {
		v.Data[i] = float64(i)
	}

	slice, err := v.ZSlice(1)
	if err != nil {
		t.Fatalf("ZSlice failed: %v", err)
	}
	if slice.Depth != 1 || slice.Height != 2 || slice.Width != 2 {
		t.Fatalf("unexpected slice shape %dx%dx%d", slice.Depth, slice.Height, slice.Width)
	}
	for i, got := range slice.Data {
		if got != float64(4+i) {
			t.Errorf("slice.Data[%d] = %g, want %d", i, got, 4+i)
		}
	}

	// The slice owns its storage.
	slice.Data[0] = -1
	if v.Data[4] == -1 {
		t.Error("ZSlice shares storage with its volume")
	}

	if _, err := v.ZSlice(2); err == nil {
		t.Error("expected error for out-of-range slice index")
	}
}

func TestSetZSliceOffset(t *testing.T) {
	out, _ := NewLabels(2, 2, 2)
	slice, _ := NewLabels(1, 2, 2)
	copy(slice.Data, []uint32{1, 2, 0, 1})

	if err := out.SetZSlice(1, slice, 10); err != nil {
		t.Fatalf("SetZSlice failed: %v", err)
	}
	want := []uint32{11, 12, 0, 11}
	for i := range want {
		if out.Data[4+i] != want[i] {
			t.Errorf("Data[%d] = %d, want %d", 4+i, out.Data[4+i], want[i])
		}
	}

	// Zero stays zero: the offset only applies to assigned labels.
	if out.Data[6] != 0 {
		t.Errorf("unassigned voxel picked up offset: %d", out.Data[6])
	}

	wrong, _ := NewLabels(1, 3, 2)
	if err := out.SetZSlice(0, wrong, 0); err == nil {
		t.Error("expected error for mismatched slice shape")
	}
}

func TestCompact(t *testing.T) {
	l, _ := NewLabels(1, 2, 3)
	copy(l.Data, []uint32{7, 7, 3, 3, 12, 7})

	n := l.Compact()
	if n != 3 {
		t.Fatalf("Compact returned %d, want 3", n)
	}
	want := []uint32{2, 2, 1, 1, 3, 2}
	for i := range want {
		if l.Data[i] != want[i] {
			t.Errorf("Data[%d] = %d, want %d", i, l.Data[i], want[i])
		}
	}
}

func TestMax(t *testing.T) {
	l, _ := NewLabels(1, 1, 4)
	copy(l.Data, []uint32{3, 9, 0, 2})
	if got := l.Max(); got != 9 {
		t.Errorf("Max = %d, want 9", got)
	}
}

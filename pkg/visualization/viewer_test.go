package visualization

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"pmapcut/pkg/volume"
)

// testLabels builds a 2x3x4 label volume where each voxel's label encodes
// its coordinates, so slices can be checked exactly.
func testLabels(t *testing.T) *volume.Labels {
	t.Helper()
	l, err := volume.NewLabels(2, 3, 4)
	if err != nil {
		t.Fatalf("NewLabels failed: %v", err)
	}
	for z := 0; z < 2; z++ {
		for y := 0; y < 3; y++ {
			for x := 0; x < 4; x++ {
				l.Set(z, y, x, uint32(z*100+y*10+x+1))
			}
		}
	}
	return l
}

func TestExtractSlice(t *testing.T) {
	v := NewViewer(testLabels(t))

	cases := []struct {
		axis          string
		position      int
		width, height int
	}{
		{"z", 1, 4, 3},
		{"y", 2, 4, 2},
		{"x", 3, 2, 3},
	}
	for _, tc := range cases {
		t.Run(tc.axis, func(t *testing.T) {
			img, err := v.ExtractSlice(tc.axis, tc.position)
			if err != nil {
				t.Fatalf("ExtractSlice failed: %v", err)
			}
			bounds := img.Bounds()
			if bounds.Dx() != tc.width || bounds.Dy() != tc.height {
				t.Errorf("slice is %dx%d, want %dx%d", bounds.Dx(), bounds.Dy(), tc.width, tc.height)
			}
		})
	}

	// A z-slice carries the raw labels.
	img, err := v.ExtractSlice("z", 0)
	if err != nil {
		t.Fatalf("ExtractSlice failed: %v", err)
	}
	gray := color.Gray16Model.Convert(img.At(2, 1)).(color.Gray16)
	if gray.Y != 13 {
		t.Errorf("pixel (2,1) = %d, want 13", gray.Y)
	}
}

func TestExtractSliceErrors(t *testing.T) {
	v := NewViewer(testLabels(t))
	if _, err := v.ExtractSlice("z", -1); err == nil {
		t.Error("expected error for negative position")
	}
	if _, err := v.ExtractSlice("z", 2); err == nil {
		t.Error("expected error for out-of-range position")
	}
	if _, err := v.ExtractSlice("w", 0); err == nil {
		t.Error("expected error for unknown axis")
	}
}

func TestLabelColor(t *testing.T) {
	if got := LabelColor(0); got != (color.NRGBA{A: 255}) {
		t.Errorf("label 0 color = %v, want black", got)
	}

	// Consecutive labels get clearly distinct colors, and each label's
	// color is stable across calls.
	seen := make(map[color.NRGBA]uint32)
	for label := uint32(1); label <= 32; label++ {
		c := LabelColor(label)
		if c.A != 255 {
			t.Errorf("label %d color not opaque: %v", label, c)
		}
		if other, dup := seen[c]; dup {
			t.Errorf("labels %d and %d share color %v", label, other, c)
		}
		seen[c] = label
		if again := LabelColor(label); again != c {
			t.Errorf("label %d color not stable: %v vs %v", label, c, again)
		}
	}
}

func TestColorSlice(t *testing.T) {
	l, err := volume.NewLabels(1, 2, 2)
	if err != nil {
		t.Fatalf("NewLabels failed: %v", err)
	}
	l.Set(0, 0, 0, 1)
	l.Set(0, 0, 1, 2)
	l.Set(0, 1, 0, 1)

	v := NewViewer(l)
	img, err := v.ColorSlice(0)
	if err != nil {
		t.Fatalf("ColorSlice failed: %v", err)
	}
	if img.At(0, 0) != img.At(0, 1) {
		t.Error("same label rendered with different colors")
	}
	if img.At(0, 0) == img.At(1, 0) {
		t.Error("different labels rendered with the same color")
	}
	if img.At(1, 1) != (color.NRGBA{A: 255}) {
		t.Errorf("unlabelled voxel rendered %v, want black", img.At(1, 1))
	}

	if _, err := v.ColorSlice(5); err == nil {
		t.Error("expected error for out-of-range slice")
	}
}

func TestSaveSequences(t *testing.T) {
	v := NewViewer(testLabels(t))

	sliceDir := filepath.Join(t.TempDir(), "slices")
	if err := v.SaveSliceSequence("z", sliceDir); err != nil {
		t.Fatalf("SaveSliceSequence failed: %v", err)
	}
	entries, err := os.ReadDir(sliceDir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("saved %d slices, want 2", len(entries))
	}

	if err := v.SaveSliceSequence("w", sliceDir); err == nil {
		t.Error("expected error for unknown axis")
	}

	previewDir := filepath.Join(t.TempDir(), "preview")
	if err := v.SavePreviewSequence(previewDir); err != nil {
		t.Fatalf("SavePreviewSequence failed: %v", err)
	}
	entries, err = os.ReadDir(previewDir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("saved %d previews, want 2", len(entries))
	}
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".png" {
			t.Errorf("preview %s is not a PNG", entry.Name())
		}
	}
}

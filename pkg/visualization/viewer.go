// Package visualization renders finished segmentations for inspection:
// raw label slices along any axis, and colorized previews where every
// segment gets a stable, visually distinct color.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"

	"pmapcut/pkg/volume"
)

// goldenAngle spaces consecutive label hues maximally far apart.
const goldenAngle = 137.50776405003785

// Viewer extracts and saves views of a label volume.
type Viewer struct {
	labels *volume.Labels
}

// NewViewer creates a viewer over the given label volume.
func NewViewer(labels *volume.Labels) *Viewer {
	return &Viewer{labels: labels}
}

// ExtractSlice extracts a 2D label slice along the specified axis as a
// 16-bit grayscale image carrying the raw label values.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	l := v.labels

	switch axis {
	case "x", "X":
		if position >= l.Width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, l.Width)
		}
		img := image.NewGray16(image.Rect(0, 0, l.Depth, l.Height))
		for y := 0; y < l.Height; y++ {
			for z := 0; z < l.Depth; z++ {
				img.SetGray16(z, y, color.Gray16{Y: uint16(l.At(z, y, position))})
			}
		}
		return img, nil

	case "y", "Y":
		if position >= l.Height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, l.Height)
		}
		img := image.NewGray16(image.Rect(0, 0, l.Width, l.Depth))
		for z := 0; z < l.Depth; z++ {
			for x := 0; x < l.Width; x++ {
				img.SetGray16(x, z, color.Gray16{Y: uint16(l.At(z, position, x))})
			}
		}
		return img, nil

	case "z", "Z":
		if position >= l.Depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, l.Depth)
		}
		img := image.NewGray16(image.Rect(0, 0, l.Width, l.Height))
		for y := 0; y < l.Height; y++ {
			for x := 0; x < l.Width; x++ {
				img.SetGray16(x, y, color.Gray16{Y: uint16(l.At(position, y, x))})
			}
		}
		return img, nil
	}

	return nil, fmt.Errorf("unknown axis %q, must be x, y or z", axis)
}

// LabelColor returns the preview color for a label. Labels are spread
// around the hue circle by the golden angle, so nearby labels differ
// clearly; label 0 renders black.
func LabelColor(label uint32) color.NRGBA {
	if label == 0 {
		return color.NRGBA{A: 255}
	}
	hue := math.Mod(float64(label)*goldenAngle, 360)
	c := colorful.Hsv(hue, 0.65, 0.95)
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}

// ColorSlice renders z-slice index z with one distinct color per label.
func (v *Viewer) ColorSlice(z int) (image.Image, error) {
	l := v.labels
	if z < 0 || z >= l.Depth {
		return nil, fmt.Errorf("position %d exceeds depth %d", z, l.Depth)
	}
	img := image.NewNRGBA(image.Rect(0, 0, l.Width, l.Height))
	for y := 0; y < l.Height; y++ {
		for x := 0; x < l.Width; x++ {
			img.SetNRGBA(x, y, LabelColor(l.At(z, y, x)))
		}
	}
	return img, nil
}

// SaveSliceSequence saves all raw label slices along the given axis as
// 16-bit TIFF files in the output directory.
func (v *Viewer) SaveSliceSequence(axis, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var count int
	switch axis {
	case "x", "X":
		count = v.labels.Width
	case "y", "Y":
		count = v.labels.Height
	case "z", "Z":
		count = v.labels.Depth
	default:
		return fmt.Errorf("unknown axis %q, must be x, y or z", axis)
	}

	for i := 0; i < count; i++ {
		img, err := v.ExtractSlice(axis, i)
		if err != nil {
			return err
		}
		path := filepath.Join(outputDir, fmt.Sprintf("labels_%s%04d.tif", axis, i))
		if err := imaging.Save(img, path); err != nil {
			return fmt.Errorf("failed to save slice %d: %w", i, err)
		}
	}
	return nil
}

// SavePreviewSequence saves a colorized PNG per z-slice in the output
// directory.
func (v *Viewer) SavePreviewSequence(outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	for z := 0; z < v.labels.Depth; z++ {
		img, err := v.ColorSlice(z)
		if err != nil {
			return err
		}
		path := filepath.Join(outputDir, fmt.Sprintf("preview_z%04d.png", z))
		if err := imaging.Save(img, path); err != nil {
			return fmt.Errorf("failed to save preview %d: %w", z, err)
		}
	}
	return nil
}

package stackio

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"golang.org/x/image/tiff"
	"gopkg.in/yaml.v3"

	"pmapcut/pkg/volume"
)

// RunRecord is the per-run parameter log written next to every saved
// segmentation, so a result can always be traced back to the exact
// configuration that produced it.
type RunRecord struct {
	Algorithm            string  `yaml:"algorithm"`
	Input                string  `yaml:"input"`
	SaveDirectory        string  `yaml:"saveDirectory"`
	Beta                 float64 `yaml:"beta"`
	RunWatershed         bool    `yaml:"runWatershed"`
	SliceBySlice         bool    `yaml:"sliceBySlice"`
	Threshold            float64 `yaml:"threshold"`
	MinSize              int     `yaml:"minSize"`
	SmoothingSigma       float64 `yaml:"smoothingSigma"`
	WeightSmoothingSigma float64 `yaml:"weightSmoothingSigma"`
	PostMinSize          int     `yaml:"postMinSize"`
	MaxIterations        int     `yaml:"maxIterations"`
	Workers              int     `yaml:"workers"`
	NumSegments          int     `yaml:"numSegments"`
	RuntimeSeconds       float64 `yaml:"runtimeSeconds"`
}

// SaveSegmentation writes a label volume as a sequence of
// deflate-compressed 16-bit grayscale TIFF slices named
// <base>_z<index>.tif under dir, creating the directory if needed.
// Label values must fit in 16 bits; larger values would wrap silently,
// so they are rejected instead.
func SaveSegmentation(labels *volume.Labels, dir, base string) error {
	if max := labels.Max(); max > 65535 {
		return fmt.Errorf("label %d does not fit the 16-bit output format", max)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	for z := 0; z < labels.Depth; z++ {
		img := image.NewGray16(image.Rect(0, 0, labels.Width, labels.Height))
		for y := 0; y < labels.Height; y++ {
			for x := 0; x < labels.Width; x++ {
				img.SetGray16(x, y, color.Gray16{Y: uint16(labels.At(z, y, x))})
			}
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_z%04d.tif", base, z))
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		err = tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	return nil
}

// WriteRunLog writes the parameter record as YAML.
func WriteRunLog(path string, record RunRecord) error {
	data, err := yaml.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal run record: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write run log: %w", err)
	}
	return nil
}

// Package stackio decodes probability volumes from directories of 2D
// slice images and persists finished segmentations. It is the external
// collaborator the segmentation core depends on for everything touching
// the filesystem: format handling, directory creation and the per-run
// parameter log.
package stackio

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"pmapcut/pkg/volume"
)

// sliceExtensions are the image formats accepted as volume slices.
// TIFF and BMP decoding is registered by the imaging package.
var sliceExtensions = map[string]bool{
	".tif":  true,
	".tiff": true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// LoadVolume decodes a directory of 2D grayscale slice images into a
// probability volume, ordered by the numeric part of the filenames, and
// min-max normalises the values to [0, 1]. All slices must share the
// same dimensions.
func LoadVolume(dir string) (*volume.Volume, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if sliceExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			files = append(files, entry.Name())
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no slice images found in %s", dir)
	}

	// Numeric filename order keeps the anatomical z order; names without
	// numbers fall back to lexicographic order among themselves.
	sort.Slice(files, func(i, j int) bool {
		ni, nj := extractNumber(files[i]), extractNumber(files[j])
		if ni != nj {
			return ni < nj
		}
		return files[i] < files[j]
	})

	var vol *volume.Volume
	for z, name := range files {
		img, err := imaging.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to decode slice %s: %w", name, err)
		}
		bounds := img.Bounds()
		width, height := bounds.Dx(), bounds.Dy()

		if vol == nil {
			vol, err = volume.New(len(files), height, width)
			if err != nil {
				return nil, err
			}
		} else if height != vol.Height || width != vol.Width {
			return nil, fmt.Errorf("slice %s is %dx%d, expected %dx%d", name, width, height, vol.Width, vol.Height)
		}

		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				gray := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
				vol.Set(z, y, x, float64(gray.Y)/65535)
			}
		}
	}

	vol.Normalize()
	return vol, nil
}

// extractNumber returns the concatenated digits of a filename as an
// integer, or 0 when the name carries none.
func extractNumber(filename string) int {
	numStr := ""
	for _, c := range filepath.Base(filename) {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}
	if numStr == "" {
		return 0
	}
	n, err := strconv.Atoi(numStr)
	if err != nil {
		return 0
	}
	return n
}

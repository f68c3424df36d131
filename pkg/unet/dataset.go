package unet

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"ctseverity/internal/models"
	"ctseverity/pkg/loader"
)

// maskExtensions are tried in order when resolving a slice's mask file.
var maskExtensions = []string{"", ".png", ".jpg", ".jpeg"}

// BuildPairs matches every slice to a mask file in maskDir sharing its
// base name (extension may differ) and returns training pairs at the
// given resolution. A slice without a mask is an error: the image and
// mask sets are expected to correspond one-to-one.
func BuildPairs(slices []*models.Slice, maskDir string, size int) ([]Pair, error) {
	if len(slices) == 0 {
		return nil, fmt.Errorf("no slices to pair with masks")
	}

	pairs := make([]Pair, 0, len(slices))
	for _, s := range slices {
		maskPath, err := resolveMask(maskDir, s.Filename)
		if err != nil {
			return nil, err
		}

		mask, err := loadMask(maskPath, size)
		if err != nil {
			return nil, fmt.Errorf("failed to load mask for %s: %w", s.Filename, err)
		}

		if len(s.Pixels) != size*size {
			return nil, fmt.Errorf("slice %s has %d pixels, want %d", s.Filename, len(s.Pixels), size*size)
		}

		pairs = append(pairs, Pair{Image: s.Pixels, Mask: mask, Name: s.Filename})
	}
	return pairs, nil
}

// resolveMask finds the mask file for a slice filename, trying the
// identical name first and then the other image extensions.
func resolveMask(maskDir, sliceName string) (string, error) {
	base := sliceName[:len(sliceName)-len(filepath.Ext(sliceName))]
	for _, ext := range maskExtensions {
		name := sliceName
		if ext != "" {
			name = base + ext
		}
		candidate := filepath.Join(maskDir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no mask found for slice %s in %s", sliceName, maskDir)
}

// loadMask decodes a mask image, resizes it, and binarizes at 0.5.
func loadMask(path string, size int) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}

	grid := loader.ToGrid(img, size)
	for i, v := range grid {
		if v >= 0.5 {
			grid[i] = 1
		} else {
			grid[i] = 0
		}
	}
	return grid, nil
}

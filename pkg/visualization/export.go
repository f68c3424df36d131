// Package visualization exports slices, masks, and predicted masks as
// images for qualitative inspection of a trained segmentation model.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
)

// Exporter writes grayscale grids and comparison panels to disk.
type Exporter struct {
	// size is the square resolution of every grid handled.
	size int
}

// NewExporter creates an exporter for size-by-size grids.
func NewExporter(size int) *Exporter {
	return &Exporter{size: size}
}

// GridToImage converts a [0,1] grid to a 16-bit grayscale image.
// Values outside [0,1] are clamped.
func (e *Exporter) GridToImage(grid []float64) (image.Image, error) {
	if len(grid) != e.size*e.size {
		return nil, fmt.Errorf("grid has %d values, want %d", len(grid), e.size*e.size)
	}

	img := image.NewGray16(image.Rect(0, 0, e.size, e.size))
	for y := 0; y < e.size; y++ {
		for x := 0; x < e.size; x++ {
			v := math.Max(0, math.Min(1, grid[y*e.size+x]))
			img.SetGray16(x, y, color.Gray16{Y: uint16(v * 65535)})
		}
	}
	return img, nil
}

// SaveGrid writes one grid as a PNG file.
func (e *Exporter) SaveGrid(grid []float64, path string) error {
	img, err := e.GridToImage(grid)
	if err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

// SavePanel writes several grids side by side in one PNG, separated by
// a one-pixel white gutter. Typical use: input slice, ground-truth
// mask, predicted mask.
func (e *Exporter) SavePanel(path string, grids ...[]float64) error {
	if len(grids) == 0 {
		return fmt.Errorf("no grids to export")
	}
	for i, g := range grids {
		if len(g) != e.size*e.size {
			return fmt.Errorf("grid %d has %d values, want %d", i, len(g), e.size*e.size)
		}
	}

	width := len(grids)*e.size + (len(grids) - 1)
	panel := image.NewGray16(image.Rect(0, 0, width, e.size))

	// White background fills the gutters.
	for y := 0; y < e.size; y++ {
		for x := 0; x < width; x++ {
			panel.SetGray16(x, y, color.Gray16{Y: 65535})
		}
	}

	for i, g := range grids {
		xOffset := i * (e.size + 1)
		for y := 0; y < e.size; y++ {
			for x := 0; x < e.size; x++ {
				v := math.Max(0, math.Min(1, g[y*e.size+x]))
				panel.SetGray16(xOffset+x, y, color.Gray16{Y: uint16(v * 65535)})
			}
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, panel)
}

// SavePanelSequence writes a numbered panel per item under dir.
// Each item is the list of grids for one slice.
func (e *Exporter) SavePanelSequence(dir string, items [][][]float64) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	for i, grids := range items {
		path := filepath.Join(dir, fmt.Sprintf("panel_%03d.png", i))
		if err := e.SavePanel(path, grids...); err != nil {
			return fmt.Errorf("failed to save panel %d: %w", i, err)
		}
	}
	return nil
}

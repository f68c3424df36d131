// Package loader reads CT slice images from disk, normalizes them to a
// fixed shape and intensity range, and buckets them by anatomical plane.
package loader

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nfnt/resize"
	"github.com/rs/zerolog"

	"ctseverity/internal/models"
)

// Loader reads and preprocesses slice images from a directory.
type Loader struct {
	// size is the square resolution every image is resized to
	size int

	log zerolog.Logger
}

// New creates a loader producing size-by-size normalized images.
func New(size int, log zerolog.Logger) *Loader {
	return &Loader{size: size, log: log}
}

// planeFromFilename parses the anatomical plane tag from a filename.
// Matching is a case-insensitive substring test; the second return
// value is false when no tag is present.
func planeFromFilename(name string) (models.Plane, bool) {
	lower := strings.ToLower(name)
	for _, p := range models.Planes {
		if strings.Contains(lower, p.String()) {
			return p, true
		}
	}
	return 0, false
}

// LoadDirectory reads every regular file in dir, decodes the tagged ones
// as grayscale slices, and returns them grouped by plane. Files whose
// names carry no plane tag are skipped. Slices within each plane are
// sorted by filename so repeated runs see the same order.
func (l *Loader) LoadDirectory(dir string) (*models.Dataset, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read slice directory: %w", err)
	}

	ds := models.NewDataset()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		plane, ok := planeFromFilename(entry.Name())
		if !ok {
			l.log.Debug().Str("file", entry.Name()).Msg("no plane tag, skipping")
			continue
		}

		slice, err := l.LoadSlice(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to load slice %s: %w", entry.Name(), err)
		}
		slice.Plane = plane
		ds.Groups[plane] = append(ds.Groups[plane], slice)
	}

	if ds.Len() == 0 {
		return nil, fmt.Errorf("no tagged slice images found in %s", dir)
	}

	for _, p := range models.Planes {
		group := ds.Groups[p]
		sort.Slice(group, func(i, j int) bool {
			return group[i].Filename < group[j].Filename
		})
		l.log.Info().Str("plane", p.String()).Int("slices", len(group)).Msg("loaded plane group")
	}

	return ds, nil
}

// LoadSlice reads a single image file and returns it as a normalized
// grayscale slice. The plane field is left unset.
func (l *Loader) LoadSlice(path string) (*models.Slice, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}

	return &models.Slice{
		Pixels:   ToGrid(img, l.size),
		Width:    l.size,
		Height:   l.size,
		Filename: filepath.Base(path),
	}, nil
}

// ToGrid resizes an image to size-by-size with Lanczos resampling and
// converts it to a row-major grayscale array with values in [0,1].
func ToGrid(img image.Image, size int) []float64 {
	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)

	grid := make([]float64, size*size)
	bounds := resized.Bounds()
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, _, _, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// 16-bit luma to [0,1]
			grid[y*size+x] = float64(r) / 65535.0
		}
	}
	return grid
}

package unet

import (
	"math"
	"math/rand"
)

// Augmenter applies random geometric transforms to image/mask pairs
// during training. The same transform parameters are applied to both
// members of a pair so masks stay aligned with their images.
type Augmenter struct {
	// MaxRotate is the rotation range in degrees, drawn uniformly
	// from [-MaxRotate, MaxRotate].
	MaxRotate float64

	// ZoomRange is the maximum relative zoom, drawn uniformly from
	// [1-ZoomRange, 1+ZoomRange].
	ZoomRange float64

	// FlipProb is the probability of a horizontal flip.
	FlipProb float64

	rng *rand.Rand
}

// NewAugmenter returns an augmenter with the conventional training
// ranges: up to 15 degrees rotation, 10% zoom, and coin-flip mirroring.
func NewAugmenter(seed int64) *Augmenter {
	return &Augmenter{
		MaxRotate: 15,
		ZoomRange: 0.1,
		FlipProb:  0.5,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Apply returns transformed copies of an image and its mask. The image
// is resampled bilinearly; the mask is re-binarized afterward so it
// stays a per-pixel 0/1 map.
func (a *Augmenter) Apply(image, mask []float64, size int) ([]float64, []float64) {
	angle := (a.rng.Float64()*2 - 1) * a.MaxRotate * math.Pi / 180
	zoom := 1 + (a.rng.Float64()*2-1)*a.ZoomRange
	flip := a.rng.Float64() < a.FlipProb

	outImage := warp(image, size, angle, zoom, flip, false)
	outMask := warp(mask, size, angle, zoom, flip, true)
	return outImage, outMask
}

// warp rotates around the grid center by angle, scales by zoom, and
// optionally mirrors horizontally, sampling bilinearly from the source.
// Out-of-bounds samples read as 0. When binarize is set the output is
// thresholded at 0.5.
func warp(grid []float64, size int, angle, zoom float64, flip, binarize bool) []float64 {
	out := make([]float64, size*size)
	center := float64(size-1) / 2
	cos, sin := math.Cos(angle), math.Sin(angle)

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx := float64(x) - center
			if flip {
				dx = -dx
			}
			dy := float64(y) - center

			// Inverse map: destination pixel back to source coordinates.
			sx := (cos*dx + sin*dy)/zoom + center
			sy := (-sin*dx + cos*dy)/zoom + center

			v := sampleBilinear(grid, size, sx, sy)
			if binarize {
				if v >= 0.5 {
					v = 1
				} else {
					v = 0
				}
			}
			out[y*size+x] = v
		}
	}
	return out
}

// sampleBilinear reads grid at fractional coordinates, treating
// anything outside the grid as 0.
func sampleBilinear(grid []float64, size int, x, y float64) float64 {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	fx := x - float64(x0)
	fy := y - float64(y0)

	read := func(xi, yi int) float64 {
		if xi < 0 || xi >= size || yi < 0 || yi >= size {
			return 0
		}
		return grid[yi*size+xi]
	}

	top := read(x0, y0)*(1-fx) + read(x0+1, y0)*fx
	bottom := read(x0, y0+1)*(1-fx) + read(x0+1, y0+1)*fx
	return top*(1-fy) + bottom*fy
}

// HFlip mirrors a grid horizontally. Exposed for tests and tooling.
func HFlip(grid []float64, size int) []float64 {
	out := make([]float64, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			out[y*size+x] = grid[y*size+(size-1-x)]
		}
	}
	return out
}

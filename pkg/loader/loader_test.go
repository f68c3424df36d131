package loader

import (
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"ctseverity/internal/models"
)

// createTestImage creates a grayscale test image with the specified dimensions and pattern
func createTestImage(width, height int, pattern func(x, y int) uint16) image.Image {
	img := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.Gray16{Y: pattern(x, y)})
		}
	}
	return img
}

// writeTestImage encodes an image as JPEG under dir with the given name
func writeTestImage(t *testing.T, dir, name string, img image.Image) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("Failed to create test image: %v", err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 100}); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
}

func TestPlaneFromFilename(t *testing.T) {
	testCases := []struct {
		filename string
		plane    models.Plane
		tagged   bool
	}{
		{"patient01_axial_004.jpg", models.Axial, true},
		{"CORONAL-12.png", models.Coronal, true},
		{"scan_Sagittal.jpeg", models.Sagittal, true},
		{"notes.txt", 0, false},
		{"slice_012.jpg", 0, false},
	}

	for _, tc := range testCases {
		plane, tagged := planeFromFilename(tc.filename)
		if tagged != tc.tagged {
			t.Errorf("planeFromFilename(%s): tagged = %v, want %v", tc.filename, tagged, tc.tagged)
			continue
		}
		if tagged && plane != tc.plane {
			t.Errorf("planeFromFilename(%s): plane = %v, want %v", tc.filename, plane, tc.plane)
		}
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()

	// Two axial, one coronal, one sagittal, one untagged file.
	flat := func(v uint16) func(x, y int) uint16 {
		return func(x, y int) uint16 { return v }
	}
	writeTestImage(t, dir, "axial_000.jpg", createTestImage(32, 48, flat(10000)))
	writeTestImage(t, dir, "axial_001.jpg", createTestImage(32, 48, flat(20000)))
	writeTestImage(t, dir, "coronal_000.jpg", createTestImage(32, 48, flat(30000)))
	writeTestImage(t, dir, "sagittal_000.jpg", createTestImage(32, 48, flat(40000)))
	writeTestImage(t, dir, "untagged_000.jpg", createTestImage(32, 48, flat(50000)))

	l := New(16, zerolog.Nop())
	ds, err := l.LoadDirectory(dir)
	if err != nil {
		t.Fatalf("LoadDirectory failed: %v", err)
	}

	t.Run("Partition", func(t *testing.T) {
		if got := len(ds.Groups[models.Axial]); got != 2 {
			t.Errorf("axial group: got %d slices, want 2", got)
		}
		if got := len(ds.Groups[models.Coronal]); got != 1 {
			t.Errorf("coronal group: got %d slices, want 1", got)
		}
		if got := len(ds.Groups[models.Sagittal]); got != 1 {
			t.Errorf("sagittal group: got %d slices, want 1", got)
		}
		// The untagged file must be excluded from every group.
		if got := ds.Len(); got != 4 {
			t.Errorf("dataset size: got %d, want 4", got)
		}
	})

	t.Run("NormalizedRange", func(t *testing.T) {
		for _, s := range ds.All() {
			for i, v := range s.Pixels {
				if v < 0 || v > 1 {
					t.Fatalf("slice %s pixel %d out of [0,1]: %f", s.Filename, i, v)
				}
			}
		}
	})

	t.Run("Resized", func(t *testing.T) {
		for _, s := range ds.All() {
			if s.Width != 16 || s.Height != 16 {
				t.Errorf("slice %s: got %dx%d, want 16x16", s.Filename, s.Width, s.Height)
			}
			if len(s.Pixels) != 16*16 {
				t.Errorf("slice %s: got %d pixels, want %d", s.Filename, len(s.Pixels), 16*16)
			}
		}
	})

	t.Run("SortedWithinPlane", func(t *testing.T) {
		group := ds.Groups[models.Axial]
		for i := 1; i < len(group); i++ {
			if group[i-1].Filename > group[i].Filename {
				t.Errorf("axial group not sorted: %s before %s", group[i-1].Filename, group[i].Filename)
			}
		}
	})
}

func TestLoadDirectoryNoTaggedFiles(t *testing.T) {
	dir := t.TempDir()
	writeTestImage(t, dir, "scan_01.jpg", createTestImage(8, 8, func(x, y int) uint16 { return 0 }))

	l := New(16, zerolog.Nop())
	if _, err := l.LoadDirectory(dir); err == nil {
		t.Fatal("expected error for directory without tagged images")
	}
}

func TestLoadSliceDecodeFailure(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "axial_bad.jpg")
	if err := os.WriteFile(bad, []byte("not an image"), 0644); err != nil {
		t.Fatalf("Failed to write corrupt file: %v", err)
	}

	l := New(16, zerolog.Nop())
	if _, err := l.LoadSlice(bad); err == nil {
		t.Fatal("expected decode error for corrupt file")
	}
}

func TestToGridGradient(t *testing.T) {
	// A gradient image keeps its ordering through resize and normalize.
	size := 8
	img := createTestImage(size, size, func(x, y int) uint16 {
		return uint16((y*size + x) * 1000)
	})

	grid := ToGrid(img, size)
	if len(grid) != size*size {
		t.Fatalf("grid length: got %d, want %d", len(grid), size*size)
	}
	if grid[0] >= grid[len(grid)-1] {
		t.Errorf("gradient ordering lost: first=%f last=%f", grid[0], grid[len(grid)-1])
	}
}

func TestLoadDirectoryMissing(t *testing.T) {
	l := New(16, zerolog.Nop())
	if _, err := l.LoadDirectory(filepath.Join(t.TempDir(), "does-not-exist")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func BenchmarkToGrid(b *testing.B) {
	img := createTestImage(256, 256, func(x, y int) uint16 {
		return uint16((x ^ y) << 8)
	})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ToGrid(img, 128)
	}
}

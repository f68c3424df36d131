package features

import (
	"testing"
)

func TestPreprocessReplicatesChannels(t *testing.T) {
	// 2x2 image with distinct values in each corner.
	pixels := []float64{0.1, 0.2, 0.3, 0.4}
	shape := []int64{1, 3, 2, 2}

	out, err := Preprocess(pixels, 2, 2, shape)
	if err != nil {
		t.Fatalf("Preprocess failed: %v", err)
	}

	if len(out) != 3*4 {
		t.Fatalf("output length: got %d, want 12", len(out))
	}

	// Every channel plane must be an identical copy of the grayscale grid.
	for c := 0; c < 3; c++ {
		for i, want := range pixels {
			got := out[c*4+i]
			if got != float32(want) {
				t.Errorf("channel %d pixel %d: got %f, want %f", c, i, got, want)
			}
		}
	}
}

func TestPreprocessShapeMismatch(t *testing.T) {
	pixels := make([]float64, 4)
	if _, err := Preprocess(pixels, 2, 2, []int64{1, 3, 4, 4}); err == nil {
		t.Fatal("expected error for resolution mismatch")
	}
	if _, err := Preprocess(pixels[:3], 2, 2, []int64{1, 3, 2, 2}); err == nil {
		t.Fatal("expected error for short pixel buffer")
	}
}

func TestMetadataEmbeddingDim(t *testing.T) {
	testCases := []struct {
		shape    []int64
		expected int
	}{
		{[]int64{1, 512}, 512},
		{[]int64{1, 1280, 1, 1}, 1280},
	}

	for _, tc := range testCases {
		m := Metadata{OutputShape: tc.shape}
		if got := m.EmbeddingDim(); got != tc.expected {
			t.Errorf("EmbeddingDim(%v) = %d, want %d", tc.shape, got, tc.expected)
		}
	}
}

package scoring

import (
	"math"
	"testing"

	"ctseverity/internal/models"
)

func TestScoreMeanIntensity(t *testing.T) {
	testCases := []struct {
		name     string
		pixels   []float64
		expected float64
	}{
		{"uniform zero", []float64{0, 0, 0, 0}, 0},
		{"uniform one", []float64{1, 1, 1, 1}, 1},
		{"mixed", []float64{0, 0.5, 1, 0.5}, 0.5},
		{"empty", nil, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Score(tc.pixels)
			if math.Abs(got-tc.expected) > 1e-12 {
				t.Errorf("Score = %f, want %f", got, tc.expected)
			}
		})
	}
}

func TestGradeBoundaries(t *testing.T) {
	testCases := []struct {
		score    float64
		expected models.SeverityLabel
	}{
		{0.0, models.Healthy},
		{0.29999, models.Healthy},
		{0.3, models.Mild}, // boundary is inclusive on the mild side
		{0.45, models.Mild},
		{0.59999, models.Mild},
		{0.6, models.Moderate}, // boundary is inclusive on the moderate side
		{0.9, models.Moderate},
		{1.0, models.Moderate},
	}

	for _, tc := range testCases {
		if got := Grade(tc.score); got != tc.expected {
			t.Errorf("Grade(%f) = %v, want %v", tc.score, got, tc.expected)
		}
	}
}

// TestGradeMonotonic checks that the grade never decreases as the score
// sweeps upward through [0,1].
func TestGradeMonotonic(t *testing.T) {
	prev := Grade(0)
	for s := 0.0; s <= 1.0; s += 0.001 {
		cur := Grade(s)
		if cur < prev {
			t.Fatalf("grade decreased at score %f: %v after %v", s, cur, prev)
		}
		prev = cur
	}
}

func TestApply(t *testing.T) {
	ds := models.NewDataset()
	ds.Groups[models.Axial] = []*models.Slice{
		{Pixels: []float64{0.1, 0.1}, Width: 2, Height: 1},
		{Pixels: []float64{0.7, 0.9}, Width: 2, Height: 1},
	}

	Apply(ds)

	if ds.Groups[models.Axial][0].Label != models.Healthy {
		t.Errorf("low-intensity slice graded %v, want healthy", ds.Groups[models.Axial][0].Label)
	}
	if ds.Groups[models.Axial][1].Label != models.Moderate {
		t.Errorf("high-intensity slice graded %v, want moderate", ds.Groups[models.Axial][1].Label)
	}
	if math.Abs(ds.Groups[models.Axial][1].Score-0.8) > 1e-12 {
		t.Errorf("score = %f, want 0.8", ds.Groups[models.Axial][1].Score)
	}
}

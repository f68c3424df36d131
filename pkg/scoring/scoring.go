// Package scoring derives heuristic severity scores and grades from
// slice intensity. The score is a proxy for disease burden; the grade
// is a fixed threshold step over it.
package scoring

import (
	"gonum.org/v1/gonum/stat"

	"ctseverity/internal/models"
)

// Grade boundaries. Scores below MildThreshold are healthy; scores in
// [MildThreshold, ModerateThreshold) are mild; the rest are moderate.
const (
	MildThreshold     = 0.3
	ModerateThreshold = 0.6
)

// Score returns the severity score for a slice: its mean pixel
// intensity over the [0,1] normalized image.
func Score(pixels []float64) float64 {
	if len(pixels) == 0 {
		return 0
	}
	return stat.Mean(pixels, nil)
}

// Grade maps a severity score to its label by the threshold rule.
func Grade(score float64) models.SeverityLabel {
	switch {
	case score < MildThreshold:
		return models.Healthy
	case score < ModerateThreshold:
		return models.Mild
	default:
		return models.Moderate
	}
}

// Apply scores and grades every slice in the dataset in place.
func Apply(ds *models.Dataset) {
	for _, s := range ds.All() {
		s.Score = Score(s.Pixels)
		s.Label = Grade(s.Score)
	}
}

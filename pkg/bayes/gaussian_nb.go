// Package bayes implements a Gaussian Naive Bayes classifier over
// reduced feature vectors: class priors from label frequencies and an
// independent Gaussian per class and feature.
package bayes

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"ctseverity/internal/models"
)

// varianceFloor keeps degenerate per-class feature variances from
// collapsing the Gaussian likelihood.
const varianceFloor = 1e-9

// classStats holds the fitted parameters for one severity class.
type classStats struct {
	prior float64
	mean  []float64
	vari  []float64
}

// Classifier is a fitted Gaussian Naive Bayes model.
type Classifier struct {
	classes map[models.SeverityLabel]*classStats
	dims    int
}

// Fit estimates priors, means, and variances from the sample rows and
// their labels. Classes absent from the training labels are simply
// never predicted.
func Fit(samples [][]float64, labels []models.SeverityLabel) (*Classifier, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("no training samples")
	}
	if len(samples) != len(labels) {
		return nil, fmt.Errorf("got %d samples but %d labels", len(samples), len(labels))
	}

	dims := len(samples[0])
	byClass := make(map[models.SeverityLabel][][]float64)
	for i, row := range samples {
		if len(row) != dims {
			return nil, fmt.Errorf("sample %d has %d features, want %d", i, len(row), dims)
		}
		byClass[labels[i]] = append(byClass[labels[i]], row)
	}

	c := &Classifier{
		classes: make(map[models.SeverityLabel]*classStats, len(byClass)),
		dims:    dims,
	}

	total := float64(len(samples))
	col := make([]float64, 0, len(samples))
	for label, rows := range byClass {
		cs := &classStats{
			prior: float64(len(rows)) / total,
			mean:  make([]float64, dims),
			vari:  make([]float64, dims),
		}
		for j := 0; j < dims; j++ {
			col = col[:0]
			for _, row := range rows {
				col = append(col, row[j])
			}
			// Population variance, matching the generative model.
			mean, variance := stat.PopMeanVariance(col, nil)
			cs.mean[j] = mean
			cs.vari[j] = math.Max(variance, varianceFloor)
		}
		c.classes[label] = cs
	}

	return c, nil
}

// Dims returns the feature dimensionality the classifier was fitted on.
func (c *Classifier) Dims() int {
	return c.dims
}

// Predict returns the most probable label for one feature vector.
func (c *Classifier) Predict(features []float64) (models.SeverityLabel, error) {
	label, _, err := c.predict(features)
	return label, err
}

// PredictLogProbs returns the joint log-likelihood per fitted class.
// The values are unnormalized; compare, do not exponentiate blindly.
func (c *Classifier) PredictLogProbs(features []float64) (map[models.SeverityLabel]float64, error) {
	if len(features) != c.dims {
		return nil, fmt.Errorf("got %d features, classifier was fitted on %d", len(features), c.dims)
	}

	out := make(map[models.SeverityLabel]float64, len(c.classes))
	for label, cs := range c.classes {
		ll := math.Log(cs.prior)
		for j, v := range features {
			n := distuv.Normal{Mu: cs.mean[j], Sigma: math.Sqrt(cs.vari[j])}
			ll += n.LogProb(v)
		}
		out[label] = ll
	}
	return out, nil
}

// PredictBatch classifies every row of samples.
func (c *Classifier) PredictBatch(samples [][]float64) ([]models.SeverityLabel, error) {
	out := make([]models.SeverityLabel, len(samples))
	for i, row := range samples {
		label, err := c.Predict(row)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		out[i] = label
	}
	return out, nil
}

// Accuracy returns the fraction of samples the classifier labels the
// same way as truth.
func (c *Classifier) Accuracy(samples [][]float64, truth []models.SeverityLabel) (float64, error) {
	if len(samples) != len(truth) {
		return 0, fmt.Errorf("got %d samples but %d labels", len(samples), len(truth))
	}
	if len(samples) == 0 {
		return 0, fmt.Errorf("no samples to evaluate")
	}

	predicted, err := c.PredictBatch(samples)
	if err != nil {
		return 0, err
	}

	correct := 0
	for i, p := range predicted {
		if p == truth[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(samples)), nil
}

func (c *Classifier) predict(features []float64) (models.SeverityLabel, float64, error) {
	logProbs, err := c.PredictLogProbs(features)
	if err != nil {
		return 0, 0, err
	}

	best := models.SeverityLabel(-1)
	bestLL := math.Inf(-1)
	// Iterate labels in fixed order so ties break deterministically.
	for label := models.SeverityLabel(0); label < models.NumLabels; label++ {
		if ll, ok := logProbs[label]; ok && ll > bestLL {
			best = label
			bestLL = ll
		}
	}
	if best < 0 {
		return 0, 0, fmt.Errorf("classifier has no fitted classes")
	}
	return best, bestLL, nil
}

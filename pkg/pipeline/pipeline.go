// Package pipeline wires the classification stages together: slice
// loading, severity scoring and grading, backbone feature extraction,
// dimensionality reduction, and classifier fitting.
package pipeline

import (
	"fmt"

	"github.com/rs/zerolog"

	"ctseverity/internal/models"
	"ctseverity/pkg/bayes"
	"ctseverity/pkg/loader"
	"ctseverity/pkg/reduce"
	"ctseverity/pkg/scoring"
)

// Embedder produces one feature vector per slice. The production
// implementation wraps an ONNX backbone session.
type Embedder interface {
	ExtractBatch(slices []*models.Slice) ([][]float32, error)
}

// Params holds the pipeline configuration.
type Params struct {
	// SliceDir is the directory of CT slice images.
	SliceDir string

	// ImageSize is the square resolution slices are normalized to.
	ImageSize int

	// ReducedDims is the PCA output dimensionality.
	ReducedDims int
}

// Metrics summarizes a pipeline run.
type Metrics struct {
	// PlaneCounts is the number of slices loaded per anatomical plane.
	PlaneCounts map[models.Plane]int

	// LabelCounts is the number of slices per severity grade.
	LabelCounts map[models.SeverityLabel]int

	// EmbeddingDim is the backbone feature length before reduction.
	EmbeddingDim int

	// ReducedDims is the dimensionality after PCA.
	ReducedDims int

	// TrainingAccuracy is the fitted classifier's accuracy on its own
	// training data. There is no held-out split in this pipeline.
	TrainingAccuracy float64
}

// Pipeline runs the severity classification stages in order. Each
// stage hands its output to the next; no stage keeps hidden state
// beyond the fitted models recorded here.
type Pipeline struct {
	params   *Params
	embedder Embedder
	log      zerolog.Logger

	dataset    *models.Dataset
	reducer    *reduce.Reducer
	classifier *bayes.Classifier
	metrics    Metrics
}

// New creates a pipeline with the provided parameters and embedder.
func New(params *Params, embedder Embedder, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		params:   params,
		embedder: embedder,
		log:      log,
	}
}

// Process runs the complete classification pipeline.
func (p *Pipeline) Process() error {
	// Stage 1: load slices and bucket by plane.
	p.log.Info().Str("dir", p.params.SliceDir).Msg("stage 1: loading slices")
	l := loader.New(p.params.ImageSize, p.log)
	ds, err := l.LoadDirectory(p.params.SliceDir)
	if err != nil {
		return fmt.Errorf("failed to load slices: %w", err)
	}
	p.dataset = ds

	// Stage 2+3: severity scores and grades.
	p.log.Info().Msg("stage 2: scoring and grading slices")
	scoring.Apply(ds)

	// Stage 4: backbone embeddings.
	p.log.Info().Int("slices", ds.Len()).Msg("stage 3: extracting backbone features")
	slices := ds.All()
	embeddings, err := p.embedder.ExtractBatch(slices)
	if err != nil {
		return fmt.Errorf("failed to extract features: %w", err)
	}

	// Stage 5: standardize and project.
	p.log.Info().Int("dims", p.params.ReducedDims).Msg("stage 4: reducing feature dimensionality")
	features, err := reduce.MatrixFromEmbeddings(embeddings)
	if err != nil {
		return fmt.Errorf("failed to pack embeddings: %w", err)
	}
	reducer, reduced, err := reduce.FitTransform(features, p.params.ReducedDims)
	if err != nil {
		return fmt.Errorf("failed to fit projection: %w", err)
	}
	p.reducer = reducer

	// Stage 6: fit the classifier on reduced features vs. grades.
	p.log.Info().Msg("stage 5: fitting severity classifier")
	rows, _ := reduced.Dims()
	samples := make([][]float64, rows)
	labels := make([]models.SeverityLabel, rows)
	for i := 0; i < rows; i++ {
		samples[i] = reduced.RawRowView(i)
		labels[i] = slices[i].Label
	}
	classifier, err := bayes.Fit(samples, labels)
	if err != nil {
		return fmt.Errorf("failed to fit classifier: %w", err)
	}
	p.classifier = classifier

	accuracy, err := classifier.Accuracy(samples, labels)
	if err != nil {
		return fmt.Errorf("failed to evaluate classifier: %w", err)
	}

	p.metrics = Metrics{
		PlaneCounts:      make(map[models.Plane]int, len(models.Planes)),
		LabelCounts:      make(map[models.SeverityLabel]int, models.NumLabels),
		EmbeddingDim:     len(embeddings[0]),
		ReducedDims:      reducer.Dims(),
		TrainingAccuracy: accuracy,
	}
	for _, plane := range models.Planes {
		p.metrics.PlaneCounts[plane] = len(ds.Groups[plane])
	}
	for _, s := range slices {
		p.metrics.LabelCounts[s.Label]++
	}

	p.log.Info().
		Float64("trainingAccuracy", accuracy).
		Int("embeddingDim", p.metrics.EmbeddingDim).
		Int("reducedDims", p.metrics.ReducedDims).
		Msg("pipeline complete")

	return nil
}

// Dataset returns the loaded, scored dataset. Nil before Process.
func (p *Pipeline) Dataset() *models.Dataset {
	return p.dataset
}

// Reducer returns the fitted projection. Nil before Process.
func (p *Pipeline) Reducer() *reduce.Reducer {
	return p.reducer
}

// Classifier returns the fitted model. Nil before Process.
func (p *Pipeline) Classifier() *bayes.Classifier {
	return p.classifier
}

// GetMetrics returns the summary metrics of the last run.
func (p *Pipeline) GetMetrics() Metrics {
	return p.metrics
}

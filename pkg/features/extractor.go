// Package features extracts fixed-length embeddings from CT slices
// using a pretrained classification backbone exported to ONNX with its
// head removed, so the session output is the global-average-pooling
// activation.
package features

import (
	"encoding/json"
	"fmt"
	"os"

	ort "github.com/yalue/onnxruntime_go"

	"ctseverity/internal/models"
)

// Metadata describes the exported backbone's tensor shapes. It lives in
// a JSON sidecar next to the ONNX file.
type Metadata struct {
	// InputShape is the NCHW input shape, e.g. [1, 3, 128, 128].
	InputShape []int64 `json:"input_shape"`

	// OutputShape is the embedding shape, e.g. [1, 512].
	OutputShape []int64 `json:"output_shape"`

	// InputName and OutputName are the graph tensor names.
	InputName  string `json:"input_name"`
	OutputName string `json:"output_name"`
}

// EmbeddingDim returns the length of one embedding vector.
func (m Metadata) EmbeddingDim() int {
	dim := 1
	for _, d := range m.OutputShape[1:] {
		dim *= int(d)
	}
	return dim
}

// Extractor runs backbone inference over single slices. The session and
// its tensors are allocated once and reused for every image.
type Extractor struct {
	session      *ort.AdvancedSession
	meta         Metadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// NewExtractor initializes the ONNX runtime and builds a session for
// the backbone at modelPath, with shapes from metadataPath.
func NewExtractor(modelPath, metadataPath string) (*Extractor, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	metaFile, err := os.ReadFile(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read backbone metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(metaFile, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse backbone metadata: %w", err)
	}
	if len(meta.InputShape) != 4 {
		return nil, fmt.Errorf("backbone input shape must be NCHW, got %v", meta.InputShape)
	}
	if meta.InputName == "" {
		meta.InputName = "input"
	}
	if meta.OutputName == "" {
		meta.OutputName = "output"
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{meta.InputName}, []string{meta.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Extractor{
		session:      session,
		meta:         meta,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Metadata returns the backbone shape description.
func (e *Extractor) Metadata() Metadata {
	return e.meta
}

// Extract returns the embedding for a single slice.
func (e *Extractor) Extract(s *models.Slice) ([]float32, error) {
	input, err := Preprocess(s.Pixels, s.Width, s.Height, e.meta.InputShape)
	if err != nil {
		return nil, fmt.Errorf("slice %s: %w", s.Filename, err)
	}
	copy(e.inputTensor.GetData(), input)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("backbone inference failed for %s: %w", s.Filename, err)
	}

	out := make([]float32, e.meta.EmbeddingDim())
	copy(out, e.outputTensor.GetData())
	return out, nil
}

// ExtractBatch returns one embedding per slice, in input order.
func (e *Extractor) ExtractBatch(slices []*models.Slice) ([][]float32, error) {
	embeddings := make([][]float32, 0, len(slices))
	for _, s := range slices {
		emb, err := e.Extract(s)
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, emb)
	}
	return embeddings, nil
}

// Close releases the session and tensors and tears down the runtime.
func (e *Extractor) Close() {
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
	}
	if e.session != nil {
		e.session.Destroy()
	}
	ort.DestroyEnvironment()
}

// Preprocess converts a grayscale [0,1] grid into the backbone's CHW
// float32 layout, replicating the single channel across however many
// input channels the graph expects.
func Preprocess(pixels []float64, width, height int, inputShape []int64) ([]float32, error) {
	channels := int(inputShape[1])
	wantH, wantW := int(inputShape[2]), int(inputShape[3])
	if width != wantW || height != wantH {
		return nil, fmt.Errorf("image is %dx%d but backbone expects %dx%d", width, height, wantW, wantH)
	}
	if len(pixels) != width*height {
		return nil, fmt.Errorf("pixel buffer has %d values, want %d", len(pixels), width*height)
	}

	plane := width * height
	out := make([]float32, channels*plane)
	for i, v := range pixels {
		f := float32(v)
		for c := 0; c < channels; c++ {
			out[c*plane+i] = f
		}
	}
	return out, nil
}

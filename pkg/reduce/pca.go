// Package reduce projects backbone embeddings into a smaller feature
// space: columns are standardized to zero mean and unit variance, then
// projected onto the leading principal components.
package reduce

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// minStd guards against constant feature columns producing divide-by-zero.
const minStd = 1e-12

// Reducer holds a fitted standardization and PCA projection.
type Reducer struct {
	// means and stds are the per-column standardization parameters.
	means []float64
	stds  []float64

	// components is the d-by-k projection matrix of leading
	// principal directions.
	components *mat.Dense

	dims int
}

// MatrixFromEmbeddings packs per-slice float32 embeddings into a dense
// row-per-sample float64 matrix.
func MatrixFromEmbeddings(embeddings [][]float32) (*mat.Dense, error) {
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings to pack")
	}
	cols := len(embeddings[0])
	data := make([]float64, 0, len(embeddings)*cols)
	for i, emb := range embeddings {
		if len(emb) != cols {
			return nil, fmt.Errorf("embedding %d has %d values, want %d", i, len(emb), cols)
		}
		for _, v := range emb {
			data = append(data, float64(v))
		}
	}
	return mat.NewDense(len(embeddings), cols, data), nil
}

// Fit learns standardization parameters and the PCA projection from the
// rows of x. dims is clamped to min(samples, features).
func Fit(x *mat.Dense, dims int) (*Reducer, error) {
	rows, cols := x.Dims()
	if rows < 2 {
		return nil, fmt.Errorf("need at least 2 samples to fit a projection, got %d", rows)
	}
	if dims < 1 {
		return nil, fmt.Errorf("reduced dimensionality must be positive, got %d", dims)
	}
	if dims > cols {
		dims = cols
	}
	if dims > rows {
		dims = rows
	}

	r := &Reducer{
		means: make([]float64, cols),
		stds:  make([]float64, cols),
		dims:  dims,
	}

	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, x)
		r.means[j] = stat.Mean(col, nil)
		r.stds[j] = stat.StdDev(col, nil)
		if r.stds[j] < minStd {
			r.stds[j] = 1
		}
	}

	standardized := r.standardize(x)

	var pc stat.PC
	if ok := pc.PrincipalComponents(standardized, nil); !ok {
		return nil, fmt.Errorf("principal component decomposition failed")
	}

	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	r.components = mat.DenseCopyOf(vecs.Slice(0, cols, 0, dims))

	return r, nil
}

// Dims returns the output dimensionality of the fitted projection.
func (r *Reducer) Dims() int {
	return r.dims
}

// Transform standardizes the rows of x with the fitted parameters and
// projects them onto the principal components.
func (r *Reducer) Transform(x *mat.Dense) (*mat.Dense, error) {
	_, cols := x.Dims()
	if cols != len(r.means) {
		return nil, fmt.Errorf("input has %d features, reducer was fitted on %d", cols, len(r.means))
	}

	standardized := r.standardize(x)

	rows, _ := x.Dims()
	out := mat.NewDense(rows, r.dims, nil)
	out.Mul(standardized, r.components)
	return out, nil
}

// FitTransform fits the reducer on x and returns x's projection.
func FitTransform(x *mat.Dense, dims int) (*Reducer, *mat.Dense, error) {
	r, err := Fit(x, dims)
	if err != nil {
		return nil, nil, err
	}
	reduced, err := r.Transform(x)
	if err != nil {
		return nil, nil, err
	}
	return r, reduced, nil
}

func (r *Reducer) standardize(x *mat.Dense) *mat.Dense {
	rows, cols := x.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, (x.At(i, j)-r.means[j])/r.stds[j])
		}
	}
	return out
}

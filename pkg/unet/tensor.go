package unet

import (
	"fmt"
	"math"
)

// Tensor is a CHW feature map backed by a flat float64 slice.
type Tensor struct {
	C, H, W int
	Data    []float64
}

// NewTensor allocates a zeroed C-by-H-by-W tensor.
func NewTensor(c, h, w int) *Tensor {
	return &Tensor{C: c, H: h, W: w, Data: make([]float64, c*h*w)}
}

// NewTensorFrom wraps existing data as a tensor after a length check.
func NewTensorFrom(c, h, w int, data []float64) (*Tensor, error) {
	if len(data) != c*h*w {
		return nil, fmt.Errorf("tensor data has %d values, want %d", len(data), c*h*w)
	}
	return &Tensor{C: c, H: h, W: w, Data: data}, nil
}

// At returns the value at channel c, row y, column x.
func (t *Tensor) At(c, y, x int) float64 {
	return t.Data[(c*t.H+y)*t.W+x]
}

// Set writes the value at channel c, row y, column x.
func (t *Tensor) Set(c, y, x int, v float64) {
	t.Data[(c*t.H+y)*t.W+x] = v
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	out := NewTensor(t.C, t.H, t.W)
	copy(out.Data, t.Data)
	return out
}

// concat stacks two tensors along the channel axis.
func concat(a, b *Tensor) *Tensor {
	out := NewTensor(a.C+b.C, a.H, a.W)
	copy(out.Data[:len(a.Data)], a.Data)
	copy(out.Data[len(a.Data):], b.Data)
	return out
}

// splitGrad undoes concat for the gradient flowing back through it.
func splitGrad(d *Tensor, aC, bC int) (*Tensor, *Tensor) {
	da := &Tensor{C: aC, H: d.H, W: d.W, Data: d.Data[:aC*d.H*d.W]}
	db := &Tensor{C: bC, H: d.H, W: d.W, Data: d.Data[aC*d.H*d.W:]}
	return da, db
}

// sigmoid applies the logistic function elementwise into a new tensor.
func sigmoid(t *Tensor) *Tensor {
	out := NewTensor(t.C, t.H, t.W)
	for i, v := range t.Data {
		out.Data[i] = 1.0 / (1.0 + math.Exp(-v))
	}
	return out
}

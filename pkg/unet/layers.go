package unet

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// layer is one differentiable stage of the network. Forward caches
// whatever Backward needs; Backward accumulates parameter gradients and
// returns the gradient with respect to its input.
type layer interface {
	Forward(in *Tensor, train bool) *Tensor
	Backward(dOut *Tensor) *Tensor
}

// paramLayer exposes parameter and gradient buffers to the optimizer.
// The slices returned by Params and Grads are index-aligned.
type paramLayer interface {
	layer
	Params() [][]float64
	Grads() [][]float64
}

// Conv is a 2D convolution with stride 1, implemented as im2col plus a
// dense matrix multiply.
type Conv struct {
	InC, OutC int
	K, Pad    int

	// W is OutC rows by InC*K*K columns, row-major; B is one bias per
	// output channel.
	W  []float64
	B  []float64
	dW []float64
	dB []float64

	// caches from the last forward pass
	cols     *mat.Dense
	inH, inW int
}

// NewConv creates a convolution with He-initialized weights. K=3 Pad=1
// keeps spatial size; K=1 Pad=0 is the projection head.
func NewConv(inC, outC, k, pad int, rng *rand.Rand) *Conv {
	fanIn := inC * k * k
	scale := math.Sqrt(2.0 / float64(fanIn))
	w := make([]float64, outC*fanIn)
	for i := range w {
		w[i] = rng.NormFloat64() * scale
	}
	return &Conv{
		InC: inC, OutC: outC, K: k, Pad: pad,
		W:  w,
		B:  make([]float64, outC),
		dW: make([]float64, outC*fanIn),
		dB: make([]float64, outC),
	}
}

// im2col unrolls K-by-K patches of in into a (InC*K*K)-by-(H*W) matrix.
func (l *Conv) im2col(in *Tensor) *mat.Dense {
	h, w := in.H, in.W
	ckk := l.InC * l.K * l.K
	cols := mat.NewDense(ckk, h*w, nil)

	row := 0
	for c := 0; c < l.InC; c++ {
		for ky := 0; ky < l.K; ky++ {
			for kx := 0; kx < l.K; kx++ {
				for y := 0; y < h; y++ {
					sy := y + ky - l.Pad
					for x := 0; x < w; x++ {
						sx := x + kx - l.Pad
						var v float64
						if sy >= 0 && sy < h && sx >= 0 && sx < w {
							v = in.At(c, sy, sx)
						}
						cols.Set(row, y*w+x, v)
					}
				}
				row++
			}
		}
	}
	return cols
}

// col2im scatters patch-space gradients back onto the input grid.
func (l *Conv) col2im(dCols *mat.Dense, h, w int) *Tensor {
	dIn := NewTensor(l.InC, h, w)

	row := 0
	for c := 0; c < l.InC; c++ {
		for ky := 0; ky < l.K; ky++ {
			for kx := 0; kx < l.K; kx++ {
				for y := 0; y < h; y++ {
					sy := y + ky - l.Pad
					if sy < 0 || sy >= h {
						continue
					}
					for x := 0; x < w; x++ {
						sx := x + kx - l.Pad
						if sx < 0 || sx >= w {
							continue
						}
						dIn.Data[(c*h+sy)*w+sx] += dCols.At(row, y*w+x)
					}
				}
				row++
			}
		}
	}
	return dIn
}

func (l *Conv) Forward(in *Tensor, train bool) *Tensor {
	l.inH, l.inW = in.H, in.W
	l.cols = l.im2col(in)

	wMat := mat.NewDense(l.OutC, l.InC*l.K*l.K, l.W)
	out := mat.NewDense(l.OutC, in.H*in.W, nil)
	out.Mul(wMat, l.cols)

	t := &Tensor{C: l.OutC, H: in.H, W: in.W, Data: out.RawMatrix().Data}
	plane := in.H * in.W
	for c := 0; c < l.OutC; c++ {
		b := l.B[c]
		for i := c * plane; i < (c+1)*plane; i++ {
			t.Data[i] += b
		}
	}
	return t
}

func (l *Conv) Backward(dOut *Tensor) *Tensor {
	plane := l.inH * l.inW
	dOutMat := mat.NewDense(l.OutC, plane, dOut.Data)

	// Parameter gradients accumulate across the minibatch.
	var dW mat.Dense
	dW.Mul(dOutMat, l.cols.T())
	floats.Add(l.dW, dW.RawMatrix().Data)

	for c := 0; c < l.OutC; c++ {
		l.dB[c] += floats.Sum(dOut.Data[c*plane : (c+1)*plane])
	}

	wMat := mat.NewDense(l.OutC, l.InC*l.K*l.K, l.W)
	var dCols mat.Dense
	dCols.Mul(wMat.T(), dOutMat)

	return l.col2im(&dCols, l.inH, l.inW)
}

func (l *Conv) Params() [][]float64 { return [][]float64{l.W, l.B} }
func (l *Conv) Grads() [][]float64  { return [][]float64{l.dW, l.dB} }

// BatchNorm normalizes each channel over its spatial positions, with a
// learned scale and shift. Inference uses running statistics collected
// during training.
type BatchNorm struct {
	C int

	Gamma  []float64
	Beta   []float64
	dGamma []float64
	dBeta  []float64

	// RunningMean and RunningVar are serialized with the model so that
	// inference after reload matches inference before saving.
	RunningMean []float64
	RunningVar  []float64

	momentum float64
	eps      float64

	// caches from the last forward pass
	xhat *Tensor
	istd []float64
}

// NewBatchNorm creates an identity-initialized normalization layer for
// c channels.
func NewBatchNorm(c int) *BatchNorm {
	bn := &BatchNorm{
		C:           c,
		Gamma:       make([]float64, c),
		Beta:        make([]float64, c),
		dGamma:      make([]float64, c),
		dBeta:       make([]float64, c),
		RunningMean: make([]float64, c),
		RunningVar:  make([]float64, c),
		momentum:    0.9,
		eps:         1e-5,
		istd:        make([]float64, c),
	}
	for i := range bn.Gamma {
		bn.Gamma[i] = 1
		bn.RunningVar[i] = 1
	}
	return bn
}

func (l *BatchNorm) Forward(in *Tensor, train bool) *Tensor {
	plane := in.H * in.W
	out := NewTensor(in.C, in.H, in.W)
	l.xhat = NewTensor(in.C, in.H, in.W)

	for c := 0; c < l.C; c++ {
		seg := in.Data[c*plane : (c+1)*plane]

		var mean, variance float64
		if train {
			mean = floats.Sum(seg) / float64(plane)
			for _, v := range seg {
				d := v - mean
				variance += d * d
			}
			variance /= float64(plane)

			l.RunningMean[c] = l.momentum*l.RunningMean[c] + (1-l.momentum)*mean
			l.RunningVar[c] = l.momentum*l.RunningVar[c] + (1-l.momentum)*variance
		} else {
			mean = l.RunningMean[c]
			variance = l.RunningVar[c]
		}

		istd := 1.0 / math.Sqrt(variance+l.eps)
		l.istd[c] = istd
		for i, v := range seg {
			xh := (v - mean) * istd
			l.xhat.Data[c*plane+i] = xh
			out.Data[c*plane+i] = l.Gamma[c]*xh + l.Beta[c]
		}
	}
	return out
}

func (l *BatchNorm) Backward(dOut *Tensor) *Tensor {
	plane := dOut.H * dOut.W
	n := float64(plane)
	dIn := NewTensor(dOut.C, dOut.H, dOut.W)

	for c := 0; c < l.C; c++ {
		dySeg := dOut.Data[c*plane : (c+1)*plane]
		xhSeg := l.xhat.Data[c*plane : (c+1)*plane]

		var sumDy, sumDyXhat float64
		for i, dy := range dySeg {
			sumDy += dy
			sumDyXhat += dy * xhSeg[i]
		}
		l.dBeta[c] += sumDy
		l.dGamma[c] += sumDyXhat

		k := l.Gamma[c] * l.istd[c] / n
		for i, dy := range dySeg {
			dIn.Data[c*plane+i] = k * (n*dy - sumDy - xhSeg[i]*sumDyXhat)
		}
	}
	return dIn
}

func (l *BatchNorm) Params() [][]float64 { return [][]float64{l.Gamma, l.Beta} }
func (l *BatchNorm) Grads() [][]float64  { return [][]float64{l.dGamma, l.dBeta} }

// ReLU is the elementwise rectifier.
type ReLU struct {
	mask []bool
}

func (l *ReLU) Forward(in *Tensor, train bool) *Tensor {
	out := NewTensor(in.C, in.H, in.W)
	l.mask = make([]bool, len(in.Data))
	for i, v := range in.Data {
		if v > 0 {
			out.Data[i] = v
			l.mask[i] = true
		}
	}
	return out
}

func (l *ReLU) Backward(dOut *Tensor) *Tensor {
	dIn := NewTensor(dOut.C, dOut.H, dOut.W)
	for i, on := range l.mask {
		if on {
			dIn.Data[i] = dOut.Data[i]
		}
	}
	return dIn
}

// Dropout zeroes activations with probability Rate during training,
// scaling the survivors so expected activation is unchanged. Inference
// passes through untouched.
type Dropout struct {
	Rate float64
	rng  *rand.Rand

	mask []float64
}

func NewDropout(rate float64, rng *rand.Rand) *Dropout {
	return &Dropout{Rate: rate, rng: rng}
}

func (l *Dropout) Forward(in *Tensor, train bool) *Tensor {
	if !train || l.Rate <= 0 {
		l.mask = nil
		return in
	}
	keep := 1.0 - l.Rate
	out := NewTensor(in.C, in.H, in.W)
	l.mask = make([]float64, len(in.Data))
	for i, v := range in.Data {
		if l.rng.Float64() < keep {
			l.mask[i] = 1.0 / keep
			out.Data[i] = v * l.mask[i]
		}
	}
	return out
}

func (l *Dropout) Backward(dOut *Tensor) *Tensor {
	if l.mask == nil {
		return dOut
	}
	dIn := NewTensor(dOut.C, dOut.H, dOut.W)
	for i, m := range l.mask {
		dIn.Data[i] = dOut.Data[i] * m
	}
	return dIn
}

// MaxPool halves spatial resolution with 2x2 windows of stride 2.
type MaxPool struct {
	argmax []int
	inH    int
	inW    int
}

func (l *MaxPool) Forward(in *Tensor, train bool) *Tensor {
	l.inH, l.inW = in.H, in.W
	oh, ow := in.H/2, in.W/2
	out := NewTensor(in.C, oh, ow)
	l.argmax = make([]int, len(out.Data))

	for c := 0; c < in.C; c++ {
		for y := 0; y < oh; y++ {
			for x := 0; x < ow; x++ {
				best := math.Inf(-1)
				bestIdx := 0
				for dy := 0; dy < 2; dy++ {
					for dx := 0; dx < 2; dx++ {
						idx := (c*in.H+2*y+dy)*in.W + 2*x + dx
						if in.Data[idx] > best {
							best = in.Data[idx]
							bestIdx = idx
						}
					}
				}
				oIdx := (c*oh+y)*ow + x
				out.Data[oIdx] = best
				l.argmax[oIdx] = bestIdx
			}
		}
	}
	return out
}

func (l *MaxPool) Backward(dOut *Tensor) *Tensor {
	dIn := NewTensor(dOut.C, l.inH, l.inW)
	for oIdx, srcIdx := range l.argmax {
		dIn.Data[srcIdx] += dOut.Data[oIdx]
	}
	return dIn
}

// Upsample doubles spatial resolution by nearest-neighbor replication.
type Upsample struct{}

func (l *Upsample) Forward(in *Tensor, train bool) *Tensor {
	oh, ow := in.H*2, in.W*2
	out := NewTensor(in.C, oh, ow)
	for c := 0; c < in.C; c++ {
		for y := 0; y < oh; y++ {
			for x := 0; x < ow; x++ {
				out.Data[(c*oh+y)*ow+x] = in.At(c, y/2, x/2)
			}
		}
	}
	return out
}

func (l *Upsample) Backward(dOut *Tensor) *Tensor {
	ih, iw := dOut.H/2, dOut.W/2
	dIn := NewTensor(dOut.C, ih, iw)
	for c := 0; c < dOut.C; c++ {
		for y := 0; y < dOut.H; y++ {
			for x := 0; x < dOut.W; x++ {
				dIn.Data[(c*ih+y/2)*iw+x/2] += dOut.Data[(c*dOut.H+y)*dOut.W+x]
			}
		}
	}
	return dIn
}

// block is conv-norm-relu, optional dropout, conv-norm-relu — one
// resolution level of the network.
type block struct {
	layers []layer
}

func newBlock(inC, outC int, dropout float64, rng *rand.Rand) *block {
	layers := []layer{
		NewConv(inC, outC, 3, 1, rng),
		NewBatchNorm(outC),
		&ReLU{},
	}
	if dropout > 0 {
		layers = append(layers, NewDropout(dropout, rng))
	}
	layers = append(layers,
		NewConv(outC, outC, 3, 1, rng),
		NewBatchNorm(outC),
		&ReLU{},
	)
	return &block{layers: layers}
}

func (b *block) Forward(in *Tensor, train bool) *Tensor {
	out := in
	for _, l := range b.layers {
		out = l.Forward(out, train)
	}
	return out
}

func (b *block) Backward(dOut *Tensor) *Tensor {
	d := dOut
	for i := len(b.layers) - 1; i >= 0; i-- {
		d = b.layers[i].Backward(d)
	}
	return d
}

func (b *block) paramLayers() []paramLayer {
	var out []paramLayer
	for _, l := range b.layers {
		if pl, ok := l.(paramLayer); ok {
			out = append(out, pl)
		}
	}
	return out
}

// Package unet implements a three-level encoder-decoder segmentation
// network with skip connections, trained by gradient descent with a
// per-pixel binary cross-entropy loss.
package unet

import (
	"fmt"
	"math/rand"
)

// Config fixes the network architecture.
type Config struct {
	// InputSize is the square input resolution. Two pooling stages
	// require it to be divisible by 4.
	InputSize int

	// BaseFilters is the channel count of the first encoder level;
	// deeper levels double it.
	BaseFilters int

	// Dropout is the rate inside convolutional blocks; zero disables.
	Dropout float64

	// Seed drives weight initialization and dropout masks.
	Seed int64
}

// Net is the U-Net model: encoder (two levels), bottleneck, decoder
// (two levels) with skip connections, and a 1x1 sigmoid head.
type Net struct {
	cfg Config

	enc1         *block
	enc2         *block
	pool1, pool2 *MaxPool
	bottleneck   *block

	up2     *Upsample
	upConv2 *Conv
	dec2    *block
	up1     *Upsample
	upConv1 *Conv
	dec1    *block

	head *Conv

	// skip activations cached by forward for the backward pass
	skip1, skip2 *Tensor
}

// New builds an initialized network from the configuration.
func New(cfg Config) (*Net, error) {
	if cfg.InputSize <= 0 || cfg.InputSize%4 != 0 {
		return nil, fmt.Errorf("input size must be a positive multiple of 4, got %d", cfg.InputSize)
	}
	if cfg.BaseFilters <= 0 {
		return nil, fmt.Errorf("base filters must be positive, got %d", cfg.BaseFilters)
	}
	if cfg.Dropout < 0 || cfg.Dropout >= 1 {
		return nil, fmt.Errorf("dropout rate must be in [0,1), got %f", cfg.Dropout)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	f := cfg.BaseFilters

	return &Net{
		cfg:        cfg,
		enc1:       newBlock(1, f, cfg.Dropout, rng),
		pool1:      &MaxPool{},
		enc2:       newBlock(f, 2*f, cfg.Dropout, rng),
		pool2:      &MaxPool{},
		bottleneck: newBlock(2*f, 4*f, cfg.Dropout, rng),
		up2:        &Upsample{},
		upConv2:    NewConv(4*f, 2*f, 3, 1, rng),
		dec2:       newBlock(4*f, 2*f, cfg.Dropout, rng),
		up1:        &Upsample{},
		upConv1:    NewConv(2*f, f, 3, 1, rng),
		dec1:       newBlock(2*f, f, cfg.Dropout, rng),
		head:       NewConv(f, 1, 1, 0, rng),
	}, nil
}

// Config returns the architecture the network was built with.
func (n *Net) Config() Config {
	return n.cfg
}

// Forward runs the network on a single-channel input and returns the
// pre-sigmoid logits. Callers wanting probabilities apply sigmoid.
func (n *Net) Forward(in *Tensor, train bool) (*Tensor, error) {
	if in.C != 1 || in.H != n.cfg.InputSize || in.W != n.cfg.InputSize {
		return nil, fmt.Errorf("input is %dx%dx%d, network expects 1x%dx%d",
			in.C, in.H, in.W, n.cfg.InputSize, n.cfg.InputSize)
	}

	e1 := n.enc1.Forward(in, train)
	n.skip1 = e1
	p1 := n.pool1.Forward(e1, train)

	e2 := n.enc2.Forward(p1, train)
	n.skip2 = e2
	p2 := n.pool2.Forward(e2, train)

	b := n.bottleneck.Forward(p2, train)

	u2 := n.upConv2.Forward(n.up2.Forward(b, train), train)
	d2 := n.dec2.Forward(concat(u2, e2), train)

	u1 := n.upConv1.Forward(n.up1.Forward(d2, train), train)
	d1 := n.dec1.Forward(concat(u1, e1), train)

	return n.head.Forward(d1, train), nil
}

// Backward propagates the logit gradient through the network,
// accumulating parameter gradients. Must follow a training-mode
// Forward on the same sample.
func (n *Net) Backward(dLogits *Tensor) {
	d := n.head.Backward(dLogits)

	d = n.dec1.Backward(d)
	dU1, dSkip1 := splitGrad(d, n.upConv1.OutC, n.skip1.C)
	d = n.up1.Backward(n.upConv1.Backward(dU1))

	d = n.dec2.Backward(d)
	dU2, dSkip2 := splitGrad(d, n.upConv2.OutC, n.skip2.C)
	d = n.up2.Backward(n.upConv2.Backward(dU2))

	d = n.bottleneck.Backward(d)

	d = n.pool2.Backward(d)
	// Skip gradients join the pooled path at the encoder outputs.
	addInto(d, dSkip2)
	d = n.enc2.Backward(d)

	d = n.pool1.Backward(d)
	addInto(d, dSkip1)
	n.enc1.Backward(d)
}

// Predict runs inference and returns per-pixel probabilities in [0,1].
func (n *Net) Predict(pixels []float64) ([]float64, error) {
	in, err := NewTensorFrom(1, n.cfg.InputSize, n.cfg.InputSize, pixels)
	if err != nil {
		return nil, err
	}
	logits, err := n.Forward(in, false)
	if err != nil {
		return nil, err
	}
	return sigmoid(logits).Data, nil
}

// paramLayers enumerates every parameterized layer in a fixed order.
// Serialization and the optimizer both rely on this order.
func (n *Net) paramLayers() []paramLayer {
	var out []paramLayer
	out = append(out, n.enc1.paramLayers()...)
	out = append(out, n.enc2.paramLayers()...)
	out = append(out, n.bottleneck.paramLayers()...)
	out = append(out, n.upConv2)
	out = append(out, n.dec2.paramLayers()...)
	out = append(out, n.upConv1)
	out = append(out, n.dec1.paramLayers()...)
	out = append(out, n.head)
	return out
}

// zeroGrads clears accumulated parameter gradients before a minibatch.
func (n *Net) zeroGrads() {
	for _, pl := range n.paramLayers() {
		for _, g := range pl.Grads() {
			for i := range g {
				g[i] = 0
			}
		}
	}
}

func addInto(dst, src *Tensor) {
	for i, v := range src.Data {
		dst.Data[i] += v
	}
}

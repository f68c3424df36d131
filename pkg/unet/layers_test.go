package unet

import (
	"math"
	"math/rand"
	"testing"
)

func randomTensor(rng *rand.Rand, c, h, w int) *Tensor {
	t := NewTensor(c, h, w)
	for i := range t.Data {
		t.Data[i] = rng.NormFloat64()
	}
	return t
}

func TestConvOutputShape(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	conv := NewConv(2, 4, 3, 1, rng)

	out := conv.Forward(randomTensor(rng, 2, 8, 8), true)
	if out.C != 4 || out.H != 8 || out.W != 8 {
		t.Fatalf("conv output shape: got %dx%dx%d, want 4x8x8", out.C, out.H, out.W)
	}
}

func TestConv1x1OutputShape(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	conv := NewConv(4, 1, 1, 0, rng)

	out := conv.Forward(randomTensor(rng, 4, 8, 8), true)
	if out.C != 1 || out.H != 8 || out.W != 8 {
		t.Fatalf("1x1 conv output shape: got %dx%dx%d, want 1x8x8", out.C, out.H, out.W)
	}
}

// TestConvGradientCheck compares the analytic weight gradient of a
// small convolution against a central finite difference.
func TestConvGradientCheck(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	conv := NewConv(1, 2, 3, 1, rng)
	in := randomTensor(rng, 1, 4, 4)

	// Scalar loss: inner product of the output with a fixed tensor.
	r := randomTensor(rng, 2, 4, 4)
	lossFor := func() float64 {
		out := conv.Forward(in, true)
		total := 0.0
		for i, v := range out.Data {
			total += v * r.Data[i]
		}
		return total
	}

	lossFor()
	conv.Backward(r)

	const h = 1e-6
	for _, wi := range []int{0, 3, 7, len(conv.W) - 1} {
		orig := conv.W[wi]
		conv.W[wi] = orig + h
		plus := lossFor()
		conv.W[wi] = orig - h
		minus := lossFor()
		conv.W[wi] = orig

		numeric := (plus - minus) / (2 * h)
		analytic := conv.dW[wi]
		if math.Abs(numeric-analytic) > 1e-4*(1+math.Abs(numeric)) {
			t.Errorf("weight %d gradient: analytic %f, numeric %f", wi, analytic, numeric)
		}
	}

	// Bias gradient equals the sum of the loss weights per channel.
	for c := 0; c < 2; c++ {
		want := 0.0
		for i := c * 16; i < (c+1)*16; i++ {
			want += r.Data[i]
		}
		if math.Abs(conv.dB[c]-want) > 1e-9 {
			t.Errorf("bias %d gradient: got %f, want %f", c, conv.dB[c], want)
		}
	}
}

// TestConvInputGradientCheck validates the gradient flowing to the
// convolution input.
func TestConvInputGradientCheck(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	conv := NewConv(1, 2, 3, 1, rng)
	in := randomTensor(rng, 1, 4, 4)
	r := randomTensor(rng, 2, 4, 4)

	lossFor := func() float64 {
		out := conv.Forward(in, true)
		total := 0.0
		for i, v := range out.Data {
			total += v * r.Data[i]
		}
		return total
	}

	lossFor()
	dIn := conv.Backward(r)

	const h = 1e-6
	for _, ii := range []int{0, 5, 10, 15} {
		orig := in.Data[ii]
		in.Data[ii] = orig + h
		plus := lossFor()
		in.Data[ii] = orig - h
		minus := lossFor()
		in.Data[ii] = orig

		numeric := (plus - minus) / (2 * h)
		if math.Abs(numeric-dIn.Data[ii]) > 1e-4*(1+math.Abs(numeric)) {
			t.Errorf("input %d gradient: analytic %f, numeric %f", ii, dIn.Data[ii], numeric)
		}
	}
}

func TestBatchNormTrainStats(t *testing.T) {
	bn := NewBatchNorm(1)
	in := NewTensor(1, 2, 2)
	copy(in.Data, []float64{1, 2, 3, 4})

	out := bn.Forward(in, true)

	// Mean of the normalized output is 0, variance 1 (gamma=1, beta=0).
	mean := 0.0
	for _, v := range out.Data {
		mean += v
	}
	mean /= 4
	if math.Abs(mean) > 1e-9 {
		t.Errorf("batch norm output mean: %g, want 0", mean)
	}

	variance := 0.0
	for _, v := range out.Data {
		variance += (v - mean) * (v - mean)
	}
	variance /= 4
	if math.Abs(variance-1) > 1e-3 {
		t.Errorf("batch norm output variance: %g, want ~1", variance)
	}
}

func TestBatchNormEvalUsesRunningStats(t *testing.T) {
	bn := NewBatchNorm(1)
	in := NewTensor(1, 2, 2)
	copy(in.Data, []float64{10, 10, 10, 10})

	// Without training steps, running stats are identity.
	out := bn.Forward(in, false)
	for i, v := range out.Data {
		want := 10.0 / math.Sqrt(1+bn.eps)
		if math.Abs(v-want) > 1e-9 {
			t.Fatalf("eval output %d: got %f, want %f", i, v, want)
		}
	}
}

func TestReLU(t *testing.T) {
	relu := &ReLU{}
	in := NewTensor(1, 1, 4)
	copy(in.Data, []float64{-2, -0.5, 0.5, 2})

	out := relu.Forward(in, true)
	want := []float64{0, 0, 0.5, 2}
	for i, v := range out.Data {
		if v != want[i] {
			t.Errorf("relu output %d: got %f, want %f", i, v, want[i])
		}
	}

	dOut := NewTensor(1, 1, 4)
	copy(dOut.Data, []float64{1, 1, 1, 1})
	dIn := relu.Backward(dOut)
	wantGrad := []float64{0, 0, 1, 1}
	for i, v := range dIn.Data {
		if v != wantGrad[i] {
			t.Errorf("relu grad %d: got %f, want %f", i, v, wantGrad[i])
		}
	}
}

func TestDropoutEvalPassThrough(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	drop := NewDropout(0.5, rng)
	in := randomTensor(rng, 1, 4, 4)

	out := drop.Forward(in, false)
	for i := range in.Data {
		if out.Data[i] != in.Data[i] {
			t.Fatalf("dropout modified activations at inference")
		}
	}
}

func TestDropoutTrainZeroesSome(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	drop := NewDropout(0.5, rng)
	in := NewTensor(1, 16, 16)
	for i := range in.Data {
		in.Data[i] = 1
	}

	out := drop.Forward(in, true)
	zeros := 0
	for _, v := range out.Data {
		if v == 0 {
			zeros++
		}
	}
	if zeros == 0 || zeros == len(out.Data) {
		t.Errorf("dropout zeroed %d of %d activations, expected a strict subset", zeros, len(out.Data))
	}
}

func TestMaxPoolForwardBackward(t *testing.T) {
	pool := &MaxPool{}
	in := NewTensor(1, 2, 2)
	copy(in.Data, []float64{1, 5, 3, 2})

	out := pool.Forward(in, true)
	if out.H != 1 || out.W != 1 {
		t.Fatalf("pool output shape: got %dx%d, want 1x1", out.H, out.W)
	}
	if out.Data[0] != 5 {
		t.Errorf("pool output: got %f, want 5", out.Data[0])
	}

	dOut := NewTensor(1, 1, 1)
	dOut.Data[0] = 2
	dIn := pool.Backward(dOut)
	want := []float64{0, 2, 0, 0}
	for i, v := range dIn.Data {
		if v != want[i] {
			t.Errorf("pool grad %d: got %f, want %f", i, v, want[i])
		}
	}
}

func TestUpsampleForwardBackward(t *testing.T) {
	up := &Upsample{}
	in := NewTensor(1, 1, 2)
	copy(in.Data, []float64{1, 2})

	out := up.Forward(in, true)
	if out.H != 2 || out.W != 4 {
		t.Fatalf("upsample shape: got %dx%d, want 2x4", out.H, out.W)
	}
	want := []float64{1, 1, 2, 2, 1, 1, 2, 2}
	for i, v := range out.Data {
		if v != want[i] {
			t.Errorf("upsample output %d: got %f, want %f", i, v, want[i])
		}
	}

	dOut := NewTensor(1, 2, 4)
	for i := range dOut.Data {
		dOut.Data[i] = 1
	}
	dIn := up.Backward(dOut)
	for i, v := range dIn.Data {
		if v != 4 {
			t.Errorf("upsample grad %d: got %f, want 4", i, v)
		}
	}
}

func TestConcatSplitRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	a := randomTensor(rng, 2, 3, 3)
	b := randomTensor(rng, 1, 3, 3)

	cat := concat(a, b)
	if cat.C != 3 {
		t.Fatalf("concat channels: got %d, want 3", cat.C)
	}

	da, db := splitGrad(cat, 2, 1)
	for i := range a.Data {
		if da.Data[i] != a.Data[i] {
			t.Fatalf("split a mismatch at %d", i)
		}
	}
	for i := range b.Data {
		if db.Data[i] != b.Data[i] {
			t.Fatalf("split b mismatch at %d", i)
		}
	}
}

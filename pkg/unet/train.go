package unet

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/rs/zerolog"
)

// Pair is one training example: a normalized slice image and its
// binary mask at the same resolution.
type Pair struct {
	Image []float64
	Mask  []float64
	Name  string
}

// TrainConfig controls the gradient-descent run.
type TrainConfig struct {
	Epochs          int
	BatchSize       int
	LearningRate    float64
	Momentum        float64
	ValidationSplit float64
	Seed            int64

	// Augment enables on-the-fly rotation, zoom, and horizontal flip
	// for the training split. The validation split is never augmented.
	Augment bool
}

// sgd is stochastic gradient descent with classical momentum.
type sgd struct {
	lr, momentum float64
	velocity     [][]float64
}

func newSGD(net *Net, lr, momentum float64) *sgd {
	opt := &sgd{lr: lr, momentum: momentum}
	for _, pl := range net.paramLayers() {
		for _, p := range pl.Params() {
			opt.velocity = append(opt.velocity, make([]float64, len(p)))
		}
	}
	return opt
}

func (o *sgd) step(net *Net, batchSize int) {
	scale := 1.0 / float64(batchSize)
	vi := 0
	for _, pl := range net.paramLayers() {
		params := pl.Params()
		grads := pl.Grads()
		for k, p := range params {
			v := o.velocity[vi]
			g := grads[k]
			for i := range p {
				v[i] = o.momentum*v[i] - o.lr*g[i]*scale
				p[i] += v[i]
			}
			vi++
		}
	}
}

// Trainer runs the fixed-budget training loop for a network.
type Trainer struct {
	net *Net
	cfg TrainConfig
	log zerolog.Logger
}

// NewTrainer wraps a network with a training configuration.
func NewTrainer(net *Net, cfg TrainConfig, log zerolog.Logger) (*Trainer, error) {
	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("epoch budget must be positive, got %d", cfg.Epochs)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.ValidationSplit < 0 || cfg.ValidationSplit >= 1 {
		return nil, fmt.Errorf("validation split must be in [0,1), got %f", cfg.ValidationSplit)
	}
	return &Trainer{net: net, cfg: cfg, log: log}, nil
}

// Split partitions pairs into train and validation sets after a
// seed-determined shuffle.
func Split(pairs []Pair, validationSplit float64, seed int64) (train, val []Pair) {
	shuffled := make([]Pair, len(pairs))
	copy(shuffled, pairs)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	nVal := int(float64(len(shuffled)) * validationSplit)
	return shuffled[nVal:], shuffled[:nVal]
}

// Train runs the full epoch budget over the pairs and returns the
// final-epoch training and validation losses. There is no early
// stopping and no checkpointing; the caller persists the weights once
// training completes.
func (t *Trainer) Train(pairs []Pair) (trainLoss, valLoss float64, err error) {
	if len(pairs) == 0 {
		return 0, 0, fmt.Errorf("no training pairs")
	}

	size := t.net.cfg.InputSize
	for _, p := range pairs {
		if len(p.Image) != size*size || len(p.Mask) != size*size {
			return 0, 0, fmt.Errorf("pair %s does not match network input size %d", p.Name, size)
		}
	}

	trainSet, valSet := Split(pairs, t.cfg.ValidationSplit, t.cfg.Seed)
	if len(trainSet) == 0 {
		return 0, 0, fmt.Errorf("validation split leaves no training pairs")
	}

	opt := newSGD(t.net, t.cfg.LearningRate, t.cfg.Momentum)
	rng := rand.New(rand.NewSource(t.cfg.Seed + 1))
	var aug *Augmenter
	if t.cfg.Augment {
		aug = NewAugmenter(t.cfg.Seed + 2)
	}

	t.log.Info().
		Int("train", len(trainSet)).
		Int("validation", len(valSet)).
		Int("epochs", t.cfg.Epochs).
		Msg("starting segmentation training")

	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		rng.Shuffle(len(trainSet), func(i, j int) {
			trainSet[i], trainSet[j] = trainSet[j], trainSet[i]
		})

		epochLoss := 0.0
		for start := 0; start < len(trainSet); start += t.cfg.BatchSize {
			end := start + t.cfg.BatchSize
			if end > len(trainSet) {
				end = len(trainSet)
			}
			batch := trainSet[start:end]

			t.net.zeroGrads()
			for _, p := range batch {
				img, mask := p.Image, p.Mask
				if aug != nil {
					img, mask = aug.Apply(img, mask, size)
				}

				loss, err := t.step(img, mask)
				if err != nil {
					return 0, 0, err
				}
				epochLoss += loss
			}
			opt.step(t.net, len(batch))
		}
		trainLoss = epochLoss / float64(len(trainSet))

		valLoss = 0
		if len(valSet) > 0 {
			for _, p := range valSet {
				loss, err := t.evaluate(p.Image, p.Mask)
				if err != nil {
					return 0, 0, err
				}
				valLoss += loss
			}
			valLoss /= float64(len(valSet))
		}

		t.log.Info().
			Int("epoch", epoch).
			Float64("loss", trainLoss).
			Float64("valLoss", valLoss).
			Msg("epoch complete")
	}

	return trainLoss, valLoss, nil
}

// step runs one training sample: forward, loss, backward. Parameter
// gradients accumulate in the network; the optimizer applies them per
// minibatch.
func (t *Trainer) step(img, mask []float64) (float64, error) {
	size := t.net.cfg.InputSize
	in, err := NewTensorFrom(1, size, size, img)
	if err != nil {
		return 0, err
	}

	logits, err := t.net.Forward(in, true)
	if err != nil {
		return 0, err
	}
	probs := sigmoid(logits)

	loss := bceLoss(probs.Data, mask)

	// Combined sigmoid+BCE gradient with respect to the logits.
	n := float64(len(mask))
	dLogits := NewTensor(1, size, size)
	for i := range mask {
		dLogits.Data[i] = (probs.Data[i] - mask[i]) / n
	}
	t.net.Backward(dLogits)

	return loss, nil
}

// evaluate computes the loss for one pair without touching gradients
// or batch statistics.
func (t *Trainer) evaluate(img, mask []float64) (float64, error) {
	probs, err := t.net.Predict(img)
	if err != nil {
		return 0, err
	}
	return bceLoss(probs, mask), nil
}

// bceLoss is the mean per-pixel binary cross-entropy. Probabilities
// are clamped away from 0 and 1 to keep the logs finite.
func bceLoss(probs, mask []float64) float64 {
	const eps = 1e-7
	total := 0.0
	for i, p := range probs {
		p = math.Min(math.Max(p, eps), 1-eps)
		total += -(mask[i]*math.Log(p) + (1-mask[i])*math.Log(1-p))
	}
	return total / float64(len(probs))
}

package models

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/multigan/checkpoints"
	"github.com/tsawler/multigan/optimizer"
)

// DiscriminatorConfig describes a toy MLP discriminator.
type DiscriminatorConfig struct {
	Name       string
	InputDim   int
	Hidden     []int
	Activation Activation

	// ProjectionDim > 0 feeds the network a fixed random projection of its
	// input instead of the raw samples. The projection is regenerated from
	// Seed and is not part of Parameters.
	ProjectionDim int

	Seed uint64

	// Optimizer defaults to Adam with DefaultAdamConfig.
	Optimizer optimizer.Optimizer
}

// DefaultDiscriminatorConfig returns the discriminator used for the 2-D toy
// problems.
func DefaultDiscriminatorConfig() DiscriminatorConfig {
	return DiscriminatorConfig{
		Name:       "D",
		InputDim:   2,
		Hidden:     []int{128, 128, 128},
		Activation: ReLU,
		Seed:       1,
	}
}

// ToyDiscriminator is an MLP producing one logit per sample.
type ToyDiscriminator struct {
	name       string
	net        *MLP
	projection *mat.Dense
	opt        optimizer.Optimizer
}

// NewToyDiscriminator builds a seeded discriminator.
func NewToyDiscriminator(config DiscriminatorConfig) (*ToyDiscriminator, error) {
	if config.InputDim <= 0 {
		return nil, fmt.Errorf("discriminator input dimension must be positive, got %d", config.InputDim)
	}
	if config.ProjectionDim < 0 {
		return nil, fmt.Errorf("projection dimension cannot be negative, got %d", config.ProjectionDim)
	}

	rng := rand.New(rand.NewPCG(config.Seed, 0xd1b54a32d192ed03))

	d := &ToyDiscriminator{name: config.Name, opt: config.Optimizer}
	netInput := config.InputDim
	if config.ProjectionDim > 0 {
		scale := 1 / math.Sqrt(float64(config.ProjectionDim))
		data := make([]float64, config.InputDim*config.ProjectionDim)
		for i := range data {
			data[i] = rng.NormFloat64() * scale
		}
		d.projection = mat.NewDense(config.InputDim, config.ProjectionDim, data)
		netInput = config.ProjectionDim
	}

	sizes := append([]int{netInput}, config.Hidden...)
	sizes = append(sizes, 1)
	net, err := NewMLP(sizes, config.Activation, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to build discriminator %q: %w", config.Name, err)
	}
	d.net = net

	if d.opt == nil {
		adam, err := optimizer.NewAdamOptimizer(optimizer.DefaultAdamConfig())
		if err != nil {
			return nil, err
		}
		d.opt = adam
	}
	return d, nil
}

// Name returns the panel name, e.g. "D3".
func (d *ToyDiscriminator) Name() string { return d.name }

// Parameters returns the live parameter vector updated by TrainStep.
func (d *ToyDiscriminator) Parameters() []float64 { return d.net.Parameters() }

// Layout describes the tensors stored in Parameters. The projection is not
// part of it.
func (d *ToyDiscriminator) Layout() []checkpoints.ParamSpec { return d.net.Layout() }

// Optimizer returns the optimizer owned by this discriminator.
func (d *ToyDiscriminator) Optimizer() optimizer.Optimizer { return d.opt }

// Projected reports whether the discriminator sees a random projection.
func (d *ToyDiscriminator) Projected() bool { return d.projection != nil }

func (d *ToyDiscriminator) project(x *mat.Dense) *mat.Dense {
	if d.projection == nil {
		return x
	}
	rows, _ := x.Dims()
	_, cols := d.projection.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.Mul(x, d.projection)
	return out
}

func (d *ToyDiscriminator) logits(x *mat.Dense) (*mat.Dense, *trace) {
	return d.net.forward(d.project(x))
}

// Score returns D(x), the probability that each row of x is real.
func (d *ToyDiscriminator) Score(x *mat.Dense) *mat.Dense {
	logits, _ := d.logits(x)
	rows, _ := logits.Dims()
	out := mat.NewDense(rows, 1, nil)
	out.Apply(func(_, _ int, v float64) float64 { return sigmoid(v) }, logits)
	return out
}

// TrainStep minimises BCE with real samples labelled 1 and fake samples
// labelled 0.
func (d *ToyDiscriminator) TrainStep(real, fake *mat.Dense) (float64, error) {
	realLogits, realTrace := d.logits(real)
	fakeLogits, fakeTrace := d.logits(fake)

	nReal, _ := realLogits.Dims()
	nFake, _ := fakeLogits.Dims()

	loss := 0.0
	gradReal := mat.NewDense(nReal, 1, nil)
	for i := 0; i < nReal; i++ {
		s := realLogits.At(i, 0)
		loss += softplus(-s) / float64(nReal)
		gradReal.Set(i, 0, -sigmoid(-s)/float64(nReal))
	}
	gradFake := mat.NewDense(nFake, 1, nil)
	for i := 0; i < nFake; i++ {
		s := fakeLogits.At(i, 0)
		loss += softplus(s) / float64(nFake)
		gradFake.Set(i, 0, sigmoid(s)/float64(nFake))
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return loss, fmt.Errorf("%s: %w", d.name, ErrNonFiniteLoss)
	}

	grad := make([]float64, len(d.net.params))
	d.net.backward(realTrace, gradReal, grad, false)
	d.net.backward(fakeTrace, gradFake, grad, false)

	if err := d.opt.Step(d.net.params, grad); err != nil {
		return loss, fmt.Errorf("%s: optimizer step failed: %w", d.name, err)
	}
	return loss, nil
}

// LossForGenerator computes mean(-log D(fake)) and its gradient w.r.t. fake.
func (d *ToyDiscriminator) LossForGenerator(fake *mat.Dense) (float64, *mat.Dense) {
	logits, tr := d.logits(fake)
	n, _ := logits.Dims()

	loss := 0.0
	gradLogits := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		s := logits.At(i, 0)
		loss += softplus(-s) / float64(n)
		gradLogits.Set(i, 0, -sigmoid(-s)/float64(n))
	}

	gradInput := d.net.backward(tr, gradLogits, nil, true)
	if d.projection == nil {
		return loss, gradInput
	}
	_, inDim := fake.Dims()
	gradFake := mat.NewDense(n, inDim, nil)
	gradFake.Mul(gradInput, d.projection.T())
	return loss, gradFake
}

package models

import (
	"errors"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/multigan/checkpoints"
	"github.com/tsawler/multigan/optimizer"
)

// ErrNonFiniteLoss is returned by a discriminator step whose loss is NaN or
// infinite. Parameters are left untouched.
var ErrNonFiniteLoss = errors.New("non-finite discriminator loss")

// BackwardFunc maps dLoss/dOutput for one forward pass to dLoss/dParameters.
// It does not modify the model and can be called any number of times.
type BackwardFunc func(gradOut *mat.Dense) []float64

// Generator maps noise batches (rows are samples) to fake samples.
type Generator interface {
	NoiseDim() int
	Forward(noise *mat.Dense) (*mat.Dense, BackwardFunc)
	// Parameters returns the live parameter vector; optimizers step it in place.
	Parameters() []float64
	Layout() []checkpoints.ParamSpec
}

// Discriminator scores samples and trains itself with its own optimizer.
type Discriminator interface {
	Name() string
	// Score returns the probability that each row of x is real.
	Score(x *mat.Dense) *mat.Dense
	// TrainStep performs one BCE update on a real and a fake batch and
	// returns the loss before the update.
	TrainStep(real, fake *mat.Dense) (float64, error)
	// LossForGenerator returns the non-saturating generator loss on fake and
	// its gradient with respect to fake. The discriminator is not changed.
	LossForGenerator(fake *mat.Dense) (float64, *mat.Dense)
	Parameters() []float64
	Layout() []checkpoints.ParamSpec
	Optimizer() optimizer.Optimizer
}

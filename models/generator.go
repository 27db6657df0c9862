package models

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/multigan/checkpoints"
)

// GeneratorConfig describes a toy MLP generator.
type GeneratorConfig struct {
	NoiseDim   int
	OutputDim  int
	Hidden     []int
	Activation Activation
	Seed       uint64
}

// DefaultGeneratorConfig returns the generator used for the 2-D toy problems.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		NoiseDim:   2,
		OutputDim:  2,
		Hidden:     []int{128, 128, 128},
		Activation: ReLU,
		Seed:       1,
	}
}

// ToyGenerator is an MLP generator with a linear output layer.
type ToyGenerator struct {
	net      *MLP
	noiseDim int
}

// NewToyGenerator builds a generator with weights seeded from config.Seed.
func NewToyGenerator(config GeneratorConfig) (*ToyGenerator, error) {
	if config.NoiseDim <= 0 || config.OutputDim <= 0 {
		return nil, fmt.Errorf("generator dimensions must be positive: noise=%d output=%d", config.NoiseDim, config.OutputDim)
	}
	sizes := append([]int{config.NoiseDim}, config.Hidden...)
	sizes = append(sizes, config.OutputDim)

	rng := rand.New(rand.NewPCG(config.Seed, 0x9e3779b97f4a7c15))
	net, err := NewMLP(sizes, config.Activation, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to build generator: %w", err)
	}
	return &ToyGenerator{net: net, noiseDim: config.NoiseDim}, nil
}

// NoiseDim returns the width of the noise input.
func (g *ToyGenerator) NoiseDim() int { return g.noiseDim }

// Forward generates one sample per noise row.
func (g *ToyGenerator) Forward(noise *mat.Dense) (*mat.Dense, BackwardFunc) {
	out, tr := g.net.forward(noise)
	return out, func(gradOut *mat.Dense) []float64 {
		grad := make([]float64, len(g.net.params))
		g.net.backward(tr, gradOut, grad, false)
		return grad
	}
}

// Parameters returns the live parameter vector the generator optimizer steps.
func (g *ToyGenerator) Parameters() []float64 { return g.net.Parameters() }

// Layout describes the tensors stored in Parameters.
func (g *ToyGenerator) Layout() []checkpoints.ParamSpec { return g.net.Layout() }

// Summary returns a description of the underlying network.
func (g *ToyGenerator) Summary() string { return g.net.Summary() }

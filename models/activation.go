package models

import (
	"fmt"
	"math"
)

// Activation is the non-linearity applied after every hidden layer.
type Activation int

const (
	Identity Activation = iota
	ReLU
	LeakyReLU
	Tanh
)

const leakySlope = 0.2

func (a Activation) String() string {
	switch a {
	case Identity:
		return "Identity"
	case ReLU:
		return "ReLU"
	case LeakyReLU:
		return "LeakyReLU"
	case Tanh:
		return "Tanh"
	default:
		return fmt.Sprintf("Activation(%d)", int(a))
	}
}

func (a Activation) apply(x float64) float64 {
	switch a {
	case ReLU:
		return math.Max(0, x)
	case LeakyReLU:
		if x < 0 {
			return leakySlope * x
		}
		return x
	case Tanh:
		return math.Tanh(x)
	default:
		return x
	}
}

// derivative returns da/dz evaluated at the pre-activation z.
func (a Activation) derivative(z float64) float64 {
	switch a {
	case ReLU:
		if z > 0 {
			return 1
		}
		return 0
	case LeakyReLU:
		if z < 0 {
			return leakySlope
		}
		return 1
	case Tanh:
		t := math.Tanh(z)
		return 1 - t*t
	default:
		return 1
	}
}

// softplus computes log(1+e^x) without overflow.
func softplus(x float64) float64 {
	return math.Max(x, 0) + math.Log1p(math.Exp(-math.Abs(x)))
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

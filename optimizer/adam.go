package optimizer

import (
	"fmt"
	"math"
)

// AdamOptimizerState holds Adam hyperparameters and moment estimates for
// one parameter vector.
//
// Update rule (bias corrected):
//
//	m = β1·m + (1-β1)·g
//	v = β2·v + (1-β2)·g²
//	w = w - lr/(1-β1^t) · m / (√v/√(1-β2^t) + ε)
type AdamOptimizerState struct {
	// Hyperparameters
	LearningRate float64
	Beta1        float64 // Momentum decay
	Beta2        float64 // Variance decay
	Epsilon      float64 // Small constant to prevent division by zero
	WeightDecay  float64 // L2 regularization coefficient

	// Moment estimates, allocated on the first step
	Momentum []float64
	Variance []float64

	// Step tracking for bias correction
	StepCount uint64
}

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// DefaultAdamConfig returns the Adam configuration used for GAN training
// (lr 2e-4, β1 0.5).
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.0002,
		Beta1:        0.5,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// NewAdamOptimizer creates a new Adam optimizer
func NewAdamOptimizer(config AdamConfig) (*AdamOptimizerState, error) {
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 {
		return nil, fmt.Errorf("beta1 must be in [0, 1), got %f", config.Beta1)
	}
	if config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("beta2 must be in [0, 1), got %f", config.Beta2)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive, got %g", config.Epsilon)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}

	return &AdamOptimizerState{
		LearningRate: config.LearningRate,
		Beta1:        config.Beta1,
		Beta2:        config.Beta2,
		Epsilon:      config.Epsilon,
		WeightDecay:  config.WeightDecay,
	}, nil
}

// Step performs a single Adam optimization step
func (adam *AdamOptimizerState) Step(params, grads []float64) error {
	if err := checkStep(params, grads); err != nil {
		return err
	}
	if adam.Momentum == nil {
		adam.Momentum = make([]float64, len(params))
		adam.Variance = make([]float64, len(params))
	}
	if len(adam.Momentum) != len(params) {
		return fmt.Errorf("optimizer state has %d elements, parameters have %d", len(adam.Momentum), len(params))
	}

	adam.StepCount++
	t := float64(adam.StepCount)
	bc1 := 1 - math.Pow(adam.Beta1, t)
	bc2 := math.Sqrt(1 - math.Pow(adam.Beta2, t))
	stepSize := adam.LearningRate / bc1

	for i, g := range grads {
		if adam.WeightDecay != 0 {
			g += adam.WeightDecay * params[i]
		}
		m := adam.Beta1*adam.Momentum[i] + (1-adam.Beta1)*g
		v := adam.Beta2*adam.Variance[i] + (1-adam.Beta2)*g*g
		adam.Momentum[i] = m
		adam.Variance[i] = v

		params[i] -= stepSize * m / (math.Sqrt(v)/bc2 + adam.Epsilon)
	}
	return nil
}

// GetState extracts optimizer state for checkpointing
func (adam *AdamOptimizerState) GetState() (*OptimizerState, error) {
	state := &OptimizerState{
		Type: "Adam",
		Parameters: map[string]float64{
			"learning_rate": adam.LearningRate,
			"beta1":         adam.Beta1,
			"beta2":         adam.Beta2,
			"epsilon":       adam.Epsilon,
			"weight_decay":  adam.WeightDecay,
		},
		StepCount: adam.StepCount,
	}
	if t := extractBufferState(adam.Momentum, "m", "m"); t != nil {
		state.StateData = append(state.StateData, *t)
	}
	if t := extractBufferState(adam.Variance, "v", "v"); t != nil {
		state.StateData = append(state.StateData, *t)
	}
	return state, nil
}

// LoadState restores optimizer state from checkpoint
func (adam *AdamOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}

	m, err := restoreBufferState(findBufferState(state, "m"), 0)
	if err != nil {
		return err
	}
	v, err := restoreBufferState(findBufferState(state, "v"), len(m))
	if err != nil {
		return err
	}
	if (m == nil) != (v == nil) {
		return fmt.Errorf("Adam state must contain both m and v buffers")
	}

	adam.LearningRate = extractFloat64Param(state.Parameters, "learning_rate", adam.LearningRate)
	adam.Beta1 = extractFloat64Param(state.Parameters, "beta1", adam.Beta1)
	adam.Beta2 = extractFloat64Param(state.Parameters, "beta2", adam.Beta2)
	adam.Epsilon = extractFloat64Param(state.Parameters, "epsilon", adam.Epsilon)
	adam.WeightDecay = extractFloat64Param(state.Parameters, "weight_decay", adam.WeightDecay)
	adam.StepCount = state.StepCount
	adam.Momentum = m
	adam.Variance = v
	return nil
}

// GetStepCount returns the current step count
func (adam *AdamOptimizerState) GetStepCount() uint64 {
	return adam.StepCount
}

// UpdateLearningRate updates the learning rate (useful for learning rate scheduling)
func (adam *AdamOptimizerState) UpdateLearningRate(lr float64) {
	adam.LearningRate = lr
}

// GetLearningRate returns the current learning rate
func (adam *AdamOptimizerState) GetLearningRate() float64 {
	return adam.LearningRate
}

package optimizer

import (
	"fmt"

	"github.com/tsawler/multigan/checkpoints"
)

// Optimizer defines the common interface for all optimizers.
// Parameters and gradients are flat float64 vectors; each optimizer owns
// the state for exactly one parameter vector.
type Optimizer interface {
	// Step updates params in place using grads.
	// len(grads) must equal len(params).
	Step(params, grads []float64) error

	// GetState extracts optimizer state for checkpointing
	GetState() (*OptimizerState, error)

	// LoadState restores optimizer state from checkpoint
	LoadState(state *OptimizerState) error

	// GetStepCount returns the current optimization step number
	GetStepCount() uint64

	// UpdateLearningRate updates the learning rate
	UpdateLearningRate(lr float64)

	// GetLearningRate returns the current learning rate
	GetLearningRate() float64
}

// OptimizerState represents the complete state of an optimizer
type OptimizerState = checkpoints.OptimizerState

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *OptimizerState) error {
	if state == nil {
		return fmt.Errorf("optimizer state cannot be nil")
	}
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}

func checkStep(params, grads []float64) error {
	if len(grads) != len(params) {
		return fmt.Errorf("gradient length (%d) doesn't match parameter length (%d)", len(grads), len(params))
	}
	return nil
}

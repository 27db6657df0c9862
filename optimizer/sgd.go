package optimizer

import "fmt"

// SGDOptimizerState holds SGD hyperparameters and the momentum buffer.
type SGDOptimizerState struct {
	// Hyperparameters
	LearningRate float64
	Momentum     float64 // Momentum coefficient (0 for vanilla SGD)
	WeightDecay  float64 // L2 regularization coefficient
	Nesterov     bool    // Whether to use Nesterov momentum

	// Momentum buffer, allocated on the first step when Momentum > 0
	Velocity []float64

	// Step tracking
	StepCount uint64
}

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	LearningRate float64
	Momentum     float64
	WeightDecay  float64
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.0,
		WeightDecay:  0.0,
		Nesterov:     false,
	}
}

// NewSGDOptimizer creates a new SGD optimizer
func NewSGDOptimizer(config SGDConfig) (*SGDOptimizerState, error) {
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Momentum < 0 {
		return nil, fmt.Errorf("momentum cannot be negative: %f", config.Momentum)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}
	if config.Nesterov && config.Momentum == 0 {
		return nil, fmt.Errorf("Nesterov momentum requires momentum > 0")
	}

	return &SGDOptimizerState{
		LearningRate: config.LearningRate,
		Momentum:     config.Momentum,
		WeightDecay:  config.WeightDecay,
		Nesterov:     config.Nesterov,
	}, nil
}

// Step performs a single SGD optimization step
func (sgd *SGDOptimizerState) Step(params, grads []float64) error {
	if err := checkStep(params, grads); err != nil {
		return err
	}
	if sgd.Momentum > 0 && sgd.Velocity == nil {
		sgd.Velocity = make([]float64, len(params))
	}
	if sgd.Velocity != nil && len(sgd.Velocity) != len(params) {
		return fmt.Errorf("optimizer state has %d elements, parameters have %d", len(sgd.Velocity), len(params))
	}

	sgd.StepCount++
	for i, g := range grads {
		if sgd.WeightDecay != 0 {
			g += sgd.WeightDecay * params[i]
		}
		if sgd.Momentum > 0 {
			sgd.Velocity[i] = sgd.Momentum*sgd.Velocity[i] + g
			if sgd.Nesterov {
				g += sgd.Momentum * sgd.Velocity[i]
			} else {
				g = sgd.Velocity[i]
			}
		}
		params[i] -= sgd.LearningRate * g
	}
	return nil
}

// GetState extracts optimizer state for checkpointing
func (sgd *SGDOptimizerState) GetState() (*OptimizerState, error) {
	state := &OptimizerState{
		Type: "SGD",
		Parameters: map[string]float64{
			"learning_rate": sgd.LearningRate,
			"momentum":      sgd.Momentum,
			"weight_decay":  sgd.WeightDecay,
			"nesterov":      boolParam(sgd.Nesterov),
		},
		StepCount: sgd.StepCount,
	}
	if t := extractBufferState(sgd.Velocity, "momentum", "momentum"); t != nil {
		state.StateData = append(state.StateData, *t)
	}
	return state, nil
}

// LoadState restores optimizer state from checkpoint
func (sgd *SGDOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}
	velocity, err := restoreBufferState(findBufferState(state, "momentum"), 0)
	if err != nil {
		return err
	}

	sgd.LearningRate = extractFloat64Param(state.Parameters, "learning_rate", sgd.LearningRate)
	sgd.Momentum = extractFloat64Param(state.Parameters, "momentum", sgd.Momentum)
	sgd.WeightDecay = extractFloat64Param(state.Parameters, "weight_decay", sgd.WeightDecay)
	sgd.Nesterov = extractBoolParam(state.Parameters, "nesterov", sgd.Nesterov)
	sgd.StepCount = state.StepCount
	sgd.Velocity = velocity
	return nil
}

// GetStepCount returns the current step count
func (sgd *SGDOptimizerState) GetStepCount() uint64 {
	return sgd.StepCount
}

// UpdateLearningRate updates the learning rate
func (sgd *SGDOptimizerState) UpdateLearningRate(lr float64) {
	sgd.LearningRate = lr
}

// GetLearningRate returns the current learning rate
func (sgd *SGDOptimizerState) GetLearningRate() float64 {
	return sgd.LearningRate
}

package optimizer

import (
	"fmt"

	"github.com/tsawler/multigan/checkpoints"
)

// Common helper functions for optimizer state management

// extractBufferState copies one state buffer for checkpointing. A nil
// buffer (state not yet allocated) yields nil.
func extractBufferState(buffer []float64, name string, stateType string) *checkpoints.OptimizerTensor {
	if buffer == nil {
		return nil
	}
	return &checkpoints.OptimizerTensor{
		Name:      name,
		Shape:     []int{len(buffer)},
		Data:      append([]float64(nil), buffer...),
		StateType: stateType,
	}
}

// findBufferState returns the saved tensor with the given state type.
func findBufferState(state *OptimizerState, stateType string) *checkpoints.OptimizerTensor {
	for i := range state.StateData {
		if state.StateData[i].StateType == stateType {
			return &state.StateData[i]
		}
	}
	return nil
}

// restoreBufferState returns a fresh copy of a saved buffer, checking its
// size when expected is positive.
func restoreBufferState(tensor *checkpoints.OptimizerTensor, expected int) ([]float64, error) {
	if tensor == nil {
		return nil, nil
	}
	if expected > 0 && len(tensor.Data) != expected {
		return nil, fmt.Errorf("data size mismatch for %s: expected %d elements, got %d",
			tensor.Name, expected, len(tensor.Data))
	}
	return append([]float64(nil), tensor.Data...), nil
}

// extractFloat64Param safely extracts a float64 parameter from the state map
func extractFloat64Param(params map[string]float64, key string, defaultValue float64) float64 {
	if val, ok := params[key]; ok {
		return val
	}
	return defaultValue
}

// extractBoolParam safely extracts a bool parameter (stored as 0/1) from the state map
func extractBoolParam(params map[string]float64, key string, defaultValue bool) bool {
	if val, ok := params[key]; ok {
		return val != 0
	}
	return defaultValue
}

func boolParam(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

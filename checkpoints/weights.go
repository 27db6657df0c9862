package checkpoints

import "fmt"

// ParamSpec describes one named tensor inside a model's flat parameter
// vector. Specs are listed in storage order.
type ParamSpec struct {
	Name  string
	Layer string
	Type  string
	Shape []int
}

// Size returns the number of elements described by the spec.
func (ps ParamSpec) Size() int {
	size := 1
	for _, dim := range ps.Shape {
		size *= dim
	}
	return size
}

// LayoutSize returns the total number of parameters described by layout.
func LayoutSize(layout []ParamSpec) int {
	total := 0
	for _, spec := range layout {
		total += spec.Size()
	}
	return total
}

// ExtractWeights copies a flat parameter vector into named weight tensors.
func ExtractWeights(params []float64, layout []ParamSpec) ([]WeightTensor, error) {
	if want := LayoutSize(layout); want != len(params) {
		return nil, fmt.Errorf("layout describes %d parameters, model has %d", want, len(params))
	}

	weights := make([]WeightTensor, 0, len(layout))
	offset := 0
	for _, spec := range layout {
		size := spec.Size()
		weights = append(weights, WeightTensor{
			Name:  spec.Name,
			Shape: append([]int(nil), spec.Shape...),
			Data:  append([]float64(nil), params[offset:offset+size]...),
			Layer: spec.Layer,
			Type:  spec.Type,
		})
		offset += size
	}
	return weights, nil
}

// LoadWeights copies saved weight tensors back into a flat parameter vector,
// verifying names and shapes against layout.
func LoadWeights(weights []WeightTensor, params []float64, layout []ParamSpec) error {
	if len(weights) != len(layout) {
		return fmt.Errorf("weight count mismatch: %d weights, %d tensors", len(weights), len(layout))
	}
	if want := LayoutSize(layout); want != len(params) {
		return fmt.Errorf("layout describes %d parameters, model has %d", want, len(params))
	}

	offset := 0
	for i, spec := range layout {
		weight := weights[i]
		if weight.Name != spec.Name {
			return fmt.Errorf("weight %d: expected %s, got %s", i, spec.Name, weight.Name)
		}
		if len(weight.Shape) != len(spec.Shape) {
			return fmt.Errorf("shape mismatch for weight %s: tensor %v vs weight %v",
				weight.Name, spec.Shape, weight.Shape)
		}
		for j, dim := range spec.Shape {
			if dim != weight.Shape[j] {
				return fmt.Errorf("dimension mismatch for weight %s at index %d: tensor %d vs weight %d",
					weight.Name, j, dim, weight.Shape[j])
			}
		}
		size := spec.Size()
		if len(weight.Data) != size {
			return fmt.Errorf("data size mismatch for weight %s: expected %d elements, got %d",
				weight.Name, size, len(weight.Data))
		}
		copy(params[offset:offset+size], weight.Data)
		offset += size
	}
	return nil
}

// Package dataset provides the sample sources used for training.
package dataset

import (
	"gonum.org/v1/gonum/mat"
)

// Dataset is a fixed-size, randomly addressable collection of samples.
type Dataset interface {
	Len() int
	// Dim is the length of every sample.
	Dim() int
	// Get returns sample idx. The returned slice must not be modified.
	Get(idx int) ([]float64, error)
}

// Diagnosable datasets expose the mixture they are drawn from so generated
// samples can be scored against it.
type Diagnosable interface {
	Centers() [][]float64
	Std() float64
	Cov() *mat.SymDense
}

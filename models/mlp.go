package models

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/multigan/checkpoints"
)

// MLP is a fully connected network whose parameters live in one flat
// vector. Weight matrices and biases are views into that vector, so an
// optimizer stepping Parameters() updates the network in place.
//
// Hidden layers use the configured activation; the last layer is linear.
type MLP struct {
	sizes      []int
	activation Activation

	params  []float64
	layout  []checkpoints.ParamSpec
	weights []*mat.Dense // fan_in x fan_out
	biases  [][]float64
}

// trace keeps the activations of one forward pass for back-propagation.
type trace struct {
	inputs []*mat.Dense // input to each layer
	pre    []*mat.Dense // pre-activation output of each layer
}

// NewMLP builds a network with the given layer sizes (input first, output
// last). Weights are drawn from U(-1/sqrt(fan_in), 1/sqrt(fan_in)).
func NewMLP(sizes []int, activation Activation, rng *rand.Rand) (*MLP, error) {
	if len(sizes) < 2 {
		return nil, fmt.Errorf("an MLP needs at least input and output sizes, got %v", sizes)
	}
	for _, s := range sizes {
		if s <= 0 {
			return nil, fmt.Errorf("layer sizes must be positive, got %v", sizes)
		}
	}

	m := &MLP{sizes: append([]int(nil), sizes...), activation: activation}
	for l := 0; l < len(sizes)-1; l++ {
		name := fmt.Sprintf("fc%d", l+1)
		m.layout = append(m.layout,
			checkpoints.ParamSpec{Name: name + ".weight", Layer: name, Type: "weight", Shape: []int{sizes[l], sizes[l+1]}},
			checkpoints.ParamSpec{Name: name + ".bias", Layer: name, Type: "bias", Shape: []int{sizes[l+1]}},
		)
	}
	m.params = make([]float64, checkpoints.LayoutSize(m.layout))

	offset := 0
	for l := 0; l < len(sizes)-1; l++ {
		in, out := sizes[l], sizes[l+1]
		bound := 1 / math.Sqrt(float64(in))

		w := m.params[offset : offset+in*out]
		for i := range w {
			w[i] = (2*rng.Float64() - 1) * bound
		}
		m.weights = append(m.weights, mat.NewDense(in, out, w))
		offset += in * out

		b := m.params[offset : offset+out]
		for i := range b {
			b[i] = (2*rng.Float64() - 1) * bound
		}
		m.biases = append(m.biases, b)
		offset += out
	}
	return m, nil
}

// Parameters returns the live parameter vector.
func (m *MLP) Parameters() []float64 { return m.params }

// Layout describes the tensors stored in Parameters.
func (m *MLP) Layout() []checkpoints.ParamSpec { return m.layout }

// InputDim returns the width of the input layer.
func (m *MLP) InputDim() int { return m.sizes[0] }

// OutputDim returns the width of the output layer.
func (m *MLP) OutputDim() int { return m.sizes[len(m.sizes)-1] }

func (m *MLP) forward(x *mat.Dense) (*mat.Dense, *trace) {
	tr := &trace{}
	a := x
	last := len(m.weights) - 1
	for l, w := range m.weights {
		rows, _ := a.Dims()
		_, out := w.Dims()

		z := mat.NewDense(rows, out, nil)
		z.Mul(a, w)
		for i := 0; i < rows; i++ {
			floats.Add(z.RawRowView(i), m.biases[l])
		}
		tr.inputs = append(tr.inputs, a)
		tr.pre = append(tr.pre, z)

		if l == last {
			a = z
			break
		}
		act := mat.NewDense(rows, out, nil)
		act.Apply(func(_, _ int, v float64) float64 { return m.activation.apply(v) }, z)
		a = act
	}
	return a, tr
}

// backward propagates gradOut (dLoss/dOutput) through the pass recorded in
// tr. Parameter gradients are added into paramGrad when it is non-nil; the
// gradient with respect to the network input is returned when wantInput is
// set. tr is not modified, so the same trace can be replayed.
func (m *MLP) backward(tr *trace, gradOut *mat.Dense, paramGrad []float64, wantInput bool) *mat.Dense {
	offsets := make([]int, len(m.weights))
	offset := 0
	for l, w := range m.weights {
		offsets[l] = offset
		in, out := w.Dims()
		offset += in*out + out
	}

	g := gradOut
	for l := len(m.weights) - 1; l >= 0; l-- {
		w := m.weights[l]
		in, out := w.Dims()

		if paramGrad != nil {
			dw := mat.NewDense(in, out, nil)
			dw.Mul(tr.inputs[l].T(), g)
			floats.Add(paramGrad[offsets[l]:offsets[l]+in*out], dw.RawMatrix().Data)

			db := paramGrad[offsets[l]+in*out : offsets[l]+in*out+out]
			rows, _ := g.Dims()
			for i := 0; i < rows; i++ {
				floats.Add(db, g.RawRowView(i))
			}
		}

		if l == 0 && !wantInput {
			return nil
		}

		rows, _ := g.Dims()
		gIn := mat.NewDense(rows, in, nil)
		gIn.Mul(g, w.T())
		if l == 0 {
			return gIn
		}

		pre := tr.pre[l-1]
		gIn.Apply(func(i, j int, v float64) float64 {
			return v * m.activation.derivative(pre.At(i, j))
		}, gIn)
		g = gIn
	}
	return nil
}

// Summary returns a human-readable description of the network.
func (m *MLP) Summary() string {
	summary := fmt.Sprintf("MLP %v (%s hidden)\n", m.sizes, m.activation)
	summary += fmt.Sprintf("Total Parameters: %d\n", len(m.params))
	for _, spec := range m.layout {
		summary += fmt.Sprintf("  %-12s %v\n", spec.Name, spec.Shape)
	}
	return summary
}

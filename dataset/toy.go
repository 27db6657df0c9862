package dataset

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// ErrUnknownDataset is returned for a toy dataset name that does not exist.
var ErrUnknownDataset = errors.New("unknown toy dataset")

// Toy dataset names.
const (
	EightGaussians      = "8gaussians"
	TwentyFiveGaussians = "25gaussians"
)

// Toy is a 2-D mixture of isotropic Gaussians with equal weights. All samples
// are drawn once at construction, so Get is deterministic for a given seed.
type Toy struct {
	name    string
	centers [][]float64
	std     float64
	samples []float64
}

// NewToy builds the named mixture with length samples.
func NewToy(name string, length int, seed uint64) (*Toy, error) {
	if length <= 0 {
		return nil, fmt.Errorf("toy dataset length must be positive, got %d", length)
	}

	var (
		centers [][]float64
		std     float64
	)
	switch name {
	case EightGaussians:
		std = 0.02
		for k := 0; k < 8; k++ {
			angle := float64(k) * math.Pi / 4
			centers = append(centers, []float64{2 * math.Cos(angle), 2 * math.Sin(angle)})
		}
	case TwentyFiveGaussians:
		std = 0.05
		for x := -4.0; x <= 4; x += 2 {
			for y := -4.0; y <= 4; y += 2 {
				centers = append(centers, []float64{x, y})
			}
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDataset, name)
	}

	rng := rand.New(rand.NewPCG(seed, 0x2545f4914f6cdd1d))
	samples := make([]float64, 2*length)
	for i := 0; i < length; i++ {
		c := centers[rng.IntN(len(centers))]
		samples[2*i] = c[0] + std*rng.NormFloat64()
		samples[2*i+1] = c[1] + std*rng.NormFloat64()
	}

	return &Toy{name: name, centers: centers, std: std, samples: samples}, nil
}

func (t *Toy) Name() string { return t.name }
func (t *Toy) Len() int     { return len(t.samples) / 2 }
func (t *Toy) Dim() int     { return 2 }

func (t *Toy) Get(idx int) ([]float64, error) {
	if idx < 0 || idx >= t.Len() {
		return nil, fmt.Errorf("index %d out of range [0, %d)", idx, t.Len())
	}
	return t.samples[2*idx : 2*idx+2 : 2*idx+2], nil
}

// Centers returns a copy of the mixture means.
func (t *Toy) Centers() [][]float64 {
	out := make([][]float64, len(t.centers))
	for i, c := range t.centers {
		out[i] = append([]float64(nil), c...)
	}
	return out
}

func (t *Toy) Std() float64 { return t.std }

// Cov returns the covariance shared by every mixture component.
func (t *Toy) Cov() *mat.SymDense {
	v := t.std * t.std
	return mat.NewSymDense(2, []float64{v, 0, 0, v})
}

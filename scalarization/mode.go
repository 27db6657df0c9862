package scalarization

import (
	"fmt"
	"math"
)

// Mode selects how the per-discriminator losses are collapsed into one
// generator update.
type Mode int

const (
	Vanilla Mode = iota
	Hyper
	GMAN
	GMANGrad
	LossDelta
	MGD
)

var modeNames = [...]string{
	Vanilla:   "vanilla",
	Hyper:     "hyper",
	GMAN:      "gman",
	GMANGrad:  "gman_grad",
	LossDelta: "loss_delta",
	MGD:       "mgd",
}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

// Valid reports whether m is one of the six known modes.
func (m Mode) Valid() bool {
	return m >= 0 && int(m) < len(modeNames)
}

// ParseMode maps a train-mode name (as accepted on the command line) to a Mode.
func ParseMode(name string) (Mode, error) {
	for i, n := range modeNames {
		if n == name {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMode, name)
}

// Modes returns every mode in declaration order.
func Modes() []Mode {
	out := make([]Mode, len(modeNames))
	for i := range out {
		out[i] = Mode(i)
	}
	return out
}

// Config holds the scalarization hyperparameters.
type Config struct {
	Mode Mode

	// Alpha is the softmax temperature for gman and gman_grad. Weights are
	// computed as softmax(x / Alpha).
	Alpha float64

	// NadirSlack is the fractional headroom kept above the worst observed
	// loss by the nadir point in hyper mode.
	NadirSlack float64

	// Frank-Wolfe limits for mgd with more than two discriminators.
	SolverMaxIterations int
	SolverTolerance     float64
}

// DefaultConfig returns the defaults used by the training drivers.
func DefaultConfig() Config {
	return Config{
		Mode:                Vanilla,
		Alpha:               0.8,
		NadirSlack:          1.5,
		SolverMaxIterations: 100,
		SolverTolerance:     1e-6,
	}
}

// Validate checks the configuration for the selected mode.
func (c Config) Validate() error {
	if !c.Mode.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidMode, c.Mode)
	}
	switch c.Mode {
	case Hyper:
		if !positiveFinite(c.NadirSlack) {
			return fmt.Errorf("%w: got %v", ErrInvalidNadirSlack, c.NadirSlack)
		}
	case GMAN, GMANGrad, LossDelta:
		if !positiveFinite(c.Alpha) {
			return fmt.Errorf("%w: got %v", ErrInvalidAlpha, c.Alpha)
		}
	case MGD:
		if c.SolverMaxIterations <= 0 {
			return fmt.Errorf("%w: got %d", ErrInvalidSolverLimit, c.SolverMaxIterations)
		}
	}
	return nil
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 1) && !math.IsNaN(v)
}

package scalarization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Input is what the training loop hands a strategy each iteration.
type Input struct {
	// Losses holds one generator-facing loss per discriminator.
	Losses []float64

	// Gradients holds one generator-parameter gradient per discriminator.
	// Only gman_grad and mgd read it.
	Gradients [][]float64
}

// Result is the combined training signal for one generator step.
type Result struct {
	// Loss is the effective scalar being minimised.
	Loss float64

	// Weights[i] is the coefficient on discriminator i: dLoss/dl_i for the
	// loss-based modes, the convex weight for the gradient-based ones.
	Weights []float64

	// Direction is the combined generator gradient. Only set by modes that
	// consume gradients; the others are back-propagated through Weights.
	Direction []float64
}

// State is the per-run bookkeeping threaded through every Combine call. It
// is a value: strategies never mutate the State they are given.
type State struct {
	Nadir      NadirPoint
	PrevLosses []float64
}

// Clone returns a deep copy of st.
func (st State) Clone() State {
	out := State{Nadir: st.Nadir.Clone()}
	if st.PrevLosses != nil {
		out.PrevLosses = append([]float64(nil), st.PrevLosses...)
	}
	return out
}

// Strategy collapses N discriminator signals into one generator update.
type Strategy interface {
	Mode() Mode
	NeedsGradients() bool
	Combine(in Input, st State) (Result, State, error)
}

// New returns the strategy for cfg.Mode.
func New(cfg Config) (Strategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case Vanilla:
		return vanilla{}, nil
	case Hyper:
		return hyper{slack: cfg.NadirSlack}, nil
	case GMAN:
		return gman{alpha: cfg.Alpha}, nil
	case GMANGrad:
		return gmanGrad{alpha: cfg.Alpha}, nil
	case LossDelta:
		return lossDelta{}, nil
	case MGD:
		return mgd{solver: NewMinNormSolver(cfg.SolverMaxIterations, cfg.SolverTolerance)}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidMode, cfg.Mode)
}

type vanilla struct{}

func (vanilla) Mode() Mode           { return Vanilla }
func (vanilla) NeedsGradients() bool { return false }

func (vanilla) Combine(in Input, st State) (Result, State, error) {
	if err := checkLosses(in.Losses); err != nil {
		return Result{}, st, err
	}
	if len(in.Losses) == 1 {
		return identity(in), st, nil
	}
	n := float64(len(in.Losses))
	w := make([]float64, len(in.Losses))
	for i := range w {
		w[i] = 1 / n
	}
	return Result{Loss: floats.Sum(in.Losses) / n, Weights: w}, st, nil
}

// hyper minimises -sum_i log(nadir_i - l_i), the negative log of the
// hypervolume dominated by the loss vector. dLoss/dl_i = 1/(nadir_i - l_i),
// so the discriminator closest to its bound pulls hardest.
type hyper struct {
	slack float64
}

func (hyper) Mode() Mode           { return Hyper }
func (hyper) NeedsGradients() bool { return false }

func (h hyper) Combine(in Input, st State) (Result, State, error) {
	if err := checkLosses(in.Losses); err != nil {
		return Result{}, st, err
	}
	nadir, err := st.Nadir.Update(in.Losses, h.slack)
	if err != nil {
		return Result{}, st, err
	}
	next := st.Clone()
	next.Nadir = nadir

	if len(in.Losses) == 1 {
		return identity(in), next, nil
	}

	res := Result{Weights: make([]float64, len(in.Losses))}
	for i, l := range in.Losses {
		gap := nadir.Values[i] - l
		res.Loss -= math.Log(gap)
		res.Weights[i] = 1 / gap
	}
	return res, next, nil
}

type gman struct {
	alpha float64
}

func (gman) Mode() Mode           { return GMAN }
func (gman) NeedsGradients() bool { return false }

func (g gman) Combine(in Input, st State) (Result, State, error) {
	if err := checkLosses(in.Losses); err != nil {
		return Result{}, st, err
	}
	if len(in.Losses) == 1 {
		return identity(in), st, nil
	}
	w := Softmax(in.Losses, g.alpha)
	return Result{Loss: floats.Dot(w, in.Losses), Weights: w}, st, nil
}

type gmanGrad struct {
	alpha float64
}

func (gmanGrad) Mode() Mode           { return GMANGrad }
func (gmanGrad) NeedsGradients() bool { return true }

func (g gmanGrad) Combine(in Input, st State) (Result, State, error) {
	if err := checkLosses(in.Losses); err != nil {
		return Result{}, st, err
	}
	if err := checkGradients(in.Gradients, len(in.Losses)); err != nil {
		return Result{}, st, err
	}
	if len(in.Losses) == 1 {
		return identity(in), st, nil
	}

	norms := make([]float64, len(in.Gradients))
	for i, grad := range in.Gradients {
		norms[i] = Norm(grad)
	}
	w := Softmax(norms, g.alpha)
	dir, err := CombineGradients(in.Gradients, w)
	if err != nil {
		return Result{}, st, err
	}
	return Result{Loss: floats.Dot(w, in.Losses), Weights: w, Direction: dir}, st, nil
}

// lossDelta weights each discriminator by how much its loss grew since the
// previous iteration. With no growth anywhere (or no history yet) it falls
// back to uniform weights.
type lossDelta struct{}

func (lossDelta) Mode() Mode           { return LossDelta }
func (lossDelta) NeedsGradients() bool { return false }

func (lossDelta) Combine(in Input, st State) (Result, State, error) {
	if err := checkLosses(in.Losses); err != nil {
		return Result{}, st, err
	}
	if st.PrevLosses != nil && len(st.PrevLosses) != len(in.Losses) {
		return Result{}, st, fmt.Errorf("%w: previous trace has %d losses, got %d", ErrDimensionMismatch, len(st.PrevLosses), len(in.Losses))
	}

	next := st.Clone()
	next.PrevLosses = append([]float64(nil), in.Losses...)

	if len(in.Losses) == 1 {
		return identity(in), next, nil
	}

	w := LossDeltaWeights(st.PrevLosses, in.Losses)
	return Result{Loss: floats.Dot(w, in.Losses), Weights: w}, next, nil
}

type mgd struct {
	solver *MinNormSolver
}

func (mgd) Mode() Mode           { return MGD }
func (mgd) NeedsGradients() bool { return true }

func (m mgd) Combine(in Input, st State) (Result, State, error) {
	if err := checkLosses(in.Losses); err != nil {
		return Result{}, st, err
	}
	if err := checkGradients(in.Gradients, len(in.Losses)); err != nil {
		return Result{}, st, err
	}
	if len(in.Losses) == 1 {
		return identity(in), st, nil
	}

	sol, err := m.solver.Solve(in.Gradients)
	if err != nil {
		return Result{}, st, err
	}
	dir, err := CombineGradients(in.Gradients, sol.Weights)
	if err != nil {
		return Result{}, st, err
	}
	return Result{Loss: floats.Dot(sol.Weights, in.Losses), Weights: sol.Weights, Direction: dir}, st, nil
}

// Softmax returns softmax(x / alpha). Small alpha approaches a one-hot on
// the largest entry; large alpha approaches the uniform distribution.
func Softmax(x []float64, alpha float64) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out
	}
	hi := floats.Max(x)
	for i, v := range x {
		out[i] = math.Exp((v - hi) / alpha)
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}

// LossDeltaWeights normalises max(0, cur_i - prev_i). A nil prev, or no
// positive delta, yields uniform weights.
func LossDeltaWeights(prev, cur []float64) []float64 {
	n := len(cur)
	w := make([]float64, n)
	total := 0.0
	if prev != nil {
		for i := range cur {
			if d := cur[i] - prev[i]; d > 0 {
				w[i] = d
				total += d
			}
		}
	}
	if total <= 0 {
		for i := range w {
			w[i] = 1 / float64(n)
		}
		return w
	}
	floats.Scale(1/total, w)
	return w
}

func identity(in Input) Result {
	res := Result{Loss: in.Losses[0], Weights: []float64{1}}
	if len(in.Gradients) == 1 {
		res.Direction = append([]float64(nil), in.Gradients[0]...)
	}
	return res
}

func checkLosses(losses []float64) error {
	if len(losses) == 0 {
		return ErrNoObjectives
	}
	if !allFinite(losses) {
		return ErrNonFinite
	}
	return nil
}

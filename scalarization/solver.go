package scalarization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"
)

// MinNormSolver finds the convex combination of a gradient set with the
// smallest Euclidean norm (a Pareto-stationary direction for multiple
// gradient descent).
//
// Two gradients are solved in closed form. Larger sets start from the best
// closed-form pair and are refined with away-step Frank-Wolfe over the
// simplex; after each step the face spanned by the current support is solved
// exactly when its minimiser is feasible. Iteration stops once the
// Frank-Wolfe gap w'Gw - min_k (Gw)_k falls to Tolerance.
// All inner products are float64 and go through the Gram matrix, so the
// gradients themselves are only read once.
type MinNormSolver struct {
	MaxIterations int
	Tolerance     float64
}

// SolverResult is the outcome of one Solve call.
type SolverResult struct {
	Weights    []float64
	Norm       float64 // ||sum_i w_i g_i||
	Iterations int
	Converged  bool
}

// NewMinNormSolver creates a solver with the given Frank-Wolfe limits.
func NewMinNormSolver(maxIterations int, tolerance float64) *MinNormSolver {
	if maxIterations <= 0 {
		maxIterations = 100
	}
	if tolerance < 0 {
		tolerance = 0
	}
	return &MinNormSolver{MaxIterations: maxIterations, Tolerance: tolerance}
}

// Solve returns the min-norm weights for grads. Hitting the iteration cap is
// not an error; the best weights seen are returned with Converged=false.
func (s *MinNormSolver) Solve(grads [][]float64) (SolverResult, error) {
	if err := checkGradients(grads, len(grads)); err != nil {
		return SolverResult{}, err
	}

	n := len(grads)
	gram := GramMatrix(grads)

	switch n {
	case 1:
		return SolverResult{
			Weights:   []float64{1},
			Norm:      math.Sqrt(gram.At(0, 0)),
			Converged: true,
		}, nil
	case 2:
		gamma, sq := minNormPair(gram.At(0, 0), gram.At(0, 1), gram.At(1, 1))
		return SolverResult{
			Weights:   []float64{gamma, 1 - gamma},
			Norm:      math.Sqrt(math.Max(sq, 0)),
			Converged: true,
		}, nil
	}
	return s.frankWolfe(gram), nil
}

func (s *MinNormSolver) frankWolfe(gram *mat.SymDense) SolverResult {
	n := gram.SymmetricDim()

	w := make([]float64, n)
	best := math.Inf(1)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			gamma, sq := minNormPair(gram.At(i, i), gram.At(i, j), gram.At(j, j))
			if sq < best {
				best = sq
				for k := range w {
					w[k] = 0
				}
				w[i] = gamma
				w[j] = 1 - gamma
			}
		}
	}

	wv := mat.NewVecDense(n, w)
	gw := mat.NewVecDense(n, nil)
	res := SolverResult{}

	maxIter := s.MaxIterations
	if maxIter <= 0 {
		maxIter = 100
	}
	for it := 0; it < maxIter; it++ {
		res.Iterations = it + 1

		gw.MulVec(gram, wv)
		f := mat.Dot(wv, gw)

		// t is the Frank-Wolfe vertex, a the away vertex on the support.
		t, a := 0, -1
		for k := 0; k < n; k++ {
			if gw.AtVec(k) < gw.AtVec(t) {
				t = k
			}
			if w[k] > 0 && (a < 0 || gw.AtVec(k) > gw.AtVec(a)) {
				a = k
			}
		}

		// f - min_k (Gw)_k bounds the distance to the optimum.
		gap := f - gw.AtVec(t)
		if gap <= s.Tolerance {
			res.Converged = true
			break
		}

		if away := gw.AtVec(a) - f; gap >= away || w[a] >= 1 {
			// d = e_t - w
			step := lineSearch(gw.AtVec(t)-f, gram.At(t, t)-2*gw.AtVec(t)+f, 1)
			applyStep(w, 1-step, t)
		} else {
			// d = w - e_a
			maxStep := w[a] / (1 - w[a])
			step := lineSearch(f-gw.AtVec(a), f-2*gw.AtVec(a)+gram.At(a, a), maxStep)
			for k := range w {
				w[k] *= 1 + step
			}
			w[a] -= step
			if step >= maxStep || w[a] < 0 {
				w[a] = 0
			}
		}

		refineOnSupport(gram, w)
	}

	res.Weights = append([]float64(nil), w...)
	res.Norm = math.Sqrt(math.Max(mat.Inner(wv, gram, wv), 0))
	return res
}

// lineSearch minimises f(w + step*d) = f + 2*step*dGw + step^2*dGd over
// [0, maxStep].
func lineSearch(dGw, dGd, maxStep float64) float64 {
	if dGw >= 0 {
		return 0
	}
	if dGd <= 0 {
		return maxStep
	}
	return math.Min(maxStep, -dGw/dGd)
}

// refineOnSupport replaces w with the exact min-norm point of the face
// spanned by its support when that point lies inside the face and is no
// worse than w.
func refineOnSupport(gram *mat.SymDense, w []float64) {
	var support []int
	for k, v := range w {
		if v > 0 {
			support = append(support, k)
		}
	}
	m := len(support)
	if m < 2 {
		return
	}

	sub := mat.NewSymDense(m, nil)
	for i, p := range support {
		for j := i; j < m; j++ {
			sub.SetSym(i, j, gram.At(p, support[j]))
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(sub) {
		return
	}
	ones := make([]float64, m)
	for i := range ones {
		ones[i] = 1
	}
	var u mat.VecDense
	if err := chol.SolveVecTo(&u, mat.NewVecDense(m, ones)); err != nil {
		return
	}

	sum := 0.0
	for i := 0; i < m; i++ {
		if u.AtVec(i) <= 0 {
			return
		}
		sum += u.AtVec(i)
	}
	candidate := make([]float64, len(w))
	for i, p := range support {
		candidate[p] = u.AtVec(i) / sum
	}

	cv := mat.NewVecDense(len(w), candidate)
	wv := mat.NewVecDense(len(w), w)
	if mat.Inner(cv, gram, cv) <= mat.Inner(wv, gram, wv) {
		copy(w, candidate)
	}
}

// applyStep moves w to gamma*w + (1-gamma)*e_t.
func applyStep(w []float64, gamma float64, t int) {
	for k := range w {
		w[k] *= gamma
	}
	w[t] += 1 - gamma
}

// minNormPair minimises ||gamma*a + (1-gamma)*b||^2 over gamma in [0,1] given
// <a,a>, <a,b> and <b,b>. It returns gamma (the weight on a) and the squared
// norm at the minimum.
func minNormPair(aa, ab, bb float64) (gamma, sq float64) {
	if ab >= aa {
		return 1, aa
	}
	if ab >= bb {
		return 0, bb
	}
	gamma = (bb - ab) / (aa + bb - 2*ab)
	gamma = math.Min(1, math.Max(0, gamma))
	sq = gamma*gamma*aa + 2*gamma*(1-gamma)*ab + (1-gamma)*(1-gamma)*bb
	return gamma, sq
}

// GramMatrix returns G[i][j] = <g_i, g_j> computed in float64.
func GramMatrix(grads [][]float64) *mat.SymDense {
	n := len(grads)
	gram := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		gi := vector(grads[i])
		for j := i; j < n; j++ {
			gram.SetSym(i, j, blas64.Dot(gi, vector(grads[j])))
		}
	}
	return gram
}

// CombineGradients returns sum_i weights[i]*grads[i].
func CombineGradients(grads [][]float64, weights []float64) ([]float64, error) {
	if err := checkGradients(grads, len(weights)); err != nil {
		return nil, err
	}
	out := make([]float64, len(grads[0]))
	dst := vector(out)
	for i, g := range grads {
		blas64.Axpy(weights[i], vector(g), dst)
	}
	return out, nil
}

// Norm returns the Euclidean norm of g.
func Norm(g []float64) float64 {
	if len(g) == 0 {
		return 0
	}
	return blas64.Nrm2(vector(g))
}

func vector(data []float64) blas64.Vector {
	return blas64.Vector{N: len(data), Data: data, Inc: 1}
}

func checkGradients(grads [][]float64, want int) error {
	if len(grads) == 0 {
		return ErrNoObjectives
	}
	if len(grads) != want {
		return fmt.Errorf("%w: %d gradients for %d objectives", ErrGradientMismatch, len(grads), want)
	}
	dim := len(grads[0])
	for i, g := range grads {
		if len(g) != dim {
			return fmt.Errorf("%w: gradient %d has %d components, want %d", ErrGradientMismatch, i, len(g), dim)
		}
		if !allFinite(g) {
			return fmt.Errorf("%w: gradient %d", ErrNonFinite, i)
		}
	}
	return nil
}

func allFinite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

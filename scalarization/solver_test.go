package scalarization

import (
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestSolverOrthogonalUnitGradients(t *testing.T) {
	s := NewMinNormSolver(100, 1e-9)
	grads := [][]float64{{1, 0}, {0, 1}}
	res, err := s.Solve(grads)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	assertFloat(t, "w1", res.Weights[0], 0.5)
	assertFloat(t, "w2", res.Weights[1], 0.5)
	assertFloat(t, "norm", res.Norm, 1/math.Sqrt2)

	dir, err := CombineGradients(grads, res.Weights)
	if err != nil {
		t.Fatalf("CombineGradients failed: %v", err)
	}
	assertFloat(t, "combined norm", Norm(dir), 1/math.Sqrt2)
}

func TestSolverDominatingGradient(t *testing.T) {
	s := NewMinNormSolver(100, 1e-9)

	// <g1,g2> = 2 >= ||g1||^2 = 1
	res, err := s.Solve([][]float64{{1, 0}, {2, 1}})
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	if res.Weights[0] != 1 || res.Weights[1] != 0 {
		t.Errorf("Expected weights [1 0], got %v", res.Weights)
	}

	// Mirror case: g2 dominates.
	res, err = s.Solve([][]float64{{2, 1}, {1, 0}})
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	if res.Weights[0] != 0 || res.Weights[1] != 1 {
		t.Errorf("Expected weights [0 1], got %v", res.Weights)
	}
}

func TestSolverIdenticalGradients(t *testing.T) {
	s := NewMinNormSolver(100, 1e-9)
	res, err := s.Solve([][]float64{{0, 0}, {0, 0}})
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	if math.IsNaN(res.Weights[0]) || res.Weights[0]+res.Weights[1] != 1 {
		t.Errorf("Expected valid simplex weights, got %v", res.Weights)
	}
}

func TestSolverManyGradients(t *testing.T) {
	s := NewMinNormSolver(100, 1e-12)

	// Three unit vectors 120 degrees apart: the origin is in the hull.
	grads := [][]float64{
		{1, 0},
		{-0.5, math.Sqrt(3) / 2},
		{-0.5, -math.Sqrt(3) / 2},
	}
	res, err := s.Solve(grads)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	sum := 0.0
	for _, w := range res.Weights {
		if w < 0 {
			t.Errorf("Negative weight %v", w)
		}
		sum += w
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("Expected weights on the simplex, sum %v", sum)
	}
	if res.Norm > 1e-3 {
		t.Errorf("Expected near-zero min norm, got %v", res.Norm)
	}
	if res.Iterations == 0 || res.Iterations > 100 {
		t.Errorf("Expected bounded iterations, got %d", res.Iterations)
	}
}

func TestSolverNeverWorseThanBestPair(t *testing.T) {
	s := NewMinNormSolver(50, 1e-12)
	grads := [][]float64{
		{1, 2, 0},
		{0, 1, 3},
		{2, 0, 1},
		{1, 1, 1},
	}
	res, err := s.Solve(grads)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	dir, _ := CombineGradients(grads, res.Weights)
	if math.Abs(Norm(dir)-res.Norm) > 1e-9 {
		t.Errorf("Reported norm %v does not match combination norm %v", res.Norm, Norm(dir))
	}

	gram := GramMatrix(grads)
	for i := 0; i < len(grads); i++ {
		for j := i + 1; j < len(grads); j++ {
			_, sq := minNormPair(gram.At(i, i), gram.At(i, j), gram.At(j, j))
			if res.Norm > math.Sqrt(sq)+1e-12 {
				t.Errorf("Solver norm %v worse than pair (%d,%d) norm %v", res.Norm, i, j, math.Sqrt(sq))
			}
		}
	}
}

func TestSolverIterationCap(t *testing.T) {
	s := NewMinNormSolver(1, 0)
	grads := [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	res, err := s.Solve(grads)
	if err != nil {
		t.Fatalf("Expected no error at the cap, got %v", err)
	}
	if res.Iterations != 1 {
		t.Errorf("Expected 1 iteration, got %d", res.Iterations)
	}
	if len(res.Weights) != 3 {
		t.Errorf("Expected 3 weights, got %v", res.Weights)
	}
}

// minNormBySupport finds the exact min-norm point by trying every support set
// and keeping the best feasible stationary point.
func minNormBySupport(gram *mat.SymDense) float64 {
	n := gram.SymmetricDim()
	best := math.Inf(1)
	for mask := 1; mask < 1<<n; mask++ {
		var support []int
		for k := 0; k < n; k++ {
			if mask&(1<<k) != 0 {
				support = append(support, k)
			}
		}
		m := len(support)
		sub := mat.NewSymDense(m, nil)
		for i, p := range support {
			for j := i; j < m; j++ {
				sub.SetSym(i, j, gram.At(p, support[j]))
			}
		}
		ones := mat.NewVecDense(m, nil)
		for i := 0; i < m; i++ {
			ones.SetVec(i, 1)
		}
		var u mat.VecDense
		if err := u.SolveVec(sub, ones); err != nil {
			continue
		}
		sum := mat.Sum(&u)
		feasible := sum > 0
		for i := 0; i < m && feasible; i++ {
			feasible = u.AtVec(i) >= 0
		}
		if !feasible {
			continue
		}
		w := mat.NewVecDense(n, nil)
		for i, p := range support {
			w.SetVec(p, u.AtVec(i)/sum)
		}
		if sq := mat.Inner(w, gram, w); sq < best {
			best = sq
		}
	}
	return best
}

func TestSolverLargePanelsReachMinimum(t *testing.T) {
	cfg := DefaultConfig()
	s := NewMinNormSolver(cfg.SolverMaxIterations, cfg.SolverTolerance)
	rng := rand.New(rand.NewPCG(7, 11))

	for n := 3; n <= 7; n++ {
		for trial := 0; trial < 40; trial++ {
			grads := make([][]float64, n)
			for i := range grads {
				grads[i] = make([]float64, 10)
				for j := range grads[i] {
					grads[i][j] = rng.NormFloat64()
				}
			}

			res, err := s.Solve(grads)
			if err != nil {
				t.Fatalf("Solve failed: %v", err)
			}
			if !res.Converged {
				t.Errorf("n=%d trial %d: expected convergence within %d iterations, stopped after %d",
					n, trial, cfg.SolverMaxIterations, res.Iterations)
			}

			sum := 0.0
			for _, w := range res.Weights {
				if w < 0 {
					t.Errorf("n=%d trial %d: negative weight %v", n, trial, w)
				}
				sum += w
			}
			if math.Abs(sum-1) > 1e-9 {
				t.Errorf("n=%d trial %d: expected weights on the simplex, sum %v", n, trial, sum)
			}

			want := minNormBySupport(GramMatrix(grads))
			if got := res.Norm * res.Norm; got-want > cfg.SolverTolerance+1e-12 {
				t.Errorf("n=%d trial %d: expected squared norm %v, got %v", n, trial, want, got)
			}
		}
	}
}

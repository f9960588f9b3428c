package tripm

import (
	"math"
	"testing"

	"github.com/bbopt/nomad-sub005/qpmodel"
	"github.com/stretchr/testify/require"
)

func buildUnconstrainedQuadratic(t *testing.T) qpmodel.Model {
	t.Helper()
	// f(x) = x1^2 + x2^2: alpha0=0, alphaL=(0,0), diag=(2,2), lower=0.
	data := []float64{0, 0, 0, 2, 2, 0}
	m, err := qpmodel.New(2, 0, data)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func buildHalfPlaneConstrained(t *testing.T) qpmodel.Model {
	t.Helper()
	data := []float64{
		0, 0, 0, 2, 2, 0, // objective x1^2+x2^2
		1, -1, -1, 0, 0, 0, // constraint 1 - x1 - x2 <= 0
	}
	m, err := qpmodel.New(2, 1, data)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

// Scenario (a): pure unconstrained quadratic -- the barrier reduces to
// the box constraints alone, and the objective must not increase.
func TestSolveUnconstrainedQuadraticDecreasesObjective(t *testing.T) {
	model := buildUnconstrainedQuadratic(t)
	x0 := []float64{2.0, 2.0}
	l := []float64{-5, -5}
	u := []float64{5, 5}

	res, err := Solve(model, x0, l, u, DefaultSettings())
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if res.Status != Solved && res.Status != MaxIterReached {
		t.Fatalf("Status = %v", res.Status)
	}
	if got, want := model.Obj(res.X), model.Obj(x0); got > want+1e-6 {
		t.Errorf("Obj(x*) = %v, not <= Obj(x0) = %v", got, want)
	}
	for i := range res.X {
		if res.X[i] < l[i] || res.X[i] > u[i] {
			t.Errorf("x[%d] = %v out of bounds", i, res.X[i])
		}
	}
}

// Scenario (b): an active inequality constraint -- the returned point
// must respect it (to feasibility tolerance) and lie within bounds.
func TestSolveActiveInequalityStaysFeasible(t *testing.T) {
	model := buildHalfPlaneConstrained(t)
	x0 := []float64{2.0, 2.0}
	l := []float64{-5, -5}
	u := []float64{5, 5}

	res, err := Solve(model, x0, l, u, DefaultSettings())
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if res.Status != Solved && res.Status != MaxIterReached {
		t.Fatalf("Status = %v", res.Status)
	}
	c := model.Cons(res.X)
	for i, v := range c {
		if v > 1e-3 {
			t.Errorf("constraint %d violated: c=%v", i, v)
		}
	}
	for i := range res.X {
		if res.X[i] < l[i] || res.X[i] > u[i] {
			t.Errorf("x[%d] = %v out of bounds", i, res.X[i])
		}
	}
	if len(res.Lambda) != 1 {
		t.Errorf("len(Lambda) = %d, want 1", len(res.Lambda))
	}
}

// Property 10/11: when bounds are degenerately tight the solver reports
// TightVarBounds rather than attempting an ill-posed solve.
func TestSolveTightVarBounds(t *testing.T) {
	model := buildUnconstrainedQuadratic(t)
	res, err := Solve(model, []float64{0, 0}, []float64{0, 0}, []float64{1e-10, 1e-10}, DefaultSettings())
	require.NoError(t, err)
	require.Equal(t, TightVarBounds, res.Status)
}

// Scenario (c): a partially-tight box -- one coordinate's bounds are
// tight to within the 1e-8 rule while the others remain free. Solve
// must reduce the model to the free subspace, solve there, and pin the
// fixed coordinate to its bound midpoint, rather than either reporting
// TightVarBounds or running the barrier over the full dimension.
func TestSolvePartiallyTightVarBounds(t *testing.T) {
	// f(x) = x1^2 + x2^2 + x3^2.
	data := []float64{0, 0, 0, 0, 2, 2, 2, 0, 0, 0}
	model, err := qpmodel.New(3, 0, data)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	x0 := []float64{2.0, 2.0, 0.0}
	l := []float64{-5, -5, 0}
	u := []float64{5, 5, 1e-10}

	res, err := Solve(model, x0, l, u, DefaultSettings())
	require.NoError(t, err)
	if res.Status != Solved && res.Status != MaxIterReached {
		t.Fatalf("Status = %v, want Solved or MaxIterReached", res.Status)
	}
	if len(res.X) != 3 {
		t.Fatalf("len(X) = %d, want 3", len(res.X))
	}
	wantFixed := 0.5 * (l[2] + u[2])
	if math.Abs(res.X[2]-wantFixed) > 1e-12 {
		t.Errorf("X[2] = %v, want bound midpoint %v", res.X[2], wantFixed)
	}
	for i := 0; i < 2; i++ {
		if res.X[i] < l[i] || res.X[i] > u[i] {
			t.Errorf("X[%d] = %v out of bounds", i, res.X[i])
		}
		if math.Abs(res.X[i]) > 1e-3 {
			t.Errorf("X[%d] = %v, want near 0 (minimizer of the free subspace)", i, res.X[i])
		}
	}
}

func TestSolveDimensionMismatch(t *testing.T) {
	model := buildUnconstrainedQuadratic(t)
	res, err := Solve(model, []float64{0, 0, 0}, []float64{-1, -1}, []float64{1, 1}, DefaultSettings())
	require.NoError(t, err)
	require.Equal(t, MatrixDimensionsFailure, res.Status)
}

func TestSolveBoundsError(t *testing.T) {
	model := buildUnconstrainedQuadratic(t)
	res, err := Solve(model, []float64{0, 0}, []float64{1, -1}, []float64{-1, 1}, DefaultSettings())
	require.NoError(t, err)
	require.Equal(t, BoundsError, res.Status)
}

// Scenario (e): a direction of negative curvature along the only free
// coordinate must still terminate with a bounded step, never a crash.
func TestSolveNegativeCurvatureTerminates(t *testing.T) {
	// f(x) = -x1^2 + x2^2 is unbounded below along x1, so the box alone
	// must absorb the negative-curvature direction.
	data := []float64{0, 0, 0, -2, 2, 0}
	model, err := qpmodel.New(2, 0, data)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := Solve(model, []float64{0.1, 0.1}, []float64{-1, -1}, []float64{1, 1}, DefaultSettings())
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if res.Status != Solved && res.Status != MaxIterReached {
		t.Fatalf("Status = %v", res.Status)
	}
	for i := range res.X {
		if res.X[i] < -1-1e-6 || res.X[i] > 1+1e-6 {
			t.Errorf("x[%d] = %v escaped bounds", i, res.X[i])
		}
	}
}

func TestDefaultSettingsAreWellFormed(t *testing.T) {
	s := DefaultSettings()
	if s.MuInit <= 0 || s.MuDecrease <= 0 || s.MuDecrease >= 1 {
		t.Fatalf("invalid default settings: %+v", s)
	}
	if math.IsNaN(s.AtolOpt) || math.IsNaN(s.AtolFeas) {
		t.Fatalf("NaN tolerance in default settings")
	}
}

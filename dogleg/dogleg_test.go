package dogleg

import (
	"math"
	"testing"

	"github.com/bbopt/nomad-sub005/linalg"
	"github.com/stretchr/testify/require"
)

func norm(v []float64) float64 { return norm2(v) }

func TestSolveZeroResidual(t *testing.T) {
	a, _ := linalg.WrapMatrix(2, 2, []float64{1, 0, 0, 1})
	res, err := Solve(a, []float64{0, 0}, 1.0)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if res.Status != Solved {
		t.Fatalf("Status = %v, want Solved", res.Status)
	}
	for _, v := range res.X {
		if v != 0 {
			t.Errorf("expected zero solution when b==0, got %v", res.X)
		}
	}
}

func TestSolveParamError(t *testing.T) {
	a, _ := linalg.WrapMatrix(2, 2, []float64{1, 0, 0, 1})
	res, err := Solve(a, []float64{1, 1}, 1e-9)
	require.NoError(t, err)
	require.Equal(t, TRParamError, res.Status)
}

func TestSolveDimensionMismatch(t *testing.T) {
	a, _ := linalg.WrapMatrix(2, 2, []float64{1, 0, 0, 1})
	res, err := Solve(a, []float64{1, 1, 1}, 1.0)
	require.NoError(t, err)
	require.Equal(t, MatrixDimensionsFailure, res.Status)
}

// Property 5: monotonicity -- ||Ax+b|| <= ||b||, and ||x|| <= delta+eps.
func TestMonotonicityAndTrustRegionBound(t *testing.T) {
	a, _ := linalg.WrapMatrix(3, 2, []float64{2, 0, 0, 3, 1, 1})
	b := []float64{4, 9, 2}
	delta := 1.0
	res, err := Solve(a, b, delta)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if res.Status != Solved {
		t.Fatalf("Status = %v", res.Status)
	}
	ax, _ := linalg.MulVec(a, linalg.WrapVector(res.X))
	resid := make([]float64, 3)
	for i := range resid {
		resid[i] = ax.AtVec(i) + b[i]
	}
	if norm(resid) > norm(b)+1e-9 {
		t.Errorf("||Ax+b|| = %v > ||b|| = %v", norm(resid), norm(b))
	}
	if norm(res.X) > delta+1e-13*delta {
		t.Errorf("||x|| = %v exceeds delta = %v", norm(res.X), delta)
	}
}

// Property 6: unconstrained recovery when delta is large relative to the
// Newton step.
func TestUnconstrainedRecovery(t *testing.T) {
	a, _ := linalg.WrapMatrix(3, 2, []float64{2, 0, 0, 3, 1, 1})
	b := []float64{4, 9, 2}
	// First solve with a very large delta to discover ||x_N||.
	big, err := Solve(a, b, 1e10)
	if err != nil || big.Status != Solved {
		t.Fatalf("baseline solve failed: %v %v", err, big.Status)
	}
	normN := norm(big.X)

	res, err := Solve(a, b, 1.5*normN)
	if err != nil || res.Status != Solved {
		t.Fatalf("Solve: %v %v", err, res.Status)
	}
	for i := range res.X {
		if diff := math.Abs(res.X[i] - big.X[i]); diff > 1e-8 {
			t.Errorf("x[%d] = %v, want %v (unconstrained)", i, res.X[i], big.X[i])
		}
	}
}

func TestDoglegSegmentTaken(t *testing.T) {
	// Construct a case where the Cauchy point is inside delta but the
	// Newton point is outside, forcing the dogleg segment branch.
	a, _ := linalg.WrapMatrix(2, 2, []float64{1, 0, 0, 100})
	b := []float64{1, 1}
	res, err := Solve(a, b, 0.5)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if res.Status != Solved {
		t.Fatalf("Status = %v, want Solved", res.Status)
	}
	if norm(res.X) > 0.5+1e-9 {
		t.Errorf("||x|| = %v > delta = 0.5", norm(res.X))
	}
}

package linalg

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestProductAndTranspose(t *testing.T) {
	a, _ := WrapMatrix(2, 3, []float64{1, 2, 3, 4, 5, 6})
	b, _ := WrapMatrix(3, 2, []float64{7, 8, 9, 10, 11, 12})
	got, err := Product(a, b)
	if err != nil {
		t.Fatalf("Product: %v", err)
	}
	want := []float64{58, 64, 139, 154}
	for i, w := range want {
		r, c := i/2, i%2
		if math.Abs(got.At(r, c)-w) > 1e-9 {
			t.Errorf("At(%d,%d) = %v, want %v", r, c, got.At(r, c), w)
		}
	}

	at := a.Transpose()
	ar, ac := at.Dims()
	if ar != 3 || ac != 2 {
		t.Fatalf("Transpose dims = (%d,%d), want (3,2)", ar, ac)
	}
}

func TestProductDimensionMismatch(t *testing.T) {
	a := NewMatrix(2, 3)
	b := NewMatrix(2, 2)
	if _, err := Product(a, b); err != ErrDimensionMismatch {
		t.Fatalf("Product err = %v, want ErrDimensionMismatch", err)
	}
}

func TestNorms(t *testing.T) {
	v := WrapVector([]float64{3, 4})
	if got := Norm2(v); math.Abs(got-5) > 1e-12 {
		t.Errorf("Norm2 = %v, want 5", got)
	}
	if got := NormSquare(v); math.Abs(got-25) > 1e-12 {
		t.Errorf("NormSquare = %v, want 25", got)
	}
	v2 := WrapVector([]float64{-1, 7, -3})
	if got := NormInf(v2); math.Abs(got-7) > 1e-12 {
		t.Errorf("NormInf = %v, want 7", got)
	}
}

func TestDotDimensionMismatch(t *testing.T) {
	a := NewVector(2)
	b := NewVector(3)
	if _, err := Dot(a, b); err != ErrDimensionMismatch {
		t.Fatalf("Dot err = %v, want ErrDimensionMismatch", err)
	}
}

func TestSolveLeastSquaresSVDOverdetermined(t *testing.T) {
	// Overdetermined consistent system: x = (1, 2) exactly satisfies it.
	a, _ := WrapMatrix(3, 2, []float64{1, 0, 0, 1, 1, 1})
	b := WrapVector([]float64{1, 2, 3})
	x, err := SolveLeastSquaresSVD(a, b)
	if err != nil {
		t.Fatalf("SolveLeastSquaresSVD: %v", err)
	}
	want := []float64{1, 2}
	got := x.RawVector()
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-8)); diff != "" {
		t.Errorf("solution mismatch (-want +got):\n%s", diff)
	}
}

func TestQRFactorizeDispatchesOnShape(t *testing.T) {
	tall, _ := WrapMatrix(3, 2, []float64{1, 0, 0, 1, 1, 1})
	_, _, transposed, err := QRFactorize(tall)
	if err != nil {
		t.Fatalf("QRFactorize(tall): %v", err)
	}
	if transposed {
		t.Errorf("QRFactorize(tall) should not transpose")
	}

	wide, _ := WrapMatrix(2, 3, []float64{1, 0, 1, 0, 1, 1})
	_, _, transposed, err = QRFactorize(wide)
	if err != nil {
		t.Fatalf("QRFactorize(wide): %v", err)
	}
	if !transposed {
		t.Errorf("QRFactorize(wide) should transpose")
	}
}

func TestLDLtSolvesIndefiniteSystem(t *testing.T) {
	// A saturated KKT-style matrix [[1,0,1],[0,1,1],[1,1,0]] (indefinite).
	a, _ := WrapMatrix(3, 3, []float64{
		1, 0, 1,
		0, 1, 1,
		1, 1, 0,
	})
	fac, err := LDLtFactorize(a)
	if err != nil {
		t.Fatalf("LDLtFactorize: %v", err)
	}
	rhs := WrapVector([]float64{1, 1, 0})
	x, err := fac.Solve(rhs)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	// Verify Ax = rhs.
	got, err := MulVec(a, x)
	if err != nil {
		t.Fatalf("MulVec: %v", err)
	}
	for i := 0; i < 3; i++ {
		if math.Abs(got.AtVec(i)-rhs.AtVec(i)) > 1e-8 {
			t.Errorf("residual at %d = %v, want 0", i, got.AtVec(i)-rhs.AtVec(i))
		}
	}
}

// TestLDLtSolvesWithPivotSwap exercises a 4x4 KKT-style matrix
// [G A^T; A 0] with G = diag(4,2,6) and A = [1,1,1] (the data of pcg's
// constraint-preservation test), which triggers partial-pivot swaps,
// including one mid-factorization. The permutation applied to the
// working matrix must be undone exactly in Solve.
func TestLDLtSolvesWithPivotSwap(t *testing.T) {
	a, _ := WrapMatrix(4, 4, []float64{
		4, 0, 0, 1,
		0, 2, 0, 1,
		0, 0, 6, 1,
		1, 1, 1, 0,
	})
	fac, err := LDLtFactorize(a)
	if err != nil {
		t.Fatalf("LDLtFactorize: %v", err)
	}
	rhs := WrapVector([]float64{-1, 2, -0.5, 0.5})
	x, err := fac.Solve(rhs)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	got, err := MulVec(a, x)
	if err != nil {
		t.Fatalf("MulVec: %v", err)
	}
	for i := 0; i < 4; i++ {
		if math.Abs(got.AtVec(i)-rhs.AtVec(i)) > 1e-8 {
			t.Errorf("residual at %d = %v, want 0 (A x = %v, rhs = %v)", i, got.AtVec(i)-rhs.AtVec(i), got.RawVector(), rhs.RawVector())
		}
	}
}

func TestLDLtFactorizeDimensionMismatch(t *testing.T) {
	m := NewMatrix(2, 3)
	if _, err := LDLtFactorize(m); err != ErrDimensionMismatch {
		t.Fatalf("LDLtFactorize err = %v, want ErrDimensionMismatch", err)
	}
}

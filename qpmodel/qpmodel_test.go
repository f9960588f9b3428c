package qpmodel

import (
	"math"
	"testing"
)

// buildSample returns a 2-variable, 1-constraint model:
//
//	f(x)  = (x1-3)^2 + (x2+1)^2       = 10 -6x1+2x2 + x1^2+x2^2
//	c1(x) = x1 + x2 - 1
func buildSample(t *testing.T) Model {
	t.Helper()
	n, m := 2, 1
	data := make([]float64, (1+m)*NParams(n))
	q, err := New(n, m, data)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	q.setAlpha0(0, 10)
	q.setAlphaL(0, 0, -6)
	q.setAlphaL(0, 1, 2)
	q.setHEntry(0, 0, 0, 2)
	q.setHEntry(0, 1, 1, 2)
	q.setHEntry(0, 1, 0, 0)

	q.setAlpha0(1, -1)
	q.setAlphaL(1, 0, 1)
	q.setAlphaL(1, 1, 1)
	return q
}

func TestObjAndGrad(t *testing.T) {
	q := buildSample(t)
	x := []float64{1, 2}
	f := q.Obj(x)
	want := float64((1-3)*(1-3) + (2+1)*(2+1))
	if math.Abs(f-want) > 1e-9 {
		t.Errorf("Obj = %v, want %v", f, want)
	}
	g := q.ObjGrad(x)
	wantG := []float64{2 * (1 - 3), 2 * (2 + 1)}
	for i := range g {
		if math.Abs(g[i]-wantG[i]) > 1e-9 {
			t.Errorf("ObjGrad[%d] = %v, want %v", i, g[i], wantG[i])
		}
	}
}

func TestConsAndJacobian(t *testing.T) {
	q := buildSample(t)
	x := []float64{1, 2}
	c := q.Cons(x)
	if math.Abs(c[0]-2) > 1e-9 {
		t.Errorf("Cons[0] = %v, want 2", c[0])
	}
	jac := q.ConsJacobian(x)
	if jac.At(0, 0) != 1 || jac.At(0, 1) != 1 {
		t.Errorf("ConsJacobian row = (%v,%v), want (1,1)", jac.At(0, 0), jac.At(0, 1))
	}
}

// Property 1: lagrangianGrad == sigma*objGrad - consJacobian^T.lambda.
func TestLagrangianGradIdentity(t *testing.T) {
	q := buildSample(t)
	x := []float64{0.3, -1.7}
	lambda := []float64{-0.5}
	sigma := 1.0

	got := q.LagrangianGrad(x, lambda, sigma)
	objGrad := q.ObjGrad(x)
	jac := q.ConsJacobian(x)
	want := make([]float64, 2)
	for i := 0; i < 2; i++ {
		want[i] = sigma*objGrad[i] - jac.At(0, i)*lambda[0]
	}
	for i := range got {
		if diff := math.Abs(got[i] - want[i]); diff > 1e-12*(1+math.Abs(want[i])) {
			t.Errorf("LagrangianGrad[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

// Property 2: consJacobian matches a finite-difference gradient of Cons.
func TestConsJacobianFiniteDifference(t *testing.T) {
	q := buildSample(t)
	x := []float64{0.4, 1.1}
	jac := q.ConsJacobian(x)
	h := 1e-6
	for j := 0; j < 2; j++ {
		xp := append([]float64(nil), x...)
		xm := append([]float64(nil), x...)
		xp[j] += h
		xm[j] -= h
		fd := (q.Cons(xp)[0] - q.Cons(xm)[0]) / (2 * h)
		if math.Abs(fd-jac.At(0, j)) > 1e-6 {
			t.Errorf("finite-difference jac[%d] = %v, analytic = %v", j, fd, jac.At(0, j))
		}
	}
}

// Property 3: reducing fixes a coordinate and matches direct substitution.
func TestReduceMatchesSubstitution(t *testing.T) {
	q := buildSample(t)
	full := []float64{2.5, -0.3}
	fixed := []bool{false, true}

	reduced, err := q.Reduce(full, fixed)
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	freeX := []float64{full[0]}
	got := reduced.Obj(freeX)
	want := q.Obj(full)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("reduced Obj = %v, want %v", got, want)
	}

	gotC := reduced.Cons(freeX)[0]
	wantC := q.Cons(full)[0]
	if math.Abs(gotC-wantC) > 1e-9 {
		t.Errorf("reduced Cons = %v, want %v", gotC, wantC)
	}
}

// Property 4: the Hessian accessor is symmetric by construction.
func TestHessianSymmetric(t *testing.T) {
	n, m := 3, 0
	data := make([]float64, (1+m)*NParams(n))
	q, err := New(n, m, data)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	q.setHEntry(0, 2, 0, 1.5)
	q.setHEntry(0, 2, 1, -2.25)
	q.setHEntry(0, 1, 0, 0.75)

	h := q.Hessian(0, []float64{0, 0, 0})
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if h.At(i, j) != h.At(j, i) {
				t.Errorf("Hessian(%d,%d)=%v != Hessian(%d,%d)=%v", i, j, h.At(i, j), j, i, h.At(j, i))
			}
		}
	}
}

func TestNewRejectsWrongLength(t *testing.T) {
	if _, err := New(2, 1, make([]float64, 3)); err == nil {
		t.Fatalf("expected dimension error")
	}
}

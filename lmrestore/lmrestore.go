// Package lmrestore implements the Levenberg-Marquardt feasibility
// restoration solver of spec.md §4.5: drives min ||c(x)+s||^2 subject to
// l <= x <= u, s >= 0 down from a starting augmented point XS = (x, s),
// via trust-region LM steps built on dogleg, with the fraction-to-
// boundary backtracking and "magic" slack reset spec.md prescribes.
//
// This package mirrors the shape of the teacher's own
// optimize/nlls.LM: a Settings struct with a DefaultSettings
// constructor (see optimize/nlls.defaultSettings), a small Status enum
// in the optimize/termination.go idiom, and a Solve function that
// overwrites its caller's state on success, exactly as
// optimize/nlls.LM returns a fresh Result rather than mutating global
// state.
package lmrestore

import (
	"math"

	"github.com/bbopt/nomad-sub005/dogleg"
	"github.com/bbopt/nomad-sub005/linalg"
	"github.com/bbopt/nomad-sub005/qpmodel"
)

// Status reports the outcome of a restoration solve.
type Status int

const (
	Solved Status = iota + 1
	Improved
	MaxIterReached
	StagnationIterates
	BoundsError
	TightVarBounds
	StrictPtFailure
	MatrixDimensionsFailure
)

func (s Status) String() string {
	if v, ok := statusNames[s]; ok {
		return v
	}
	return "Unknown"
}

var statusNames = map[Status]string{
	Solved:                  "Solved",
	Improved:                "Improved",
	MaxIterReached:          "MaxIterReached",
	StagnationIterates:      "StagnationIterates",
	BoundsError:             "BoundsError",
	TightVarBounds:          "TightVarBounds",
	StrictPtFailure:         "StrictPtFailure",
	MatrixDimensionsFailure: "MatrixDimensionsFailure",
}

// AugmentedPoint is the XS = (x, s) pair of spec.md §3: s carries one
// slack per constraint row of the model being restored.
type AugmentedPoint struct {
	X []float64
	S []float64
}

// Settings carries the tolerances and iteration cap spec.md §4.5 names.
type Settings struct {
	FeasibilityTol       float64
	Tol                  float64
	TolDistSuccessiveX   float64
	MaxIter              int
	SolBeStrict          bool
	DeltaInit            float64
	Eps1, Eps2           float64 // acceptance/growth ratios
	Gamma1               float64 // shrink factor
}

// DefaultSettings returns spec.md's documented defaults.
func DefaultSettings() Settings {
	return Settings{
		FeasibilityTol:     1e-8,
		Tol:                1e-10,
		TolDistSuccessiveX: 1e-12,
		MaxIter:            200,
		SolBeStrict:        true,
		DeltaInit:          1.0,
		Eps1:               1e-8,
		Eps2:               0.9,
		Gamma1:             0.5,
	}
}

const (
	strictEps  = 1e-13
	deltaFloor = 1e-15
	deltaCeil  = 1e15
)

// Solve drives XS toward feasibility of cons's constraint rows, in
// place, returning the outcome. On Solved/Improved, xs has been
// overwritten with the best iterate found; on any other status xs is
// restored to its input value, per spec.md §4.5's guarantee.
func Solve(cons qpmodel.Model, xs *AugmentedPoint, l, u []float64, settings Settings) (Status, error) {
	n := cons.N()
	m := cons.M()
	if len(xs.X) != n || len(xs.S) != m || len(l) != n || len(u) != n {
		return MatrixDimensionsFailure, nil
	}
	for i := range l {
		if l[i] > u[i] {
			return BoundsError, nil
		}
	}
	tight := true
	for i := range l {
		if u[i]-l[i] > 1e-8 {
			tight = false
			break
		}
	}
	if tight {
		return TightVarBounds, nil
	}
	if settings.SolBeStrict {
		for i := range xs.X {
			if xs.X[i] <= l[i]+strictEps || xs.X[i] >= u[i]-strictEps {
				return StrictPtFailure, nil
			}
		}
	}

	x0 := append([]float64(nil), xs.X...)
	s0 := append([]float64(nil), xs.S...)

	x := append([]float64(nil), x0...)
	s := append([]float64(nil), s0...)
	delta := settings.DeltaInit
	improved := false
	xPrev := append([]float64(nil), x...)

	for iter := 0; iter < settings.MaxIter; iter++ {
		c := cons.Cons(x)
		residual := make([]float64, m)
		for i := range residual {
			residual[i] = c[i] + s[i]
		}
		residNorm := norm2(residual)
		if residNorm <= settings.FeasibilityTol {
			copy(xs.X, x)
			copy(xs.S, s)
			return Solved, nil
		}

		jac := cons.ConsJacobian(x)
		w := buildResidualJacobian(jac, m, n)

		dl, err := dogleg.Solve(w, residual, delta)
		if err != nil {
			return MatrixDimensionsFailure, err
		}
		if dl.Status != dogleg.Solved {
			delta = math.Max(settings.Gamma1*delta, deltaFloor)
			continue
		}
		vx := dl.X[:n]
		vs := dl.X[n:]

		tau := backtrackFractionToBoundary(x, vx, s, vs, l, u, 0.5)
		if tau <= 0 {
			if improved {
				copy(xs.X, x)
				copy(xs.S, s)
				return Improved, nil
			}
			return StrictPtFailure, nil
		}

		xCan := addScaled(x, tau, vx)
		sCan := addScaled(s, tau, vs)
		clampOpenBox(xCan, l, u, settings.SolBeStrict)

		cCan := cons.Cons(xCan)
		for i := range sCan {
			if cCan[i] < 0 {
				sCan[i] = -cCan[i]
			}
			if sCan[i] < strictEps {
				sCan[i] = strictEps
			}
		}

		residCan := make([]float64, m)
		for i := range residCan {
			residCan[i] = cCan[i] + sCan[i]
		}
		ared := residNorm - norm2(residCan)
		predRes := addScaled(residual, 1, matVec(w, append(append([]float64(nil), vx...), vs...)))
		pred := residNorm - norm2(predRes)
		if pred < 1e-300 {
			pred = 1e-300
		}

		if ared >= settings.Eps1*pred {
			if ared >= settings.Eps2*pred {
				delta = math.Min(2*delta, deltaCeil)
			}
			xPrev = x
			x = xCan
			s = sCan
			improved = true

			stepNorm := norm2(append(append([]float64(nil), vx...), vs...))
			distX := distInf(x, xPrev)
			wtr := matVec(w.Transpose(), residual)
			if stepNorm <= 1e-10 || norm2(wtr) <= settings.Tol || distX <= settings.TolDistSuccessiveX {
				copy(xs.X, x)
				copy(xs.S, s)
				return Solved, nil
			}
		} else {
			delta = math.Max(settings.Gamma1*delta, deltaFloor)
		}
	}

	if improved {
		copy(xs.X, x)
		copy(xs.S, s)
		return Improved, nil
	}
	copy(xs.X, x0)
	copy(xs.S, s0)
	return MaxIterReached, nil
}

// buildResidualJacobian assembles W = [J_c(x) | I], the Jacobian of the
// slacked residual c(x)+s with respect to (x, s).
func buildResidualJacobian(jac linalg.Matrix, m, n int) linalg.Matrix {
	w := linalg.NewMatrix(m, n+m)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			w.Set(i, j, jac.At(i, j))
		}
		w.Set(i, n+i, 1)
	}
	return w
}

// backtrackFractionToBoundary finds the largest tau <= 1 (searched from 1,
// multiplying by minFrac each time, and giving up with 0 once tau drops
// below 1e-12) such that v_s >= -tau*0.5 and the x step stays within
// tau*(l-x) <= v_x <= tau*(u-x).
func backtrackFractionToBoundary(x, vx, s, vs, l, u []float64, minFrac float64) float64 {
	tau := 1.0
	for tau > 0 {
		ok := true
		for i := range vs {
			if vs[i] < -tau*0.5 {
				ok = false
				break
			}
		}
		if ok {
			for i := range vx {
				lo := tau * (l[i] - x[i])
				hi := tau * (u[i] - x[i])
				if vx[i] < lo || vx[i] > hi {
					ok = false
					break
				}
			}
		}
		if ok {
			return tau
		}
		tau *= minFrac
		if tau < 1e-12 {
			return 0
		}
	}
	return 0
}

func clampOpenBox(x, l, u []float64, strict bool) {
	eps := 0.0
	if strict {
		eps = strictEps
	}
	for i := range x {
		if x[i] < l[i]+eps {
			x[i] = l[i] + eps
		}
		if x[i] > u[i]-eps {
			x[i] = u[i] - eps
		}
	}
}

func addScaled(a []float64, alpha float64, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] + alpha*b[i]
	}
	return out
}

func matVec(m linalg.Matrix, v []float64) []float64 {
	r, _ := m.Dims()
	out, _ := linalg.MulVec(m, linalg.WrapVector(v))
	result := make([]float64, r)
	for i := 0; i < r; i++ {
		result[i] = out.AtVec(i)
	}
	return result
}

func norm2(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}

func distInf(a, b []float64) float64 {
	m := 0.0
	for i := range a {
		d := math.Abs(a[i] - b[i])
		if d > m {
			m = d
		}
	}
	return m
}

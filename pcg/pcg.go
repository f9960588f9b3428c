// Package pcg implements the equality-constrained, trust-region projected
// conjugate gradient solver of spec.md §4.4 (Gould-Hribar-Nocedal,
// Algorithm 6.2): min 1/2 x^T G x + c^T x subject to A x = b, ||x|| <=
// delta. The null-space projection is realized by factoring the
// saturated KKT system [I A^T; A 0] once per solve with linalg's LDLt,
// per spec.md's explicit restriction to an H=I preconditioner (see
// DESIGN.md's Open Questions entry).
package pcg

import (
	"math"

	"github.com/bbopt/nomad-sub005/linalg"
)

// Status reports the outcome of a projected CG solve.
type Status int

const (
	Solved Status = iota + 1
	NegativeCurvature
	BoundaryReached
	MaxIterReached
	QuadRootsError
	NoInitSolution
	TRParamError
	FactorizationFailure
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
	NegativeCurvature:       "NegativeCurvature",
	BoundaryReached:         "BoundaryReached",
	MaxIterReached:          "MaxIterReached",
	QuadRootsError:          "QuadRootsError",
	NoInitSolution:          "NoInitSolution",
	TRParamError:            "TRParamError",
	FactorizationFailure:    "FactorizationFailure",
	MatrixDimensionsFailure: "MatrixDimensionsFailure",
}

// Settings carries the few tunables spec.md §4.4 exposes beyond delta.
type Settings struct {
	// RefinementSweeps caps the iterative-refinement passes applied after
	// each projection. Defaults to 3.
	RefinementSweeps int
	// CosAngleThreshold is the |cos angle(A, g+)| above which a
	// refinement sweep is applied. Defaults to 1e-12.
	CosAngleThreshold float64
}

// DefaultSettings returns spec.md's documented defaults.
func DefaultSettings() Settings {
	return Settings{RefinementSweeps: 3, CosAngleThreshold: 1e-12}
}

// Result is the outcome of a Solve call.
type Result struct {
	P          []float64
	Status     Status
	Iterations int
}

// Solve solves min 1/2 x^T G x + c^T x subject to A x = b, ||x|| <= delta.
func Solve(g linalg.Matrix, c []float64, a linalg.Matrix, b []float64, delta float64, settings Settings) (Result, error) {
	if settings.RefinementSweeps == 0 && settings.CosAngleThreshold == 0 {
		settings = DefaultSettings()
	}
	n, gc := g.Dims()
	if n != gc || n != len(c) {
		return Result{Status: MatrixDimensionsFailure}, nil
	}
	ar, ac := a.Dims()
	if ac != n || ar != len(b) || ar > n {
		return Result{Status: MatrixDimensionsFailure}, nil
	}
	if delta <= 1e-8 {
		return Result{Status: TRParamError}, nil
	}

	fac, ok := factorSaturated(n, ar, a)
	if !ok {
		return Result{Status: FactorizationFailure}, nil
	}

	x0, ok := fac.solveFeasible(b, a, delta, settings)
	if !ok {
		return Result{Status: NoInitSolution}, nil
	}

	x := append([]float64(nil), x0...)
	gx := matVec(g, x)
	r0 := addVec(gx, c)
	gProj, ok := fac.project(r0, a, settings)
	if !ok {
		return Result{Status: FactorizationFailure}, nil
	}
	tolArg := dot(gProj, r0)
	if tolArg < 0 {
		tolArg = 0
	}
	tolCG := 0.01 * math.Sqrt(tolArg)

	if norm2(r0) <= tolCG {
		return Result{P: x, Status: Solved, Iterations: 0}, nil
	}

	r := r0
	gr := gProj
	d := negate(gr)
	maxIter := 2 * (n + ar)

	for iter := 0; iter < maxIter; iter++ {
		gd := matVec(g, d)
		curv := dot(d, gd)
		if curv <= 0 {
			tau, ok := toBoundaryLargerRoot(x, d, delta)
			if !ok {
				return Result{Status: QuadRootsError}, nil
			}
			return Result{P: addScaled(x, tau, d), Status: NegativeCurvature, Iterations: iter}, nil
		}
		rtg := dot(r, gr)
		alpha := rtg / curv
		xNew := addScaled(x, alpha, d)
		if norm2(xNew) > delta {
			tau, ok := toBoundaryLargerRoot(x, d, delta)
			if !ok {
				return Result{Status: QuadRootsError}, nil
			}
			return Result{P: addScaled(x, tau, d), Status: BoundaryReached, Iterations: iter}, nil
		}

		rNew := addScaled(r, alpha, gd)
		gNewProj, ok := fac.project(rNew, a, settings)
		if !ok {
			return Result{Status: FactorizationFailure}, nil
		}

		if math.Sqrt(math.Max(dot(rNew, gNewProj), 0)) <= tolCG {
			return Result{P: xNew, Status: Solved, Iterations: iter + 1}, nil
		}

		betaDen := rtg
		if math.Abs(betaDen) < 1e-300 {
			return Result{P: xNew, Status: Solved, Iterations: iter + 1}, nil
		}
		beta := dot(rNew, gNewProj) / betaDen
		d = addScaled(negate(gNewProj), beta, d)
		x = xNew
		r = rNew
		gr = gNewProj
	}
	return Result{P: x, Status: MaxIterReached, Iterations: maxIter}, nil
}

// saturatedFactorization holds the LDLt factorization of
// [I A^T; A 0], used for both the feasible-start solve and every
// gradient projection.
type saturatedFactorization struct {
	n, m int
	ldl  linalg.LDLt
}

func factorSaturated(n, m int, a linalg.Matrix) (saturatedFactorization, bool) {
	size := n + m
	data := make([]float64, size*size)
	sat, _ := linalg.WrapMatrix(size, size, data)
	for i := 0; i < n; i++ {
		sat.Set(i, i, 1)
	}
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			v := a.At(i, j)
			sat.Set(n+i, j, v)
			sat.Set(j, n+i, v)
		}
	}
	ldl, err := linalg.LDLtFactorize(sat)
	if err != nil {
		return saturatedFactorization{}, false
	}
	return saturatedFactorization{n: n, m: m, ldl: ldl}, true
}

// solveFeasible solves the saturated system with rhs (0, b), returning
// the minimum-norm x with A x = b; applies up to RefinementSweeps
// iterative-refinement passes when the resulting x violates the trust
// region, per spec.md §4.4.
func (f saturatedFactorization) solveFeasible(b []float64, a linalg.Matrix, delta float64, s Settings) ([]float64, bool) {
	rhs := make([]float64, f.n+f.m)
	copy(rhs[f.n:], b)
	sol, err := f.ldl.Solve(linalg.WrapVector(rhs))
	if err != nil {
		return nil, false
	}
	x := append([]float64(nil), sol.RawVector()[:f.n]...)

	for pass := 0; pass < s.RefinementSweeps && norm2(x) > delta; pass++ {
		resid := make([]float64, f.n+f.m)
		ax := matVec(a, x)
		for i := 0; i < f.m; i++ {
			resid[f.n+i] = b[i] - ax[i]
		}
		corr, err := f.ldl.Solve(linalg.WrapVector(resid))
		if err != nil {
			break
		}
		cx := corr.RawVector()[:f.n]
		for i := range x {
			x[i] += cx[i]
		}
	}
	return x, true
}

// project solves the saturated system with rhs (g, 0) to project g onto
// the null space of A, applying refinement sweeps while the projected
// residual's correlation with A's row space exceeds CosAngleThreshold.
func (f saturatedFactorization) project(g []float64, a linalg.Matrix, s Settings) ([]float64, bool) {
	rhs := make([]float64, f.n+f.m)
	copy(rhs[:f.n], g)
	sol, err := f.ldl.Solve(linalg.WrapVector(rhs))
	if err != nil {
		return nil, false
	}
	proj := append([]float64(nil), sol.RawVector()[:f.n]...)

	for pass := 0; pass < s.RefinementSweeps; pass++ {
		worst := 0.0
		for i := 0; i < f.m; i++ {
			worst = math.Max(worst, cosAngle(a.RawRowView(i), proj))
		}
		if worst <= s.CosAngleThreshold {
			break
		}
		// Recompute the residual r = g - proj in the "I" block and
		// resolve, the standard PCG iterative-refinement sweep for the
		// saturated system.
		resid := make([]float64, f.n+f.m)
		for i := 0; i < f.n; i++ {
			resid[i] = g[i] - proj[i]
		}
		corr, err := f.ldl.Solve(linalg.WrapVector(resid))
		if err != nil {
			break
		}
		cx := corr.RawVector()[:f.n]
		for i := range proj {
			proj[i] += cx[i]
		}
	}
	return proj, true
}

func cosAngle(a, g []float64) float64 {
	na, ng := norm2(a), norm2(g)
	if na < 1e-300 || ng < 1e-300 {
		return 0
	}
	return math.Abs(dot(a, g)) / (na * ng)
}

// toBoundaryLargerRoot solves ||x+tau*d||^2 = delta^2 for tau and returns
// the larger admissible root, per spec.md §4.4's negative-curvature and
// boundary-hit handling.
func toBoundaryLargerRoot(x, d []float64, delta float64) (float64, bool) {
	a := dot(d, d)
	if a < 1e-300 {
		return 0, false
	}
	bb := 2 * dot(x, d)
	c := dot(x, x) - delta*delta
	disc := bb*bb - 4*a*c
	if disc < 0 {
		return 0, false
	}
	sq := math.Sqrt(disc)
	tau1 := (-bb + sq) / (2 * a)
	tau2 := (-bb - sq) / (2 * a)
	if tau1 < tau2 {
		tau1, tau2 = tau2, tau1
	}
	return tau1, true
}

func matVec(m linalg.Matrix, v []float64) []float64 {
	r, _ := m.Dims()
	out := make([]float64, r)
	vv, _ := linalg.MulVec(m, linalg.WrapVector(v))
	for i := 0; i < r; i++ {
		out[i] = vv.AtVec(i)
	}
	return out
}

func addVec(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] + b[i]
	}
	return out
}

func addScaled(a []float64, alpha float64, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] + alpha*b[i]
	}
	return out
}

func negate(a []float64) []float64 {
	out := make([]float64, len(a))
	for i, v := range a {
		out[i] = -v
	}
	return out
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func norm2(a []float64) float64 {
	return math.Sqrt(dot(a, a))
}

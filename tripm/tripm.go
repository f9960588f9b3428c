// Package tripm implements the trust-region interior-point method of
// spec.md §4.6: an outer barrier loop driving mu -> 0 around an inner
// composite-step trust-region loop that alternates a normal step
// (dogleg, reducing constraint infeasibility) with a tangential step
// (pcg, reducing the barrier-Lagrangian model in the linearized
// constraint null space), falling back to lmrestore when the trust
// region collapses to its floor without an accepted step.
//
// The outer/inner loop shape and its Settings/Result/Status idiom
// mirror the teacher's own optimize.Local driver: a struct of knobs
// with a DefaultSettings constructor, a Result carrying the answer plus
// iteration counters, and an optional text/tabwriter trace sink in the
// style of optimize/printer.go.
package tripm

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"github.com/bbopt/nomad-sub005/dogleg"
	"github.com/bbopt/nomad-sub005/linalg"
	"github.com/bbopt/nomad-sub005/lmrestore"
	"github.com/bbopt/nomad-sub005/pcg"
	"github.com/bbopt/nomad-sub005/qpmodel"
)

// Status reports the outcome of a Solve call.
type Status int

const (
	Solved Status = iota + 1
	MaxIterReached
	LMFailure
	StrictPtFailure
	NumError
	ParamError
	TightVarBounds
	StagnationIterates
	MatrixDimensionsFailure
	BoundsError
)

func (s Status) String() string {
	if v, ok := statusNames[s]; ok {
		return v
	}
	return "Unknown"
}

var statusNames = map[Status]string{
	Solved:                  "Solved",
	MaxIterReached:          "MaxIterReached",
	LMFailure:               "LMFailure",
	StrictPtFailure:         "StrictPtFailure",
	NumError:                "NumError",
	ParamError:              "ParamError",
	TightVarBounds:          "TightVarBounds",
	StagnationIterates:      "StagnationIterates",
	MatrixDimensionsFailure: "MatrixDimensionsFailure",
	BoundsError:             "BoundsError",
}

// AugmentedPoint is re-exported from lmrestore: tripm and lmrestore
// share the (x, s) representation of a constraint-slacked iterate.
type AugmentedPoint = lmrestore.AugmentedPoint

// Multipliers carries one Lagrange multiplier estimate per constraint
// row, derived from the barrier complementarity lambda_i = mu/s_i.
type Multipliers struct {
	Lambda []float64
}

// Settings carries the outer/inner loop tunables of spec.md §4.6.
type Settings struct {
	MuInit             float64
	MuDecrease         float64
	TolDistSuccessiveX float64
	MaxIterOuter       int
	MaxIterInner       int
	AtolOpt            float64
	AtolFeas           float64
	DeltaInit          float64
	VerboseLevel       int
	Trace              io.Writer
}

// DefaultSettings returns spec.md's documented defaults.
func DefaultSettings() Settings {
	return Settings{
		MuInit:             1.0,
		MuDecrease:         0.2,
		TolDistSuccessiveX: 1e-12,
		MaxIterOuter:       30,
		MaxIterInner:       50,
		AtolOpt:            1e-7,
		AtolFeas:           1e-7,
		DeltaInit:          1.0,
		VerboseLevel:       0,
	}
}

// Result is the outcome of a Solve call.
type Result struct {
	X               []float64
	Lambda          []float64
	Status          Status
	OuterIterations int
	LMInvocations   int
}

const (
	strictEps      = 1e-13
	normalStepFrac = 0.8
	deltaFloor     = 1e-15
	deltaCeil      = 1e15
	eps1           = 1e-8
	eps2           = 0.9
	gamma1         = 0.5
)

// Solve minimizes model's objective surrogate subject to its m
// constraint rows c(x) <= 0 and l <= x <= u, via a trust-region
// interior-point barrier method.
//
// Per spec.md §4.6, coordinates whose bounds are tight to within 1e-8
// (the rule of §3) are never handed to the barrier iteration: they are
// folded out via qpmodel.Model.Reduce, the reduced loop runs entirely
// in the free subspace, and the solution is lifted back with each
// fixed coordinate pinned to its bound midpoint. When every coordinate
// is fixed this way the problem is degenerate and Solve reports
// TightVarBounds without attempting a solve.
func Solve(model qpmodel.Model, x0, l, u []float64, settings Settings) (Result, error) {
	n := model.N()
	if len(x0) != n || len(l) != n || len(u) != n {
		return Result{Status: MatrixDimensionsFailure}, nil
	}
	for i := range l {
		if l[i] > u[i] {
			return Result{Status: BoundsError}, nil
		}
	}
	if settings.MuInit <= 0 || settings.MuDecrease <= 0 || settings.MuDecrease >= 1 {
		return Result{Status: ParamError}, nil
	}

	fixed := make([]bool, n)
	nFixed := 0
	for i := range l {
		if u[i]-l[i] <= 1e-8 {
			fixed[i] = true
			nFixed++
		}
	}
	if nFixed == n {
		return Result{Status: TightVarBounds}, nil
	}
	if nFixed == 0 {
		return solveInterior(model, x0, l, u, settings)
	}

	midpoint := make([]float64, n)
	for i := range midpoint {
		if fixed[i] {
			midpoint[i] = 0.5 * (l[i] + u[i])
		} else {
			midpoint[i] = x0[i]
		}
	}
	reduced, err := model.Reduce(midpoint, fixed)
	if err != nil {
		return Result{Status: NumError}, err
	}
	free := make([]int, 0, n-nFixed)
	for i, f := range fixed {
		if !f {
			free = append(free, i)
		}
	}
	redX0 := make([]float64, len(free))
	redL := make([]float64, len(free))
	redU := make([]float64, len(free))
	for j, i := range free {
		redX0[j] = x0[i]
		redL[j] = l[i]
		redU[j] = u[i]
	}

	res, err := solveInterior(reduced, redX0, redL, redU, settings)
	if err != nil || res.X == nil {
		return res, err
	}
	full := make([]float64, n)
	for i := range fixed {
		if fixed[i] {
			full[i] = 0.5 * (l[i] + u[i])
		}
	}
	for j, i := range free {
		full[i] = res.X[j]
	}
	res.X = full
	return res, nil
}

// solveInterior runs the outer mu -> 0 barrier loop around the
// composite-step inner loop on a problem with no fixed coordinates.
func solveInterior(model qpmodel.Model, x0, l, u []float64, settings Settings) (Result, error) {
	m := model.M()

	var tw *tabwriter.Writer
	if settings.Trace != nil {
		tw = tabwriter.NewWriter(settings.Trace, 0, 4, 2, ' ', 0)
		defer tw.Flush()
		fmt.Fprintln(tw, "outer\tinner\tmu\tdelta\t|c|\t|grad|")
	}

	x := append([]float64(nil), x0...)
	for i := range x {
		width := u[i] - l[i]
		off := math.Min(1e-3*math.Max(1, width), 0.4*width)
		if x[i] <= l[i] {
			x[i] = l[i] + off
		}
		if x[i] >= u[i] {
			x[i] = u[i] - off
		}
	}

	s := make([]float64, m)
	if m > 0 {
		c0 := model.Cons(x)
		for i := range s {
			s[i] = math.Max(strictEps, -c0[i]+1.0)
		}
	}

	lmInvocations := 0
	mu := settings.MuInit
	delta := settings.DeltaInit
	outerIter := 0

	for ; outerIter < settings.MaxIterOuter; outerIter++ {
		innerStatus, innerDelta, err := innerLoop(model, &x, &s, l, u, mu, delta, settings, tw, outerIter, &lmInvocations)
		delta = innerDelta
		if err != nil {
			return Result{Status: NumError}, err
		}
		if innerStatus == LMFailure || innerStatus == StrictPtFailure {
			return Result{X: x, Lambda: multipliersOf(s, mu), Status: innerStatus, OuterIterations: outerIter + 1, LMInvocations: lmInvocations}, nil
		}

		lambda := multipliersOf(s, mu)
		grad := kktResidual(model, x, lambda)
		feas := consViolation(model, x)
		if linalg.NormInf(linalg.WrapVector(grad)) <= settings.AtolOpt && feas <= settings.AtolFeas {
			return Result{X: x, Lambda: lambda, Status: Solved, OuterIterations: outerIter + 1, LMInvocations: lmInvocations}, nil
		}

		mu *= settings.MuDecrease
	}

	return Result{X: x, Lambda: multipliersOf(s, mu), Status: MaxIterReached, OuterIterations: outerIter, LMInvocations: lmInvocations}, nil
}

// innerLoop runs the composite-step trust-region iteration for a fixed
// barrier parameter mu until the barrier-KKT residual is small relative
// to mu, MaxIterInner is exhausted, or restoration is required.
func innerLoop(model qpmodel.Model, x, s *[]float64, l, u []float64, mu, delta float64, settings Settings, tw *tabwriter.Writer, outerIter int, lmInvocations *int) (Status, float64, error) {
	n := model.N()
	m := model.M()

	for inner := 0; inner < settings.MaxIterInner; inner++ {
		c := model.Cons(*x)
		r := make([]float64, m)
		for i := range r {
			r[i] = c[i] + (*s)[i]
		}
		residNorm := norm2(r)

		lambdaNeg := make([]float64, m)
		for i := range lambdaNeg {
			lambdaNeg[i] = -mu / (*s)[i]
		}
		g := barrierGradient(model, *x, *s, l, u, mu)
		gradNorm := norm2(g)

		if tw != nil {
			fmt.Fprintf(tw, "%d\t%d\t%.3e\t%.3e\t%.3e\t%.3e\n", outerIter, inner, mu, delta, residNorm, gradNorm)
		}

		if residNorm <= 1e-10 && gradNorm <= math.Max(mu, 1e-10) {
			return Solved, delta, nil
		}

		var pn []float64
		if m > 0 {
			w := buildResidualJacobian(model.ConsJacobian(*x), m, n)
			dl, err := dogleg.Solve(w, r, normalStepFrac*delta)
			if err != nil {
				return NumError, delta, err
			}
			if dl.Status != dogleg.Solved {
				delta = math.Max(gamma1*delta, deltaFloor)
				continue
			}
			pn = dl.X
		} else {
			pn = make([]float64, n)
		}

		gMat := buildBarrierHessian(model, *x, *s, l, u, mu, lambdaNeg)
		gPlusGpn := addVec(g, matVec(gMat, pn))

		deltaTSq := delta*delta - dot(pn, pn)
		var pt []float64
		if m > 0 && deltaTSq > 1e-14 {
			wZero := make([]float64, m)
			w := buildResidualJacobian(model.ConsJacobian(*x), m, n)
			res, err := pcg.Solve(gMat, gPlusGpn, w, wZero, math.Sqrt(deltaTSq), pcg.DefaultSettings())
			if err != nil {
				return NumError, delta, err
			}
			if res.Status == pcg.FactorizationFailure || res.Status == pcg.QuadRootsError || res.Status == pcg.NoInitSolution {
				delta = math.Max(gamma1*delta, deltaFloor)
				continue
			}
			pt = res.P
		} else if deltaTSq > 1e-14 {
			// No constraints: the tangential step is the unconstrained
			// trust-region step, solved by the same projected-CG machinery
			// with an empty (zero-row) constraint block.
			emptyA := linalg.NewMatrix(0, n+m)
			res, err := pcg.Solve(gMat, gPlusGpn, emptyA, nil, math.Sqrt(deltaTSq), pcg.DefaultSettings())
			if err != nil {
				return NumError, delta, err
			}
			pt = res.P
		} else {
			pt = make([]float64, n+m)
		}

		p := addVec(pn, pt)
		px := p[:n]
		ps := p[n:]

		tau := backtrackFractionToBoundary(*x, px, *s, ps, l, u)
		if tau <= 0 {
			delta = math.Max(gamma1*delta, deltaFloor)
			if delta <= deltaFloor {
				ok, err := restoreViaLM(model, x, s, l, u, settings, lmInvocations)
				if err != nil {
					return NumError, delta, err
				}
				if !ok {
					return LMFailure, delta, nil
				}
				delta = settings.DeltaInit
			}
			continue
		}

		xCand := addScaled(*x, tau, px)
		sCand := addScaled(*s, tau, ps)
		clampOpenBox(xCand, l, u)
		cCand := model.Cons(xCand)
		for i := range sCand {
			if cCand[i] < 0 {
				sCand[i] = -cCand[i]
			}
			if sCand[i] < strictEps {
				sCand[i] = strictEps
			}
		}

		phi0 := barrierMerit(model, *x, *s, l, u, mu, residNorm)
		phiCand := barrierMerit(model, xCand, sCand, l, u, mu, norm2(consResidual(model, xCand, sCand)))
		ared := phi0 - phiCand

		predResid := addVec(r, matVec(buildResidualJacobian(model.ConsJacobian(*x), m, n), p))
		predRes := residNorm - norm2(predResid)
		predObj := -dot(g, p) - 0.5*dot(p, matVec(gMat, p))
		pred := predObj + predRes
		if pred < 1e-300 {
			pred = 1e-300
		}

		if ared >= eps1*pred {
			if ared >= eps2*pred {
				delta = math.Min(2*delta, deltaCeil)
			}
			distX := distInf(xCand, *x)
			*x = xCand
			*s = sCand
			if distX <= settings.TolDistSuccessiveX {
				return Solved, delta, nil
			}
		} else {
			delta = math.Max(gamma1*delta, deltaFloor)
			if delta <= deltaFloor {
				ok, err := restoreViaLM(model, x, s, l, u, settings, lmInvocations)
				if err != nil {
					return NumError, delta, err
				}
				if !ok {
					return LMFailure, delta, nil
				}
				delta = settings.DeltaInit
			}
		}
	}
	return MaxIterReached, delta, nil
}

// restoreViaLM invokes lmrestore to pull (x, s) back toward
// feasibility when the trust region has collapsed without a
// successful step; ok reports whether the iterate was usably improved.
func restoreViaLM(model qpmodel.Model, x, s *[]float64, l, u []float64, settings Settings, lmInvocations *int) (ok bool, err error) {
	*lmInvocations++
	xs := &lmrestore.AugmentedPoint{X: append([]float64(nil), *x...), S: append([]float64(nil), *s...)}
	status, err := lmrestore.Solve(model, xs, l, u, lmrestore.DefaultSettings())
	if err != nil {
		return false, err
	}
	if status != lmrestore.Solved && status != lmrestore.Improved {
		return false, nil
	}
	*x = xs.X
	*s = xs.S
	return true, nil
}

// barrierGradient returns the gradient of f(x) - mu*sum(log box slacks)
// - mu*sum(log s_i) with respect to the stacked (x, s) variables.
func barrierGradient(model qpmodel.Model, x, s, l, u []float64, mu float64) []float64 {
	n := len(x)
	m := len(s)
	out := make([]float64, n+m)
	fg := model.ObjGrad(x)
	for j := 0; j < n; j++ {
		out[j] = fg[j] - mu/(x[j]-l[j]) + mu/(u[j]-x[j])
	}
	for i := 0; i < m; i++ {
		out[n+i] = -mu / s[i]
	}
	return out
}

// buildBarrierHessian assembles the (n+m)x(n+m) block-diagonal barrier
// Hessian used as the tangential-step quadratic model.
func buildBarrierHessian(model qpmodel.Model, x, s, l, u []float64, mu float64, lambdaNeg []float64) linalg.Matrix {
	n := len(x)
	m := len(s)
	h := linalg.NewMatrix(n+m, n+m)
	lagH := model.LagrangianHessian(x, lambdaNeg, 1)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			h.Set(i, j, lagH.At(i, j))
		}
		boxHess := mu/((x[i]-l[i])*(x[i]-l[i])) + mu/((u[i]-x[i])*(u[i]-x[i]))
		h.Set(i, i, h.At(i, i)+boxHess)
	}
	for i := 0; i < m; i++ {
		h.Set(n+i, n+i, mu/(s[i]*s[i]))
	}
	return h
}

// barrierMerit evaluates the merit function phi(x,s) = barrier objective
// + feasNorm, where feasNorm is the Euclidean norm of the Cons+s residual
// (passed in so callers reuse an already-computed norm). The penalty
// weight on feasNorm is fixed at 1; it is not adapted between steps.
func barrierMerit(model qpmodel.Model, x, s, l, u []float64, mu, feasNorm float64) float64 {
	val := model.Obj(x)
	for j := range x {
		val -= mu * math.Log(x[j]-l[j])
		val -= mu * math.Log(u[j]-x[j])
	}
	for i := range s {
		val -= mu * math.Log(s[i])
	}
	return val + feasNorm
}

func consResidual(model qpmodel.Model, x, s []float64) []float64 {
	c := model.Cons(x)
	out := make([]float64, len(s))
	for i := range out {
		out[i] = c[i] + s[i]
	}
	return out
}

func consViolation(model qpmodel.Model, x []float64) float64 {
	c := model.Cons(x)
	maxV := 0.0
	for _, v := range c {
		if v > maxV {
			maxV = v
		}
	}
	return maxV
}

func multipliersOf(s []float64, mu float64) []float64 {
	out := make([]float64, len(s))
	for i := range s {
		out[i] = mu / s[i]
	}
	return out
}

// kktResidual returns the stationarity residual ObjGrad(x) +
// J_c(x)^T lambda (the Lagrangian gradient with the package's
// sigma=1, lambda-as-negated convention undone for reporting).
func kktResidual(model qpmodel.Model, x, lambda []float64) []float64 {
	lambdaNeg := make([]float64, len(lambda))
	for i, v := range lambda {
		lambdaNeg[i] = -v
	}
	return model.LagrangianGrad(x, lambdaNeg, 1)
}

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

// backtrackFractionToBoundary mirrors lmrestore's fraction-to-boundary
// rule over the combined (x, s) step.
func backtrackFractionToBoundary(x, px, s, ps, l, u []float64) float64 {
	tau := 1.0
	for tau > 0 {
		ok := true
		for i := range ps {
			if ps[i] < -tau*0.5 {
				ok = false
				break
			}
		}
		if ok {
			for i := range px {
				lo := tau * (l[i] - x[i])
				hi := tau * (u[i] - x[i])
				if px[i] < lo || px[i] > hi {
					ok = false
					break
				}
			}
		}
		if ok {
			return tau
		}
		tau *= 0.5
		if tau < 1e-12 {
			return 0
		}
	}
	return 0
}

func clampOpenBox(x, l, u []float64) {
	for i := range x {
		if x[i] < l[i]+strictEps {
			x[i] = l[i] + strictEps
		}
		if x[i] > u[i]-strictEps {
			x[i] = u[i] - strictEps
		}
	}
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

func matVec(m linalg.Matrix, v []float64) []float64 {
	r, _ := m.Dims()
	if r == 0 {
		return nil
	}
	out, _ := linalg.MulVec(m, linalg.WrapVector(v))
	result := make([]float64, r)
	for i := 0; i < r; i++ {
		result[i] = out.AtVec(i)
	}
	return result
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func norm2(v []float64) float64 {
	return math.Sqrt(dot(v, v))
}

func distInf(a, b []float64) float64 {
	mx := 0.0
	for i := range a {
		d := math.Abs(a[i] - b[i])
		if d > mx {
			mx = d
		}
	}
	return mx
}

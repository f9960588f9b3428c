// Package qpmodel implements the packed quadratic-surrogate algebra of
// spec.md §3/§4.2: evaluating the objective and constraint quadratic
// models, their gradients, Jacobian and Hessians, the Lagrangian, and the
// fixed-variable reduction used when bounds pin coordinates.
package qpmodel

import (
	"fmt"

	"github.com/bbopt/nomad-sub005/linalg"
)

// Model is the packed parameter matrix of spec.md §3: row 0 holds the
// objective's quadratic surrogate, rows 1..m hold the m constraints'.
// Within a row the layout is
//
//	alpha0, alphaL (n entries), diag(H) (n entries), strictLower(H) (n(n-1)/2 entries)
//
// so that
//
//	Q(x) = alpha0 + alphaL.x + 1/2 x^T H x.
//
// Every accessor below (Obj, ObjGrad, ConsJacobian, Hessian) is derived
// from paramIndex, the single source of truth spec.md §3 requires ("must
// match bit-for-bit").
type Model struct {
	n, m int
	data linalg.Matrix // (1+m) x nParams
}

// ErrDimension is returned for malformed packed matrices or mismatched
// coordinate counts.
type ErrDimension struct {
	Msg string
}

func (e *ErrDimension) Error() string { return fmt.Sprintf("qpmodel: %s", e.Msg) }

// NParams returns the number of packed parameters per row for an
// n-dimensional model.
func NParams(n int) int {
	return n + 1 + n*(n+1)/2
}

// New builds a Model from n (variable count), m (constraint count) and a
// flat, row-major data slice of length (1+m)*NParams(n).
func New(n, m int, data []float64) (Model, error) {
	if n <= 0 || m < 0 {
		return Model{}, &ErrDimension{Msg: "n must be positive and m non-negative"}
	}
	rows := 1 + m
	cols := NParams(n)
	if len(data) != rows*cols {
		return Model{}, &ErrDimension{Msg: fmt.Sprintf("expected %d packed values, got %d", rows*cols, len(data))}
	}
	mat, err := linalg.WrapMatrix(rows, cols, data)
	if err != nil {
		return Model{}, &ErrDimension{Msg: err.Error()}
	}
	return Model{n: n, m: m, data: mat}, nil
}

// N returns the number of free variables in the model.
func (q Model) N() int { return q.n }

// M returns the number of constraints.
func (q Model) M() int { return q.m }

// paramIndex returns the packed-column index of a requested coefficient.
// kind is one of "const", "linear", "diag", "lower".
func paramIndex(n int, kind string, i, j int) int {
	switch kind {
	case "const":
		return 0
	case "linear":
		return 1 + i
	case "diag":
		return 1 + n + i
	case "lower":
		// i > j, strict lower triangle in row-major order: rows 1..n-1,
		// each row i contributing i entries (j = 0..i-1).
		base := 1 + 2*n
		return base + i*(i-1)/2 + j
	}
	panic("qpmodel: unknown coefficient kind " + kind)
}

func (q Model) alpha0(row int) float64 {
	return q.data.At(row, paramIndex(q.n, "const", 0, 0))
}

func (q Model) alphaL(row, i int) float64 {
	return q.data.At(row, paramIndex(q.n, "linear", i, 0))
}

func (q Model) hEntry(row, i, j int) float64 {
	if i == j {
		return q.data.At(row, paramIndex(q.n, "diag", i, 0))
	}
	if i < j {
		i, j = j, i
	}
	return q.data.At(row, paramIndex(q.n, "lower", i, j))
}

func (q Model) setAlpha0(row int, v float64) {
	q.data.Set(row, paramIndex(q.n, "const", 0, 0), v)
}

func (q Model) setAlphaL(row, i int, v float64) {
	q.data.Set(row, paramIndex(q.n, "linear", i, 0), v)
}

func (q Model) addAlphaL(row, i int, v float64) {
	q.setAlphaL(row, i, q.alphaL(row, i)+v)
}

func (q Model) setHEntry(row, i, j int, v float64) {
	if i == j {
		q.data.Set(row, paramIndex(q.n, "diag", i, 0), v)
		return
	}
	if i < j {
		i, j = j, i
	}
	q.data.Set(row, paramIndex(q.n, "lower", i, j), v)
}

func (q Model) evalRow(row int, x []float64) float64 {
	n := q.n
	val := q.alpha0(row)
	for i := 0; i < n; i++ {
		val += q.alphaL(row, i) * x[i]
	}
	quad := 0.0
	for i := 0; i < n; i++ {
		quad += q.hEntry(row, i, i) * x[i] * x[i]
		for j := 0; j < i; j++ {
			quad += 2 * q.hEntry(row, i, j) * x[i] * x[j]
		}
	}
	return val + 0.5*quad
}

func (q Model) gradRow(row int, x []float64) []float64 {
	n := q.n
	grad := make([]float64, n)
	for i := 0; i < n; i++ {
		g := q.alphaL(row, i)
		for j := 0; j < n; j++ {
			g += q.hEntry(row, i, j) * x[j]
		}
		grad[i] = g
	}
	return grad
}

// Obj evaluates the objective surrogate (row 0) at x.
func (q Model) Obj(x []float64) float64 { return q.evalRow(0, x) }

// ObjGrad evaluates the objective's gradient at x.
func (q Model) ObjGrad(x []float64) []float64 { return q.gradRow(0, x) }

// Cons evaluates the constraint surrogates (rows 1..m) at x.
func (q Model) Cons(x []float64) []float64 {
	out := make([]float64, q.m)
	for i := 0; i < q.m; i++ {
		out[i] = q.evalRow(i+1, x)
	}
	return out
}

// ConsJacobian returns the m x n Jacobian of the constraint surrogates,
// row i equal to grad(cons_i)(x)^T.
func (q Model) ConsJacobian(x []float64) linalg.Matrix {
	jac := linalg.NewMatrix(q.m, q.n)
	for i := 0; i < q.m; i++ {
		g := q.gradRow(i+1, x)
		for j := 0; j < q.n; j++ {
			jac.Set(i, j, g[j])
		}
	}
	return jac
}

// Hessian synthesizes the n x n symmetric Hessian of row (0 for the
// objective, i for constraint i) from the packed diag + strict-lower
// entries. The result does not depend on x (the surrogate is quadratic).
func (q Model) Hessian(row int, _ []float64) linalg.Matrix {
	n := q.n
	h := linalg.NewMatrix(n, n)
	for i := 0; i < n; i++ {
		h.Set(i, i, q.hEntry(row, i, i))
		for j := 0; j < i; j++ {
			v := q.hEntry(row, i, j)
			h.Set(i, j, v)
			h.Set(j, i, v)
		}
	}
	return h
}

// Lagrangian evaluates L(x, lambda, sigma) = sigma*f(x) - lambda^T c(x).
func (q Model) Lagrangian(x, lambda []float64, sigma float64) float64 {
	val := sigma * q.Obj(x)
	c := q.Cons(x)
	for i, l := range lambda {
		val -= l * c[i]
	}
	return val
}

// LagrangianGrad evaluates the gradient of the Lagrangian at x.
func (q Model) LagrangianGrad(x, lambda []float64, sigma float64) []float64 {
	grad := q.ObjGrad(x)
	out := make([]float64, q.n)
	for i := range out {
		out[i] = sigma * grad[i]
	}
	for c := 0; c < q.m; c++ {
		g := q.gradRow(c+1, x)
		l := lambda[c]
		for i := 0; i < q.n; i++ {
			out[i] -= l * g[i]
		}
	}
	return out
}

// LagrangianHessian evaluates sigma*Hess(f) - sum_i lambda_i*Hess(c_i).
func (q Model) LagrangianHessian(x, lambda []float64, sigma float64) linalg.Matrix {
	h := q.Hessian(0, x)
	h.Multiply(sigma)
	for c := 0; c < q.m; c++ {
		hc := q.Hessian(c+1, x)
		hc.Multiply(-lambda[c])
		if err := h.Add(hc); err != nil {
			panic(err) // dims always match: both are n x n by construction
		}
	}
	return h
}

// Reduce substitutes the coordinates marked true in fixed with their
// numeric values from x, folding their contributions into the constant
// term and the remaining linear/cross terms of each row, and compacting
// the surviving coordinates (in original order) into a smaller Model.
// See spec.md §4.2 for the exact reduction rule.
func (q Model) Reduce(x []float64, fixed []bool) (Model, error) {
	if len(x) != q.n || len(fixed) != q.n {
		return Model{}, &ErrDimension{Msg: "x/fixed length must equal n"}
	}
	free := make([]int, 0, q.n)
	for i, f := range fixed {
		if !f {
			free = append(free, i)
		}
	}
	nf := len(free)
	out, err := New(maxInt(nf, 1), q.m, make([]float64, (1+q.m)*NParams(maxInt(nf, 1))))
	if err != nil {
		return Model{}, err
	}
	if nf == 0 {
		// No degrees of freedom: keep a 1-dimensional degenerate model
		// whose single free coordinate is unused (caller must recognize
		// TightVarBounds upstream); constants still carry the true value.
		for row := 0; row <= q.m; row++ {
			out.setAlpha0(row, q.evalRow(row, x))
		}
		return out, nil
	}

	for row := 0; row <= q.m; row++ {
		// Start from the original constant, add fixed-coordinate
		// contributions to it.
		c := q.alpha0(row)
		// Fixed-linear and fixed-diagonal-quadratic contributions.
		for i, f := range fixed {
			if !f {
				continue
			}
			c += q.alphaL(row, i) * x[i]
			c += 0.5 * q.hEntry(row, i, i) * x[i] * x[i]
		}
		// Fixed-fixed cross terms (i>j both fixed).
		for i := 0; i < q.n; i++ {
			if !fixed[i] {
				continue
			}
			for j := 0; j < i; j++ {
				if !fixed[j] {
					continue
				}
				c += q.hEntry(row, i, j) * x[i] * x[j]
			}
		}
		out.setAlpha0(row, c)

		// Surviving linear coefficients, with one-fixed cross-term folding.
		for fi, i := range free {
			lin := q.alphaL(row, i)
			for j, f := range fixed {
				if !f {
					continue
				}
				lin += q.hEntry(row, i, j) * x[j]
			}
			out.setAlphaL(row, fi, lin)
		}

		// Surviving Hessian entries, compacted to the free subspace.
		for fi, i := range free {
			out.setHEntry(row, fi, fi, q.hEntry(row, i, i))
			for fj := 0; fj < fi; fj++ {
				j := free[fj]
				out.setHEntry(row, fi, fj, q.hEntry(row, i, j))
			}
		}
	}
	return out, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Package linalg provides the dense matrix and vector kernel the rest of
// this module's solvers are built on. It is a thin, shape-checked wrapper
// around gonum.org/v1/gonum/mat: every operation that mat itself would
// panic on (dimension mismatch) is checked first and reported as an error
// instead, because several callers up the stack already expect a
// recoverable status rather than a crash.
package linalg

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrDimensionMismatch is returned whenever an operation's operands do not
// agree in shape. Callers up the stack (dogleg, pcg, lmrestore, tripm)
// translate this into their own MatrixDimensionsFailure status.
var ErrDimensionMismatch = errors.New("linalg: dimension mismatch")

// ErrFactorization is returned when a factorization (QR, SVD, LDLt) fails
// to converge or is applied to a singular/degenerate input.
type ErrFactorization struct {
	Op  string
	Msg string
}

func (e *ErrFactorization) Error() string {
	return fmt.Sprintf("linalg: %s factorization failed: %s", e.Op, e.Msg)
}

// Matrix is a dense r×c matrix. The zero value is not usable; construct
// with NewMatrix, Identity, or WrapMatrix.
type Matrix struct {
	m *mat.Dense
}

// Vector is a dense column vector (an n×1 Matrix in spec terms, kept as a
// distinct type because gonum's VecDense gives cheaper Dot/Norm access).
type Vector struct {
	v *mat.VecDense
}

// NewMatrix returns a zero-filled r×c matrix.
func NewMatrix(r, c int) Matrix {
	return Matrix{m: mat.NewDense(r, c, nil)}
}

// WrapMatrix adopts raw row-major data (length r*c) as a Matrix without
// copying.
func WrapMatrix(r, c int, data []float64) (Matrix, error) {
	if r*c != len(data) {
		return Matrix{}, ErrDimensionMismatch
	}
	return Matrix{m: mat.NewDense(r, c, data)}, nil
}

// Identity returns the n×n identity matrix.
func Identity(n int) Matrix {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return Matrix{m: m}
}

// NewVector returns a zero-filled n-vector.
func NewVector(n int) Vector {
	return Vector{v: mat.NewVecDense(n, nil)}
}

// WrapVector adopts a raw slice as a Vector without copying.
func WrapVector(data []float64) Vector {
	return Vector{v: mat.NewVecDense(len(data), data)}
}

// Dims returns the number of rows and columns.
func (m Matrix) Dims() (r, c int) { return m.m.Dims() }

// Len returns the vector's length.
func (v Vector) Len() int { return v.v.Len() }

// At returns the element at (i, j).
func (m Matrix) At(i, j int) float64 { return m.m.At(i, j) }

// Set assigns the element at (i, j).
func (m Matrix) Set(i, j int, val float64) { m.m.Set(i, j, val) }

// AtVec returns the i-th vector element.
func (v Vector) AtVec(i int) float64 { return v.v.AtVec(i) }

// SetVec assigns the i-th vector element.
func (v Vector) SetVec(i int, val float64) { v.v.SetVec(i, val) }

// RawVector exposes the underlying slice for callers that need direct
// []float64 access (e.g. handing a result back across the package
// boundary to qpmodel/tripm, which work in plain []float64).
func (v Vector) RawVector() []float64 {
	return v.v.RawVector().Data
}

// RawRowView returns row i without copying.
func (m Matrix) RawRowView(i int) []float64 {
	return m.m.RawRowView(i)
}

// Raw returns the underlying *mat.Dense, for callers that need to call
// straight into gonum (QR/SVD construction).
func (m Matrix) Raw() *mat.Dense { return m.m }

// RawVec returns the underlying *mat.VecDense.
func (v Vector) RawVec() *mat.VecDense { return v.v }

// Clone returns an independent copy.
func (m Matrix) Clone() Matrix {
	d := &mat.Dense{}
	d.CloneFrom(m.m)
	return Matrix{m: d}
}

// Clone returns an independent copy.
func (v Vector) Clone() Vector {
	n := v.v.Len()
	out := mat.NewVecDense(n, nil)
	out.CloneFromVec(v.v)
	return Vector{v: out}
}

// Transpose returns a transposed copy (never a view: callers mutate
// freely afterwards).
func (m Matrix) Transpose() Matrix {
	r, c := m.m.Dims()
	out := mat.NewDense(c, r, nil)
	out.Copy(m.m.T())
	return Matrix{m: out}
}

// Product returns a*b, allocating the result.
func Product(a, b Matrix) (Matrix, error) {
	ar, ac := a.m.Dims()
	br, bc := b.m.Dims()
	if ac != br {
		return Matrix{}, ErrDimensionMismatch
	}
	out := mat.NewDense(ar, bc, nil)
	out.Mul(a.m, b.m)
	return Matrix{m: out}, nil
}

// InplaceProduct computes dst = a*b without allocating, reusing dst's
// backing storage. dst must already have shape (rows(a), cols(b)).
func InplaceProduct(dst, a, b Matrix) error {
	ar, ac := a.m.Dims()
	br, bc := b.m.Dims()
	dr, dc := dst.m.Dims()
	if ac != br || dr != ar || dc != bc {
		return ErrDimensionMismatch
	}
	dst.m.Mul(a.m, b.m)
	return nil
}

// MulVec returns a*v.
func MulVec(a Matrix, v Vector) (Vector, error) {
	ar, ac := a.m.Dims()
	if ac != v.v.Len() {
		return Vector{}, ErrDimensionMismatch
	}
	out := mat.NewVecDense(ar, nil)
	out.MulVec(a.m, v.v)
	return Vector{v: out}, nil
}

// Dot returns the inner product of a and b.
func Dot(a, b Vector) (float64, error) {
	if a.v.Len() != b.v.Len() {
		return 0, ErrDimensionMismatch
	}
	return mat.Dot(a.v, b.v), nil
}

// Norm2 returns the Euclidean norm.
func Norm2(v Vector) float64 {
	return floats.Norm(v.v.RawVector().Data, 2)
}

// NormSquare returns the squared Euclidean norm.
func NormSquare(v Vector) float64 {
	n := Norm2(v)
	return n * n
}

// NormInf returns the infinity norm.
func NormInf(v Vector) float64 {
	return floats.Norm(v.v.RawVector().Data, math.Inf(1))
}

// DistNorm2 returns ||a-b||_2.
func DistNorm2(a, b Vector) (float64, error) {
	if a.v.Len() != b.v.Len() {
		return 0, ErrDimensionMismatch
	}
	n := a.v.Len()
	diff := make([]float64, n)
	for i := 0; i < n; i++ {
		diff[i] = a.v.AtVec(i) - b.v.AtVec(i)
	}
	return floats.Norm(diff, 2), nil
}

// Multiply scales m in place by alpha.
func (m *Matrix) Multiply(alpha float64) {
	m.m.Scale(alpha, m.m)
}

// Add adds b into m in place.
func (m *Matrix) Add(b Matrix) error {
	r, c := m.m.Dims()
	br, bc := b.m.Dims()
	if r != br || c != bc {
		return ErrDimensionMismatch
	}
	m.m.Add(m.m, b.m)
	return nil
}

// Sub subtracts b from m in place.
func (m *Matrix) Sub(b Matrix) error {
	r, c := m.m.Dims()
	br, bc := b.m.Dims()
	if r != br || c != bc {
		return ErrDimensionMismatch
	}
	m.m.Sub(m.m, b.m)
	return nil
}

// SolveLeastSquaresSVD returns the minimum-norm least-squares solution of
// w*x = b via SVD, the way spec.md §4.1 requires:
//
//	w = U Σ V^T   =>   x = V Σ^+ U^T b
//
// with singular values below 1e-12*sigma_max treated as zero in Σ^+.
func SolveLeastSquaresSVD(w Matrix, b Vector) (Vector, error) {
	wr, wc := w.m.Dims()
	if wr != b.v.Len() {
		return Vector{}, ErrDimensionMismatch
	}
	var svd mat.SVD
	ok := svd.Factorize(w.m, mat.SVDThin)
	if !ok {
		return Vector{}, &ErrFactorization{Op: "SVD", Msg: "did not converge"}
	}
	k := min(wr, wc)
	sv := svd.Values(nil)
	u, v := &mat.Dense{}, &mat.Dense{}
	svd.UTo(u)
	svd.VTo(v)

	sigmaMax := 0.0
	for _, s := range sv {
		if s > sigmaMax {
			sigmaMax = s
		}
	}
	tol := 1e-12 * sigmaMax

	// z = U^T b, restricted to the first k singular directions.
	z := make([]float64, k)
	for i := 0; i < k; i++ {
		sum := 0.0
		for r := 0; r < wr; r++ {
			sum += u.At(r, i) * b.v.AtVec(r)
		}
		if sv[i] > tol {
			z[i] = sum / sv[i]
		}
	}
	// x = V z
	x := mat.NewVecDense(wc, nil)
	for j := 0; j < wc; j++ {
		sum := 0.0
		for i := 0; i < k; i++ {
			sum += v.At(j, i) * z[i]
		}
		x.SetVec(j, sum)
	}
	return Vector{v: x}, nil
}

// QRFactorize produces the thin QR factorization of m when rows >= cols,
// and the thin QR of m^T (used to build the least-norm solution of an
// under-determined system) otherwise, with the dispatch made explicitly
// by shape as spec.md §4.1 requires.
//
// transposed reports whether the factorization was performed on m^T.
func QRFactorize(m Matrix) (q, r Matrix, transposed bool, err error) {
	rows, cols := m.m.Dims()
	var qr mat.QR
	// mat.QR yields the full square Q and a trapezoidal R; both are cut
	// down to their thin parts below.
	if rows >= cols {
		qr.Factorize(m.m)
		qd, rd := &mat.Dense{}, &mat.Dense{}
		qr.QTo(qd)
		qr.RTo(rd)
		return Matrix{m: qd.Slice(0, rows, 0, cols).(*mat.Dense)}, Matrix{m: rd.Slice(0, cols, 0, cols).(*mat.Dense)}, false, nil
	}
	mt := m.Transpose()
	qr.Factorize(mt.m)
	qd, rd := &mat.Dense{}, &mat.Dense{}
	qr.QTo(qd)
	qr.RTo(rd)
	return Matrix{m: qd.Slice(0, cols, 0, rows).(*mat.Dense)}, Matrix{m: rd.Slice(0, rows, 0, rows).(*mat.Dense)}, true, nil
}

// BackSubstitute solves the upper-triangular system r*x = rhs by back
// substitution. r must be square.
func BackSubstitute(r Matrix, rhs []float64) ([]float64, error) {
	n, c := r.Dims()
	if n != c || n != len(rhs) {
		return nil, ErrDimensionMismatch
	}
	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := rhs[i]
		for j := i + 1; j < n; j++ {
			sum -= r.At(i, j) * x[j]
		}
		diag := r.At(i, i)
		if math.Abs(diag) < 1e-300 {
			return nil, &ErrFactorization{Op: "back-substitute", Msg: "zero pivot"}
		}
		x[i] = sum / diag
	}
	return x, nil
}

// ForwardSubstituteUpperTranspose solves r^T * y = rhs by forward
// substitution, where r is the upper-triangular matrix of a QR
// factorization (so r^T is lower triangular). This is the
// "least-norm" half of the QR-based under-determined solve: given
// A^T = Q R, the minimum-norm solution of A x = c is x = Q*(R^-T c).
func ForwardSubstituteUpperTranspose(r Matrix, rhs []float64) ([]float64, error) {
	n, c := r.Dims()
	if n != c || n != len(rhs) {
		return nil, ErrDimensionMismatch
	}
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := rhs[i]
		for j := 0; j < i; j++ {
			sum -= r.At(j, i) * y[j]
		}
		diag := r.At(i, i)
		if math.Abs(diag) < 1e-300 {
			return nil, &ErrFactorization{Op: "forward-substitute", Msg: "zero pivot"}
		}
		y[i] = sum / diag
	}
	return y, nil
}

// LDLt is a symmetric indefinite factorization with partial pivoting of a
// saturated (possibly indefinite) matrix, used by pcg to solve the KKT
// augmented system [I A^T; A 0]. gonum.org/v1/gonum/mat exposes Cholesky
// (positive-definite only) and Bunch-Kaufman is not part of the public mat
// API surface retrieved here, so this factorization is implemented
// directly; see DESIGN.md for the justification.
type LDLt struct {
	n       int
	l       [][]float64 // unit lower triangular, row-major jagged
	d       []float64   // diagonal of D
	pivots  []int       // pivots[i] = row swapped with i during elimination
	singular bool
}

// LDLtFactorize computes a partial-pivoted LDLt factorization of the
// symmetric matrix m (only the lower triangle is read).
func LDLtFactorize(m Matrix) (LDLt, error) {
	n, c := m.m.Dims()
	if n != c {
		return LDLt{}, ErrDimensionMismatch
	}
	a := make([][]float64, n)
	for i := 0; i < n; i++ {
		a[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			if j <= i {
				a[i][j] = m.m.At(i, j)
			} else {
				a[i][j] = m.m.At(j, i)
			}
		}
	}
	pivots := make([]int, n)
	for i := range pivots {
		pivots[i] = i
	}
	d := make([]float64, n)
	l := make([][]float64, n)
	for i := range l {
		l[i] = make([]float64, n)
		l[i][i] = 1
	}

	for k := 0; k < n; k++ {
		// Partial pivot: choose the largest remaining diagonal magnitude.
		piv := k
		best := math.Abs(a[k][k])
		for i := k + 1; i < n; i++ {
			if math.Abs(a[i][i]) > best {
				best = math.Abs(a[i][i])
				piv = i
			}
		}
		if piv != k {
			a[k], a[piv] = a[piv], a[k]
			for i := 0; i < n; i++ {
				a[i][k], a[i][piv] = a[i][piv], a[i][k]
			}
			// The multipliers already computed for rows k and piv (columns
			// < k) belong to whichever row index they now occupy, so they
			// swap along with a.
			l[k], l[piv] = l[piv], l[k]
			pivots[k] = piv
		}
		dk := a[k][k]
		if math.Abs(dk) < 1e-300 {
			return LDLt{n: n, singular: true}, &ErrFactorization{Op: "LDLt", Msg: "singular pivot"}
		}
		d[k] = dk
		for i := k + 1; i < n; i++ {
			l[i][k] = a[i][k] / dk
		}
		for i := k + 1; i < n; i++ {
			for j := k + 1; j <= i; j++ {
				a[i][j] -= l[i][k] * dk * l[j][k]
				a[j][i] = a[i][j]
			}
		}
	}
	return LDLt{n: n, l: l, d: d, pivots: pivots}, nil
}

// Solve solves the saturated system this LDLt factored, for right-hand
// side rhs, applying the same row permutation used during factorization.
func (f LDLt) Solve(rhs Vector) (Vector, error) {
	if f.singular || f.l == nil {
		return Vector{}, &ErrFactorization{Op: "LDLt", Msg: "factorization unavailable"}
	}
	if rhs.v.Len() != f.n {
		return Vector{}, ErrDimensionMismatch
	}
	n := f.n
	b := make([]float64, n)
	copy(b, rhs.RawVector())
	// Apply the same row swaps performed during elimination.
	for k := 0; k < n; k++ {
		if f.pivots[k] != k {
			b[k], b[f.pivots[k]] = b[f.pivots[k]], b[k]
		}
	}
	// Forward substitution: L y = b.
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := b[i]
		for j := 0; j < i; j++ {
			sum -= f.l[i][j] * y[j]
		}
		y[i] = sum
	}
	// Diagonal solve: D z = y.
	z := make([]float64, n)
	for i := 0; i < n; i++ {
		if math.Abs(f.d[i]) < 1e-300 {
			return Vector{}, &ErrFactorization{Op: "LDLt", Msg: "singular diagonal"}
		}
		z[i] = y[i] / f.d[i]
	}
	// Back substitution: L^T x = z. This yields P*x, the solution in
	// pivoted coordinate order.
	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := z[i]
		for j := i + 1; j < n; j++ {
			sum -= f.l[j][i] * x[j]
		}
		x[i] = sum
	}
	// Undo the pivot permutation by replaying the swaps in reverse order.
	for k := n - 1; k >= 0; k-- {
		if f.pivots[k] != k {
			x[k], x[f.pivots[k]] = x[f.pivots[k]], x[k]
		}
	}
	return WrapVector(x), nil
}

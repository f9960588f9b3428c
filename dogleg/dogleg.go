// Package dogleg implements the trust-region dogleg solver of spec.md
// §4.3: min 1/2||A x + b||^2 subject to ||x||_2 <= delta, with A possibly
// over- or under-determined. The Cauchy/Newton dogleg path follows the
// classical trust-region construction the way the teacher's own
// optimize package structures a single-purpose numerical routine: a
// Status enum built like termination.go's, a Settings-free Solve
// function (spec.md gives dogleg no tunables beyond delta), and a
// Result carrying both the answer and the outcome.
package dogleg

import (
	"errors"
	"math"

	"github.com/bbopt/nomad-sub005/linalg"
)

// Status reports the numerical outcome of a Solve call. Values greater
// than zero and less than MatrixDimensionsFailure indicate a usable
// solution; the rest are errors the caller must react to.
type Status int

const (
	// Solved indicates x is the accepted dogleg step.
	Solved Status = iota + 1
	// MatrixDimensionsFailure indicates A and b (or the output buffer)
	// disagree in shape.
	MatrixDimensionsFailure
	// QRFactorizationFailure indicates the Newton-point QR solve failed.
	QRFactorizationFailure
	// TRParamError indicates delta <= 1e-8.
	TRParamError
	// TRNumError indicates neither root of the boundary intersection was
	// admissible.
	TRNumError
)

func (s Status) String() string {
	if str, ok := statusNames[s]; ok {
		return str
	}
	return "Unknown"
}

var statusNames = map[Status]string{
	Solved:                  "Solved",
	MatrixDimensionsFailure: "MatrixDimensionsFailure",
	QRFactorizationFailure:  "QRFactorizationFailure",
	TRParamError:            "TRParamError",
	TRNumError:              "TRNumError",
}

// Result is the outcome of a Solve call.
type Result struct {
	X      []float64
	Status Status
}

// ErrNilInput is a programmer error: a required matrix/vector argument
// was not supplied.
var ErrNilInput = errors.New("dogleg: nil matrix or vector argument")

// Solve solves min 1/2||A x + b||^2 subject to ||x|| <= delta.
func Solve(a linalg.Matrix, b []float64, delta float64) (Result, error) {
	ar, ac := a.Dims()
	if ar != len(b) {
		return Result{Status: MatrixDimensionsFailure}, nil
	}
	if delta <= 1e-8 {
		return Result{Status: TRParamError}, nil
	}

	bVec := linalg.WrapVector(append([]float64(nil), b...))
	if linalg.NormInf(bVec) <= 1e-13 {
		return Result{X: make([]float64, ac), Status: Solved}, nil
	}

	at := a.Transpose()
	atb, err := linalg.MulVec(at, bVec)
	if err != nil {
		return Result{}, ErrNilInput
	}
	aatb, err := linalg.MulVec(a, atb)
	if err != nil {
		return Result{}, ErrNilInput
	}
	num := linalg.NormSquare(atb)
	den := linalg.NormSquare(aatb)
	var xC []float64
	if den <= 1e-300 {
		// A^T b is already (numerically) in the null space of A: the
		// Cauchy point collapses to zero, only the Newton branch matters.
		xC = make([]float64, ac)
	} else {
		alpha := num / den
		xC = make([]float64, ac)
		for i := range xC {
			xC[i] = -alpha * atb.AtVec(i)
		}
	}

	xN, status := newtonPoint(a, bVec, ar, ac)
	if status != Solved {
		return Result{Status: status}, nil
	}

	normN := norm2(xN)
	if normN <= delta {
		return Result{X: xN, Status: Solved}, nil
	}

	normC := norm2(xC)
	if normC > delta {
		scale := delta / normC
		x := make([]float64, ac)
		for i := range x {
			x[i] = scale * xC[i]
		}
		return Result{X: x, Status: Solved}, nil
	}

	// Dogleg segment x_C + (tau-1)(x_N - x_C), tau in [1,2].
	// Reparameterize r = tau-1 in [0,1]: x(r) = xC + r*(xN-xC).
	d := make([]float64, ac)
	for i := range d {
		d[i] = xN[i] - xC[i]
	}
	// ||xC + r d||^2 = delta^2  =>  quadratic in r.
	aCoef := dot(d, d)
	bCoef := 2 * dot(xC, d)
	cCoef := dot(xC, xC) - delta*delta
	r, ok := admissibleRoot(aCoef, bCoef, cCoef)
	if !ok {
		return Result{Status: TRNumError}, nil
	}
	x := make([]float64, ac)
	for i := range x {
		x[i] = xC[i] + r*d[i]
	}
	return Result{X: x, Status: Solved}, nil
}

// newtonPoint computes the Newton point of min ||Ax+b|| as the
// least-squares solution (rows >= cols) or least-norm solution (rows <
// cols) of A x = -b, via QR of A or A^T respectively, with the dispatch
// made explicitly by shape as spec.md §4.3 requires.
func newtonPoint(a linalg.Matrix, b linalg.Vector, rows, cols int) ([]float64, Status) {
	negB := make([]float64, rows)
	for i := 0; i < rows; i++ {
		negB[i] = -b.AtVec(i)
	}

	q, r, transposed, err := linalg.QRFactorize(a)
	if err != nil {
		return fallbackSVD(a, negB)
	}

	if !transposed {
		// Overdetermined/square: A = Q R (thin), solve R x = Q^T(-b).
		qt := q.Transpose()
		qtb, err := linalg.MulVec(qt, linalg.WrapVector(negB))
		if err != nil {
			return fallbackSVD(a, negB)
		}
		x, err := linalg.BackSubstitute(r, qtb.RawVector())
		if err != nil {
			return fallbackSVD(a, negB)
		}
		return x, Solved
	}

	// Under-determined: A^T = Q R, minimum-norm solution is
	// x = Q*(R^-T * (-b)).
	y, err := linalg.ForwardSubstituteUpperTranspose(r, negB)
	if err != nil {
		return fallbackSVD(a, negB)
	}
	xVec, err := linalg.MulVec(q, linalg.WrapVector(y))
	if err != nil {
		return fallbackSVD(a, negB)
	}
	return xVec.RawVector(), Solved
}

// fallbackSVD is used when the QR path hits a degenerate (near-singular)
// pivot; the SVD-backed solver still returns the minimum-norm
// least-squares answer in that case instead of failing outright.
func fallbackSVD(a linalg.Matrix, negB []float64) ([]float64, Status) {
	x, err := linalg.SolveLeastSquaresSVD(a, linalg.WrapVector(negB))
	if err != nil {
		return nil, QRFactorizationFailure
	}
	return x.RawVector(), Solved
}

// admissibleRoot returns the root of a*r^2+b*r+c=0 lying in [0,1]; if
// both roots are admissible the larger (tau in [1,2] sense) is taken,
// matching the to-boundary convention used throughout this spec.
func admissibleRoot(a, b, c float64) (float64, bool) {
	if math.Abs(a) < 1e-300 {
		if math.Abs(b) < 1e-300 {
			return 0, false
		}
		r := -c / b
		if r >= 0 && r <= 1 {
			return r, true
		}
		return 0, false
	}
	disc := b*b - 4*a*c
	if disc < 0 {
		return 0, false
	}
	sq := math.Sqrt(disc)
	r1 := (-b + sq) / (2 * a)
	r2 := (-b - sq) / (2 * a)
	if r1 < r2 {
		r1, r2 = r2, r1
	}
	if r1 >= 0 && r1 <= 1 {
		return r1, true
	}
	if r2 >= 0 && r2 <= 1 {
		return r2, true
	}
	return 0, false
}

func norm2(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

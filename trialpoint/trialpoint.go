// Package trialpoint implements the model-assisted trial-point
// generator of spec.md §4.7: it drives tripm.Solve twice per frame
// (once seeking the best feasible descent, once seeking the best
// infeasible reduction), snaps each candidate onto the caller's mesh,
// deduplicates against the evaluation cache and against itself, and
// returns the surviving candidates for the caller to evaluate. It never
// evaluates the blackbox itself: that stays the orchestrator's job, the
// way the teacher keeps its own optimize.Method producers ignorant of
// how Local feeds them to a function.
package trialpoint

import (
	"context"
	"sort"

	"github.com/bbopt/nomad-sub005/qpmodel"
	"github.com/bbopt/nomad-sub005/tripm"
)

// EvalPoint is a candidate point offered up for blackbox evaluation.
type EvalPoint struct {
	X      []float64
	Lambda []float64
	Origin string // "feasible" or "infeasible", naming which run produced it
}

// CacheView lets the generator skip points the orchestrator has already
// evaluated, without giving it write access to the cache.
type CacheView interface {
	Contains(x []float64, tol float64) bool
}

// MeshSnapper rounds a continuous point onto the current mesh.
type MeshSnapper interface {
	Snap(x []float64) []float64
}

// FrameContext carries the per-call state a poll/search step supplies:
// the frame center, its variable bounds, and the two TRIPM starting
// points (best feasible and best infeasible incumbents known so far).
type FrameContext struct {
	Center          []float64
	Lower, Upper    []float64
	FeasibleStart   []float64
	InfeasibleStart []float64
}

// Generator proposes trial points from a quadratic surrogate model.
type Generator struct {
	Cache CacheView
	Snap  MeshSnapper
	TRIPM tripm.Settings
}

// dedupeTolerance is the lexicographic-comparison tolerance spec.md
// §4.7 specifies for collapsing numerically identical candidates.
const dedupeTolerance = 1e-9

// Propose runs the model-assisted trial-point generator over model
// within frame, returning the deduplicated candidates an orchestrator
// should evaluate. ctx is checked only at the two tripm.Solve call
// boundaries, per spec.md §5's concurrency model.
func (g *Generator) Propose(ctx context.Context, model qpmodel.Model, frame FrameContext) ([]EvalPoint, error) {
	var out []EvalPoint

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if start := startOrCenter(frame.FeasibleStart, frame.Center); start != nil {
		res, err := tripm.Solve(model, start, frame.Lower, frame.Upper, g.TRIPM)
		if err != nil {
			return nil, err
		}
		if res.Status == tripm.Solved || res.Status == tripm.MaxIterReached {
			out = append(out, EvalPoint{X: g.snap(res.X), Lambda: res.Lambda, Origin: "feasible"})
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if start := startOrCenter(frame.InfeasibleStart, frame.Center); start != nil {
		res, err := tripm.Solve(model, start, frame.Lower, frame.Upper, g.TRIPM)
		if err != nil {
			return nil, err
		}
		if res.Status == tripm.Solved || res.Status == tripm.MaxIterReached {
			out = append(out, EvalPoint{X: g.snap(res.X), Lambda: res.Lambda, Origin: "infeasible"})
		}
	}

	out = dedupeTrialPoints(out)
	out = g.filterCached(out)
	return out, nil
}

func startOrCenter(preferred, center []float64) []float64 {
	if preferred != nil {
		return preferred
	}
	return center
}

func (g *Generator) snap(x []float64) []float64 {
	if g.Snap == nil {
		return x
	}
	return g.Snap.Snap(x)
}

func (g *Generator) filterCached(points []EvalPoint) []EvalPoint {
	if g.Cache == nil {
		return points
	}
	out := points[:0]
	for _, p := range points {
		if !g.Cache.Contains(p.X, dedupeTolerance) {
			out = append(out, p)
		}
	}
	return out
}

// dedupeTrialPoints removes candidates that coincide to within
// dedupeTolerance, after sorting lexicographically so the comparison is
// order-independent of the two tripm.Solve runs' arrival order.
func dedupeTrialPoints(points []EvalPoint) []EvalPoint {
	if len(points) < 2 {
		return points
	}
	sorted := append([]EvalPoint(nil), points...)
	sort.Slice(sorted, func(i, j int) bool { return lexLess(sorted[i].X, sorted[j].X) })

	out := sorted[:1]
	for _, p := range sorted[1:] {
		if !sameCoordinates(out[len(out)-1].X, p.X) {
			out = append(out, p)
		}
	}
	return out
}

func lexLess(a, b []float64) bool {
	for i := range a {
		if a[i] < b[i]-dedupeTolerance {
			return true
		}
		if a[i] > b[i]+dedupeTolerance {
			return false
		}
	}
	return false
}

func sameCoordinates(a, b []float64) bool {
	for i := range a {
		d := a[i] - b[i]
		if d < -dedupeTolerance || d > dedupeTolerance {
			return false
		}
	}
	return true
}

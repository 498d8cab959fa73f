package align

import (
	"math"
	"testing"
)

func quadraticObjective(target PlacementParams) Objective {
	return func(p PlacementParams) float64 {
		dx := (p.X - target.X) / 50
		dy := (p.Y - target.Y) / 50
		df := (p.FontSize - target.FontSize) / 10
		dl := p.LineSpacing - target.LineSpacing
		return 1 - (dx*dx + dy*dy + df*df + dl*dl)
	}
}

// TestOptimizeRecoversTarget: from a misplaced start, the search should land
// close to the smooth objective's maximum.
func TestOptimizeRecoversTarget(t *testing.T) {
	target := PlacementParams{X: 108, Y: 206, FontSize: 31, LineSpacing: 1.1}
	start := PlacementParams{X: 100, Y: 200, FontSize: 30, LineSpacing: 1.05}

	opt := NewOptimizer(DefaultOptimizerConfig())
	got, raw, cleared := opt.Optimize(start, BoundsAround(start), quadraticObjective(target))

	if !cleared {
		t.Errorf("expected objective floor cleared, raw=%g", raw)
	}
	if math.Abs(got.X-target.X) > 2 || math.Abs(got.Y-target.Y) > 2 {
		t.Errorf("origin off target: got (%g, %g), want near (%g, %g)",
			got.X, got.Y, target.X, target.Y)
	}
	if math.Abs(got.FontSize-target.FontSize) > 1 {
		t.Errorf("font size off target: got %g, want near %g", got.FontSize, target.FontSize)
	}
}

// TestOptimizeDeterministic: identical inputs yield identical outputs, so
// re-running a converged column reproduces its result.
func TestOptimizeDeterministic(t *testing.T) {
	target := PlacementParams{X: 55, Y: 95, FontSize: 22, LineSpacing: 1.2}
	start := PlacementParams{X: 50, Y: 100, FontSize: 20, LineSpacing: 1.1}
	f := quadraticObjective(target)

	opt := NewOptimizer(DefaultOptimizerConfig())
	p1, r1, _ := opt.Optimize(start, BoundsAround(start), f)
	p2, r2, _ := opt.Optimize(start, BoundsAround(start), f)

	if p1 != p2 || r1 != r2 {
		t.Errorf("non-deterministic result: %+v (%g) vs %+v (%g)", p1, r1, p2, r2)
	}
}

// TestOptimizeRespectsBounds: the result never leaves the search box even
// when the objective pulls toward a maximum outside it.
func TestOptimizeRespectsBounds(t *testing.T) {
	start := PlacementParams{X: 50, Y: 100, FontSize: 20, LineSpacing: 1.0}
	b := BoundsAround(start)
	// Maximum far outside the box.
	target := PlacementParams{X: 500, Y: 900, FontSize: 80, LineSpacing: 3.0}

	opt := NewOptimizer(DefaultOptimizerConfig())
	got, _, _ := opt.Optimize(start, b, quadraticObjective(target))

	if got != b.Clamp(got) {
		t.Errorf("result escaped bounds: %+v", got)
	}
}

// TestOptimizeLowObjectiveFlagged: a plateau below the floor still returns
// usable params but reports low confidence.
func TestOptimizeLowObjectiveFlagged(t *testing.T) {
	start := PlacementParams{X: 10, Y: 10, FontSize: 16, LineSpacing: 1.0}
	flat := func(PlacementParams) float64 { return 0.2 }

	opt := NewOptimizer(DefaultOptimizerConfig())
	got, raw, cleared := opt.Optimize(start, BoundsAround(start), flat)

	if cleared {
		t.Errorf("expected floor not cleared at raw=%g", raw)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("low-confidence params still must be usable: %v", err)
	}
}

// TestOptimizeEvalBudget: the search stops at MaxEvals.
func TestOptimizeEvalBudget(t *testing.T) {
	cfg := DefaultOptimizerConfig()
	cfg.MaxEvals = 50

	evals := 0
	counting := func(p PlacementParams) float64 {
		evals++
		return quadraticObjective(PlacementParams{X: 30, Y: 30, FontSize: 18, LineSpacing: 1.1})(p)
	}

	start := PlacementParams{X: 10, Y: 10, FontSize: 16, LineSpacing: 1.0}
	opt := NewOptimizer(cfg)
	opt.Optimize(start, BoundsAround(start), counting)

	if evals > cfg.MaxEvals {
		t.Errorf("exceeded eval budget: %d > %d", evals, cfg.MaxEvals)
	}
}

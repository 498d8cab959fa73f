package align

import "math"

// Objective evaluates a placement; higher is better. The engine supplies a
// render-and-score closure, so the optimizer never touches images directly.
type Objective func(PlacementParams) float64

// Bounds is the box-constrained search region for placement parameters.
type Bounds struct {
	Min PlacementParams
	Max PlacementParams
}

// BoundsAround builds a search region centered on p: the origin may drift by
// one glyph cell, the font size by 30%, the line spacing within a tight
// non-overlapping band.
func BoundsAround(p PlacementParams) Bounds {
	return Bounds{
		Min: PlacementParams{
			X:           p.X - p.FontSize,
			Y:           p.Y - p.FontSize,
			FontSize:    p.FontSize * 0.7,
			LineSpacing: 1.0,
		},
		Max: PlacementParams{
			X:           p.X + p.FontSize,
			Y:           p.Y + p.FontSize,
			FontSize:    p.FontSize * 1.3,
			LineSpacing: 1.6,
		},
	}
}

// Clamp forces p inside the bounds.
func (b Bounds) Clamp(p PlacementParams) PlacementParams {
	clamp := func(v, lo, hi float64) float64 {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}
	return PlacementParams{
		X:           clamp(p.X, b.Min.X, b.Max.X),
		Y:           clamp(p.Y, b.Min.Y, b.Max.Y),
		FontSize:    clamp(p.FontSize, b.Min.FontSize, b.Max.FontSize),
		LineSpacing: clamp(p.LineSpacing, b.Min.LineSpacing, b.Max.LineSpacing),
	}
}

func (b Bounds) span() PlacementParams {
	return PlacementParams{
		X:           b.Max.X - b.Min.X,
		Y:           b.Max.Y - b.Min.Y,
		FontSize:    b.Max.FontSize - b.Min.FontSize,
		LineSpacing: b.Max.LineSpacing - b.Min.LineSpacing,
	}
}

// OptimizerConfig tunes the pattern search.
type OptimizerConfig struct {
	// InitialStep and MinStep are fractions of each parameter's bounds span.
	InitialStep float64
	MinStep     float64
	// MaxEvals caps objective evaluations per Optimize call.
	MaxEvals int
	// JumpPenalty discounts candidates far from the starting point, damping
	// oscillation when the transcription itself is wrong.
	JumpPenalty float64
	// ObjectiveFloor is the minimum raw objective for a confident result;
	// below it the best-effort params are tagged low-confidence.
	ObjectiveFloor float64
}

func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		InitialStep:    0.25,
		MinStep:        0.01,
		MaxEvals:       400,
		JumpPenalty:    0.05,
		ObjectiveFloor: 0.5,
	}
}

// Optimizer refines placement parameters with a gradient-free coordinate
// pattern search. The renderer/scorer pipeline is non-smooth, so no gradient
// exists; shrinking-step moves with deterministic multi-start restarts escape
// the deceptive local optima an incorrect transcription creates.
type Optimizer struct {
	cfg OptimizerConfig
}

func NewOptimizer(cfg OptimizerConfig) *Optimizer {
	if cfg.MaxEvals <= 0 {
		cfg = DefaultOptimizerConfig()
	}
	return &Optimizer{cfg: cfg}
}

// Optimize returns the best placement found, its raw objective value and
// whether the result cleared the objective floor. It always returns usable
// params: a plateau below the floor is reported, never an error.
func (o *Optimizer) Optimize(start PlacementParams, b Bounds, f Objective) (PlacementParams, float64, bool) {
	evals := 0
	eval := func(p PlacementParams) float64 {
		evals++
		return f(p)
	}

	bestParams := b.Clamp(start)
	bestRaw := eval(bestParams)

	for _, origin := range o.restartPoints(start, b) {
		p, raw := o.search(origin, start, b, eval, &evals)
		if raw > bestRaw {
			bestRaw = raw
			bestParams = p
		}
		if evals >= o.cfg.MaxEvals {
			break
		}
	}

	return bestParams, bestRaw, bestRaw >= o.cfg.ObjectiveFloor
}

// restartPoints are the multi-start origins: the caller's params plus fixed
// fractional offsets of the bounds along each axis. Deterministic on purpose,
// so re-running an already-converged column reproduces its result exactly.
func (o *Optimizer) restartPoints(start PlacementParams, b Bounds) []PlacementParams {
	span := b.span()
	offsets := []float64{-0.25, 0.25}
	points := []PlacementParams{b.Clamp(start)}
	for _, dx := range offsets {
		p := start
		p.X += dx * span.X
		points = append(points, b.Clamp(p))
	}
	for _, dy := range offsets {
		p := start
		p.Y += dy * span.Y
		points = append(points, b.Clamp(p))
	}
	return points
}

// search runs one shrinking-step coordinate descent from origin. The
// penalized acceptance criterion discounts moves far from anchor; the
// returned value is the raw (unpenalized) objective.
func (o *Optimizer) search(origin, anchor PlacementParams, b Bounds, eval Objective, evals *int) (PlacementParams, float64) {
	span := b.span()
	steps := [4]float64{
		span.X * o.cfg.InitialStep,
		span.Y * o.cfg.InitialStep,
		span.FontSize * o.cfg.InitialStep,
		span.LineSpacing * o.cfg.InitialStep,
	}
	minSteps := [4]float64{
		span.X * o.cfg.MinStep,
		span.Y * o.cfg.MinStep,
		span.FontSize * o.cfg.MinStep,
		span.LineSpacing * o.cfg.MinStep,
	}

	current := origin
	currentRaw := eval(current)
	currentPen := currentRaw - o.penalty(current, anchor, span)

	for *evals < o.cfg.MaxEvals {
		improved := false
		for axis := 0; axis < 4; axis++ {
			if steps[axis] <= 0 {
				continue
			}
			for _, dir := range [2]float64{+1, -1} {
				cand := b.Clamp(nudge(current, axis, dir*steps[axis]))
				if cand == current {
					continue
				}
				raw := eval(cand)
				pen := raw - o.penalty(cand, anchor, span)
				if pen > currentPen {
					current = cand
					currentRaw = raw
					currentPen = pen
					improved = true
				}
				if *evals >= o.cfg.MaxEvals {
					return current, currentRaw
				}
			}
		}
		if !improved {
			done := true
			for axis := 0; axis < 4; axis++ {
				steps[axis] /= 2
				if steps[axis] > minSteps[axis] {
					done = false
				}
			}
			if done {
				break
			}
		}
	}
	return current, currentRaw
}

// penalty is the normalized distance from the anchor, scaled by JumpPenalty.
func (o *Optimizer) penalty(p, anchor, span PlacementParams) float64 {
	if o.cfg.JumpPenalty == 0 {
		return 0
	}
	norm := func(d, s float64) float64 {
		if s <= 0 {
			return 0
		}
		return d / s
	}
	dx := norm(p.X-anchor.X, span.X)
	dy := norm(p.Y-anchor.Y, span.Y)
	df := norm(p.FontSize-anchor.FontSize, span.FontSize)
	dl := norm(p.LineSpacing-anchor.LineSpacing, span.LineSpacing)
	return o.cfg.JumpPenalty * math.Sqrt(dx*dx+dy*dy+df*df+dl*dl)
}

func nudge(p PlacementParams, axis int, delta float64) PlacementParams {
	switch axis {
	case 0:
		p.X += delta
	case 1:
		p.Y += delta
	case 2:
		p.FontSize += delta
	default:
		p.LineSpacing += delta
	}
	return p
}

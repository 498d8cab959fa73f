package align

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/zupu/alignworker/internal/logging"
)

// QueryHint carries the context an OCR re-query needs: what kind of anomaly
// triggered it, where in the column it sits, and the glyphs around it.
type QueryHint struct {
	Kind    AnomalyKind
	Index   int
	Before  []rune
	After   []rune
	Current rune
}

// CandidateSource produces ranked replacement hypotheses for an anomalous
// position from a cropped view of the source column. Implementations live in
// internal/ocr; tests script their own.
type CandidateSource interface {
	Candidates(ctx context.Context, crop *image.Gray, hint QueryHint) ([]Candidate, error)
}

// Config tunes the correction loop and its sub-components.
type Config struct {
	// QualityThreshold is the mean similarity at which a column converges.
	QualityThreshold float64
	// MaxIterations caps ALIGN/SCORE/DETECT/CORRECT rounds per column.
	MaxIterations int
	// RequeryRetries and RequeryBackoff bound the re-query retry policy;
	// RequeryTimeout applies per attempt.
	RequeryRetries int
	RequeryBackoff time.Duration
	RequeryTimeout time.Duration
	// RestartAfterLengthChange re-runs placement optimization as soon as a
	// correction changes the transcription length, since every downstream
	// cell boundary moved.
	RestartAfterLengthChange bool
	// LocalWindowRadius is the half-width of the re-scoring window around an
	// edit when evaluating a candidate.
	LocalWindowRadius int

	Scorer    ScorerConfig
	Optimizer OptimizerConfig
	Detector  DetectorConfig
}

func DefaultConfig() Config {
	return Config{
		QualityThreshold:         0.85,
		MaxIterations:            5,
		RequeryRetries:           2,
		RequeryBackoff:           200 * time.Millisecond,
		RequeryTimeout:           10 * time.Second,
		RestartAfterLengthChange: true,
		LocalWindowRadius:        2,
		Scorer:                   DefaultScorerConfig(),
		Optimizer:                DefaultOptimizerConfig(),
		Detector:                 DefaultDetectorConfig(),
	}
}

// Engine runs the full verification loop for one column: optimize placement,
// score every character, detect anomalies, query for corrections, repeat.
type Engine struct {
	cfg       Config
	renderer  *Renderer
	scorer    *Scorer
	optimizer *Optimizer
	detector  *Detector
	source    CandidateSource
	logger    *logging.Logger
}

// NewEngine wires the engine from a glyph rasterizer and a candidate source.
// A nil source disables correction: anomalies are reported unresolved.
func NewEngine(cfg Config, rast GlyphRasterizer, source CandidateSource) *Engine {
	if cfg.MaxIterations <= 0 {
		cfg = DefaultConfig()
	}
	return &Engine{
		cfg:       cfg,
		renderer:  NewRenderer(rast),
		scorer:    NewScorer(cfg.Scorer),
		optimizer: NewOptimizer(cfg.Optimizer),
		detector:  NewDetector(cfg.Detector),
		source:    source,
		logger:    logging.NewLogger("align-engine"),
	}
}

// Run verifies and corrects one column transcription. It terminates with
// StatusConverged when the mean similarity clears the quality threshold, or
// StatusFailedPartial carrying the best-observed state when iterations are
// exhausted or no correction makes progress. Malformed inputs return an error
// before any iteration.
func (e *Engine) Run(ctx context.Context, region ColumnRegion, initial Transcription, start PlacementParams) (*AlignmentResult, error) {
	if region.Image == nil || region.Image.Bounds().Empty() {
		return nil, fmt.Errorf("column %s has no source image", region.ID)
	}
	if err := start.Validate(); err != nil {
		return nil, fmt.Errorf("column %s: invalid placement: %w", region.ID, err)
	}

	// An empty transcription has nothing to verify and nothing to misalign.
	if initial.Len() == 0 {
		return &AlignmentResult{
			Params:        start,
			Transcription: initial,
			AvgSimilarity: 1.0,
			Iterations:    0,
			Status:        StatusConverged,
		}, nil
	}

	current := initial.Clone()
	params := start
	bounds := region.Image.Bounds()
	searchBounds := BoundsAround(start)

	var best *AlignmentResult
	prevAvg := 0.0
	prevOpen := 0

	for iter := 1; iter <= e.cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("column %s: alignment aborted: %w", region.ID, err)
		}

		// ALIGN: refine placement for the current transcription.
		trans := current
		objective := func(p PlacementParams) float64 {
			overlay, _ := e.renderer.Render(trans, p, bounds)
			return e.scorer.ScoreWindow(region.Image, overlay, p, 0, trans.Len()-1)
		}
		var cleared bool
		params, _, cleared = e.optimizer.Optimize(params, searchBounds, objective)

		// SCORE: full per-character pass at the refined placement.
		overlay, renderAnomalies := e.renderer.Render(current, params, bounds)
		scores := e.scorer.Score(region.Image, overlay, params, current.Len())
		avg := meanScores(scores)

		// DETECT before judging convergence: in a long column the mean can
		// clear the threshold while a single cell is still wrong.
		anomalies := e.detector.Detect(scores)
		open := len(anomalies) + len(renderAnomalies)

		e.logger.Debug("Iteration scored",
			"column_id", region.ID,
			"iteration", iter,
			"avg_similarity", fmt.Sprintf("%.4f", avg),
			"anomalies", open,
			"length", current.Len())

		result := &AlignmentResult{
			Params:        params,
			Transcription: current.Clone(),
			Scores:        scores,
			Anomalies:     renderAnomalies,
			AvgSimilarity: avg,
			Iterations:    iter,
			Status:        StatusFailedPartial,
			LowConfidence: !cleared,
		}
		if best == nil || avg > best.AvgSimilarity {
			best = result
		}

		if open == 0 {
			if avg >= e.cfg.QualityThreshold {
				result.Status = StatusConverged
				return result, nil
			}
			// Below threshold with nothing actionable: stop rather than spin.
			best.Iterations = iter
			return best, nil
		}

		if iter > 1 && avg <= prevAvg && open >= prevOpen {
			// The previous correction was a local improvement that failed to
			// move the column forward; repeating it cannot do better.
			best.Iterations = iter
			return best, nil
		}
		prevAvg, prevOpen = avg, open

		// CORRECT: try to resolve each detected anomaly.
		corrected, next, remaining := e.correct(ctx, region, current, params, anomalies)
		result.Anomalies = append(remaining, renderAnomalies...)
		if best == result {
			best.Anomalies = result.Anomalies
		}

		if !corrected {
			// Every anomaly unresolved: further iterations would repeat the
			// exact same state.
			return best, nil
		}
		current = next
	}

	return best, nil
}

// correct walks the anomalies in priority order, querying for candidates and
// accepting the best strict local improvement. It returns whether any edit was
// applied, the resulting transcription, and the anomalies left unresolved.
// After a length-changing edit the remaining anomalies are stale (their
// indices refer to the old cell grid), so correction stops there when a
// restart is configured.
func (e *Engine) correct(ctx context.Context, region ColumnRegion, current Transcription, params PlacementParams, anomalies []Anomaly) (bool, Transcription, []Anomaly) {
	corrected := false
	var remaining []Anomaly

	for _, a := range anomalies {
		if a.AnchorIndex < 0 || a.AnchorIndex >= current.Len() {
			a.Unresolved = true
			a.Reason = "anchor outside transcription"
			remaining = append(remaining, a)
			continue
		}

		candidates, err := e.requery(ctx, region, current, params, a)
		if err != nil {
			e.logger.Warn("Re-query exhausted",
				"column_id", region.ID,
				"anchor", a.AnchorIndex,
				"kind", string(a.Kind),
				"error", err.Error())
			a.Unresolved = true
			a.Reason = "re-query failed: " + err.Error()
			remaining = append(remaining, a)
			continue
		}
		a.Candidates = candidates

		next, applied := e.applyBest(region, current, params, a)
		if !applied {
			a.Unresolved = true
			if a.Reason == "" {
				a.Reason = "no candidate improved local similarity"
			}
			remaining = append(remaining, a)
			continue
		}

		corrected = true
		lengthChanged := next.Len() != current.Len()
		current = next
		if lengthChanged && e.cfg.RestartAfterLengthChange {
			// Anomalies after this point were detected on the old cell grid;
			// the next iteration re-detects on the new one.
			break
		}
	}

	return corrected, current, remaining
}

// requery asks the candidate source for replacement hypotheses with bounded
// retries and exponential backoff. Each attempt carries its own timeout.
func (e *Engine) requery(ctx context.Context, region ColumnRegion, current Transcription, params PlacementParams, a Anomaly) ([]Candidate, error) {
	if e.source == nil {
		return nil, fmt.Errorf("no candidate source configured")
	}

	crop := e.cropAnchor(region.Image, params, a.AnchorIndex, a.Kind)
	hint := buildHint(current, a)

	backoff := e.cfg.RequeryBackoff
	var lastErr error
	for attempt := 0; attempt <= e.cfg.RequeryRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if e.cfg.RequeryTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, e.cfg.RequeryTimeout)
		}
		candidates, err := e.source.Candidates(attemptCtx, crop, hint)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return candidates, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("after %d attempts: %w", e.cfg.RequeryRetries+1, lastErr)
}

// applyBest evaluates every candidate splice against the current transcription
// over the local window around the anchor and applies the strict best
// improvement, if any. The window spans source cells up to the longer of the
// two lengths, so a shortening edit is charged for the source ink it leaves
// uncovered.
func (e *Engine) applyBest(region ColumnRegion, current Transcription, params PlacementParams, a Anomaly) (Transcription, bool) {
	bounds := region.Image.Bounds()

	windowScore := func(t Transcription, maxLen int) float64 {
		overlay, _ := e.renderer.Render(t, params, bounds)
		lo := a.AnchorIndex - e.cfg.LocalWindowRadius
		hi := a.AnchorIndex + e.cfg.LocalWindowRadius
		if hi > maxLen-1 {
			hi = maxLen - 1
		}
		return e.scorer.ScoreWindow(region.Image, overlay, params, lo, hi)
	}

	bestTrans := current
	bestApplied := false
	bestScore := 0.0

	for _, cand := range a.Candidates {
		next := current.Splice(a.AnchorIndex, 1, cand.Glyphs)
		maxLen := current.Len()
		if next.Len() > maxLen {
			maxLen = next.Len()
		}
		baseline := windowScore(current, maxLen)
		score := windowScore(next, maxLen)
		if score <= baseline {
			continue
		}
		if !bestApplied || score > bestScore {
			bestTrans = next
			bestScore = score
			bestApplied = true
		}
	}

	return bestTrans, bestApplied
}

// cropAnchor extracts the anchor cell plus margin, clipped to the column
// image. Substitutions get half a pitch on every side; an offset query gets a
// full pitch, since the suspected gap spans into the neighboring cells.
func (e *Engine) cropAnchor(src *image.Gray, params PlacementParams, anchor int, kind AnomalyKind) *image.Gray {
	cell := params.CellRect(anchor)
	margin := int(params.Pitch() / 2)
	if kind == AnomalyOffset {
		margin = int(params.Pitch())
	}
	rect := cell.Inset(-margin).Intersect(src.Bounds())
	if rect.Empty() {
		rect = src.Bounds()
	}
	return src.SubImage(rect).(*image.Gray)
}

// buildHint assembles the re-query context: up to two glyphs on each side of
// the anchor plus the glyph currently occupying it.
func buildHint(t Transcription, a Anomaly) QueryHint {
	hint := QueryHint{Kind: a.Kind, Index: a.AnchorIndex}
	lo := a.AnchorIndex - 2
	if lo < 0 {
		lo = 0
	}
	hi := a.AnchorIndex + 3
	if hi > t.Len() {
		hi = t.Len()
	}
	if a.AnchorIndex < t.Len() {
		hint.Current = t.Glyphs[a.AnchorIndex]
		hint.Before = append([]rune(nil), t.Glyphs[lo:a.AnchorIndex]...)
		hint.After = append([]rune(nil), t.Glyphs[a.AnchorIndex+1:hi]...)
	}
	return hint
}

func meanScores(scores []CharacterScore) float64 {
	if len(scores) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range scores {
		sum += s.Similarity
	}
	return sum / float64(len(scores))
}

package align

import (
	"context"
	"errors"
	"image"
	"strings"
	"testing"
	"time"
)

// scriptedSource is a CandidateSource driven by a response function; it
// records every hint it receives.
type scriptedSource struct {
	hints   []QueryHint
	respond func(QueryHint) ([]Candidate, error)
}

func (s *scriptedSource) Candidates(_ context.Context, crop *image.Gray, hint QueryHint) ([]Candidate, error) {
	if crop == nil {
		return nil, errors.New("nil crop")
	}
	s.hints = append(s.hints, hint)
	return s.respond(hint)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RequeryBackoff = time.Millisecond
	cfg.RequeryTimeout = time.Second
	return cfg
}

func testRegion(truth string, p PlacementParams) ColumnRegion {
	size := int(p.FontSize)
	bounds := image.Rect(0, 0, size, size*len([]rune(truth)))
	return ColumnRegion{
		ID:    "col-test",
		Type:  ColumnMainText,
		Image: renderSource(truth, p, bounds),
	}
}

// TestRunConvergesOnCorrectTranscription: a transcription matching the source
// converges on the first iteration without any re-query, and re-running the
// converged result reproduces it exactly.
func TestRunConvergesOnCorrectTranscription(t *testing.T) {
	p := columnParams()
	region := testRegion("鮑公恆齋", p)
	src := &scriptedSource{respond: func(QueryHint) ([]Candidate, error) {
		return nil, errors.New("must not be queried")
	}}

	eng := NewEngine(testConfig(), &patternRasterizer{}, src)
	res, err := eng.Run(context.Background(), region, NewTranscription("鮑公恆齋"), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Status != StatusConverged {
		t.Errorf("expected CONVERGED, got %s (avg=%g)", res.Status, res.AvgSimilarity)
	}
	if res.Iterations != 1 {
		t.Errorf("expected 1 iteration, got %d", res.Iterations)
	}
	if res.Transcription.String() != "鮑公恆齋" {
		t.Errorf("transcription changed: %q", res.Transcription.String())
	}
	if len(src.hints) != 0 {
		t.Errorf("candidate source queried %d times on a clean column", len(src.hints))
	}

	again, err := eng.Run(context.Background(), region, res.Transcription, res.Params)
	if err != nil {
		t.Fatalf("re-run error: %v", err)
	}
	if again.Transcription.String() != res.Transcription.String() || again.Params != res.Params {
		t.Errorf("re-running a converged column changed the result")
	}
}

// TestRunCorrectsTruncatedTranscription: the source column reads 公生壙志 but
// the transcription dropped 壙. The depressed tail is detected as an offset,
// the insertion hypothesis wins over deletion, and the second iteration
// converges on the full text.
func TestRunCorrectsTruncatedTranscription(t *testing.T) {
	p := columnParams()
	region := testRegion("公生壙志", p)
	src := &scriptedSource{respond: func(h QueryHint) ([]Candidate, error) {
		return []Candidate{
			{Glyphs: []rune("壙志"), Confidence: 0.9},
			{Glyphs: nil, Confidence: 0.3},
		}, nil
	}}

	eng := NewEngine(testConfig(), &patternRasterizer{}, src)
	res, err := eng.Run(context.Background(), region, NewTranscription("公生志"), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Status != StatusConverged {
		t.Fatalf("expected CONVERGED, got %s (avg=%g)", res.Status, res.AvgSimilarity)
	}
	if res.Transcription.String() != "公生壙志" {
		t.Errorf("expected corrected transcription 公生壙志, got %q", res.Transcription.String())
	}
	if res.Iterations != 2 {
		t.Errorf("expected 2 iterations, got %d", res.Iterations)
	}

	if len(src.hints) != 1 {
		t.Fatalf("expected exactly 1 re-query, got %d", len(src.hints))
	}
	h := src.hints[0]
	if h.Kind != AnomalyOffset {
		t.Errorf("expected offset hint, got %s", h.Kind)
	}
	if h.Index != 2 {
		t.Errorf("expected anchor 2, got %d", h.Index)
	}
	if h.Current != '志' {
		t.Errorf("expected current glyph 志, got %q", h.Current)
	}
}

// TestRunCorrectsDropAboveThreshold: the source column reads 鮑公恆齋生壙志
// but the transcription dropped 壙. Six of seven cells score perfectly, so
// the mean clears the quality threshold on the first pass — convergence must
// still wait until the detected offset is resolved.
func TestRunCorrectsDropAboveThreshold(t *testing.T) {
	p := columnParams()
	region := testRegion("鮑公恆齋生壙志", p)
	src := &scriptedSource{respond: func(QueryHint) ([]Candidate, error) {
		return []Candidate{{Glyphs: []rune("壙志"), Confidence: 0.9}}, nil
	}}

	eng := NewEngine(testConfig(), &patternRasterizer{}, src)
	res, err := eng.Run(context.Background(), region, NewTranscription("鮑公恆齋生志"), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Status != StatusConverged {
		t.Fatalf("expected CONVERGED, got %s (avg=%g)", res.Status, res.AvgSimilarity)
	}
	if res.Transcription.String() != "鮑公恆齋生壙志" {
		t.Errorf("expected corrected transcription 鮑公恆齋生壙志, got %q", res.Transcription.String())
	}
	if res.Iterations != 2 {
		t.Errorf("expected 2 iterations, got %d", res.Iterations)
	}

	if len(src.hints) != 1 {
		t.Fatalf("expected exactly 1 re-query, got %d", len(src.hints))
	}
	h := src.hints[0]
	if h.Kind != AnomalyOffset {
		t.Errorf("expected offset hint, got %s", h.Kind)
	}
	if h.Index != 5 {
		t.Errorf("expected anchor 5, got %d", h.Index)
	}
	if h.Current != '志' {
		t.Errorf("expected current glyph 志, got %q", h.Current)
	}
}

// TestRunStopsWithoutIterationProgress: the source column reads 松柏梅蘭 but
// the transcription ends with 菊. The only offered candidate appends a
// spurious trailing glyph: it wins the local window (it does cover the 蘭
// cell) yet drags the column average down. The next pass must notice that
// neither the average nor the anomaly count improved and exit with the
// best-observed state instead of cycling to the iteration cap.
func TestRunStopsWithoutIterationProgress(t *testing.T) {
	p := columnParams()
	region := testRegion("松柏梅蘭", p)
	src := &scriptedSource{respond: func(QueryHint) ([]Candidate, error) {
		return []Candidate{{Glyphs: []rune("蘭竹"), Confidence: 0.9}}, nil
	}}

	cfg := testConfig()
	eng := NewEngine(cfg, &patternRasterizer{}, src)
	res, err := eng.Run(context.Background(), region, NewTranscription("松柏梅菊"), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Status != StatusFailedPartial {
		t.Fatalf("expected FAILED_PARTIAL, got %s", res.Status)
	}
	if res.Iterations >= cfg.MaxIterations {
		t.Errorf("expected an early exit, got %d iterations", res.Iterations)
	}
	if res.Transcription.String() != "松柏梅菊" {
		t.Errorf("best-observed transcription lost: got %q", res.Transcription.String())
	}
	if len(src.hints) != 1 {
		t.Errorf("expected 1 re-query before the stall was detected, got %d", len(src.hints))
	}
}

// TestRunOffsetCropSpansNeighbors: an offset re-query crops a full pitch of
// margin so the suspected gap's neighboring cells are visible; substitutions
// keep the tighter half-pitch crop.
func TestRunOffsetCropSpansNeighbors(t *testing.T) {
	p := columnParams()
	region := testRegion("公生壙志", p)
	eng := NewEngine(testConfig(), &patternRasterizer{}, nil)

	sub := eng.cropAnchor(region.Image, p, 1, AnomalySubstitution)
	off := eng.cropAnchor(region.Image, p, 1, AnomalyOffset)

	if !sub.Bounds().Overlaps(p.CellRect(1)) {
		t.Errorf("substitution crop %v misses the anchor cell", sub.Bounds())
	}
	if off.Bounds().Dy() <= sub.Bounds().Dy() {
		t.Errorf("offset crop %v not taller than substitution crop %v",
			off.Bounds(), sub.Bounds())
	}
}

// TestRunRejectsDegenerateDeletion: when only a deletion hypothesis is
// offered for a truncated column, accepting it would leave source ink
// uncovered; the loop must reject it and fail partial instead.
func TestRunRejectsDegenerateDeletion(t *testing.T) {
	p := columnParams()
	region := testRegion("公生壙志", p)
	src := &scriptedSource{respond: func(QueryHint) ([]Candidate, error) {
		return []Candidate{{Glyphs: nil, Confidence: 0.9}}, nil
	}}

	eng := NewEngine(testConfig(), &patternRasterizer{}, src)
	res, err := eng.Run(context.Background(), region, NewTranscription("公生志"), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Status != StatusFailedPartial {
		t.Fatalf("expected FAILED_PARTIAL, got %s", res.Status)
	}
	if res.Transcription.String() != "公生志" {
		t.Errorf("degenerate deletion applied: %q", res.Transcription.String())
	}
	found := false
	for _, a := range res.Anomalies {
		if a.Unresolved && strings.Contains(a.Reason, "no candidate improved") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an unresolved anomaly, got %+v", res.Anomalies)
	}
}

// TestRunRequeryExhaustion: a persistently failing candidate source degrades
// the anomaly to unresolved after bounded retries; the loop stops instead of
// spinning through its iteration budget.
func TestRunRequeryExhaustion(t *testing.T) {
	p := columnParams()
	region := testRegion("公生壙志", p)
	calls := 0
	src := &scriptedSource{respond: func(QueryHint) ([]Candidate, error) {
		calls++
		return nil, errors.New("ocr backend unavailable")
	}}

	cfg := testConfig()
	eng := NewEngine(cfg, &patternRasterizer{}, src)
	res, err := eng.Run(context.Background(), region, NewTranscription("公生志"), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Status != StatusFailedPartial {
		t.Errorf("expected FAILED_PARTIAL, got %s", res.Status)
	}
	if res.Iterations != 1 {
		t.Errorf("expected to stop after 1 iteration, got %d", res.Iterations)
	}
	if calls != cfg.RequeryRetries+1 {
		t.Errorf("expected %d attempts, got %d", cfg.RequeryRetries+1, calls)
	}
	found := false
	for _, a := range res.Anomalies {
		if a.Unresolved && strings.Contains(a.Reason, "re-query failed") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an unresolved re-query anomaly, got %+v", res.Anomalies)
	}
}

// TestRunEmptyTranscription: nothing to verify converges trivially.
func TestRunEmptyTranscription(t *testing.T) {
	p := columnParams()
	region := testRegion("公", p)

	eng := NewEngine(testConfig(), &patternRasterizer{}, nil)
	res, err := eng.Run(context.Background(), region, Transcription{}, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusConverged || res.Iterations != 0 {
		t.Errorf("expected trivial convergence, got %s after %d iterations",
			res.Status, res.Iterations)
	}
}

// TestRunInvalidInputs: a missing image or malformed placement is an error
// before any iteration runs.
func TestRunInvalidInputs(t *testing.T) {
	p := columnParams()
	eng := NewEngine(testConfig(), &patternRasterizer{}, nil)

	if _, err := eng.Run(context.Background(), ColumnRegion{ID: "x"}, NewTranscription("公"), p); err == nil {
		t.Errorf("expected error for missing image")
	}

	region := testRegion("公", p)
	bad := PlacementParams{X: 0, Y: 0, FontSize: -1, LineSpacing: 1.0}
	if _, err := eng.Run(context.Background(), region, NewTranscription("公"), bad); err == nil {
		t.Errorf("expected error for invalid placement")
	}
}

// TestRunCancelledContext: cancellation aborts the loop with an error.
func TestRunCancelledContext(t *testing.T) {
	p := columnParams()
	region := testRegion("公生志", p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng := NewEngine(testConfig(), &patternRasterizer{}, nil)
	if _, err := eng.Run(ctx, region, NewTranscription("公生志"), p); err == nil {
		t.Errorf("expected error from cancelled context")
	}
}

package align

import (
	"image"
	"testing"
)

func columnParams() PlacementParams {
	return PlacementParams{X: 0, Y: 0, FontSize: 16, LineSpacing: 1.0}
}

// TestScoreIdenticalOverlay: rendering the ground truth over itself scores
// every character at (or extremely near) 1.0.
func TestScoreIdenticalOverlay(t *testing.T) {
	truth := "鮑公恆齋"
	p := columnParams()
	bounds := image.Rect(0, 0, 16, 64)
	source := renderSource(truth, p, bounds)
	overlay := renderSource(truth, p, bounds)

	s := NewScorer(DefaultScorerConfig())
	scores := s.Score(source, overlay, p, 4)
	if len(scores) != 4 {
		t.Fatalf("expected 4 scores, got %d", len(scores))
	}
	for _, sc := range scores {
		if sc.Similarity < 0.99 {
			t.Errorf("index %d: identical cells scored %g", sc.Index, sc.Similarity)
		}
	}
}

// TestScoreWrongGlyphDepressed: a wrong glyph in an otherwise correct overlay
// scores far below its neighbors, low enough for outlier detection.
func TestScoreWrongGlyphDepressed(t *testing.T) {
	p := columnParams()
	bounds := image.Rect(0, 0, 16, 64)
	source := renderSource("鮑公恆齋", p, bounds)
	overlay := renderSource("鮑公志齋", p, bounds)

	s := NewScorer(DefaultScorerConfig())
	scores := s.Score(source, overlay, p, 4)

	if scores[2].Similarity > 0.7 {
		t.Errorf("wrong glyph scored %g, expected clearly depressed", scores[2].Similarity)
	}
	for _, i := range []int{0, 1, 3} {
		if scores[i].Similarity < 0.99 {
			t.Errorf("correct glyph at %d scored %g", i, scores[i].Similarity)
		}
	}
	if scores[2].Similarity >= scores[0].Similarity {
		t.Errorf("wrong glyph (%g) should score below correct (%g)",
			scores[2].Similarity, scores[0].Similarity)
	}
}

// TestScoreBlankCellAgainstInk: a cell the overlay leaves blank while the
// source has ink must be penalized, so a shortened transcription cannot win
// by covering less of the column.
func TestScoreBlankCellAgainstInk(t *testing.T) {
	p := columnParams()
	bounds := image.Rect(0, 0, 16, 64)
	source := renderSource("鮑公恆齋", p, bounds)
	overlay := renderSource("鮑公恆", p, bounds)

	s := NewScorer(DefaultScorerConfig())
	scores := s.Score(source, overlay, p, 4)

	if scores[3].Similarity > 0.7 {
		t.Errorf("blank-vs-ink cell scored %g, expected penalized", scores[3].Similarity)
	}
}

// TestScoreCellOutsideImage: cells entirely past the image bounds score zero
// instead of panicking.
func TestScoreCellOutsideImage(t *testing.T) {
	p := columnParams()
	bounds := image.Rect(0, 0, 16, 32)
	source := renderSource("鮑公", p, bounds)
	overlay := renderSource("鮑公", p, bounds)

	s := NewScorer(DefaultScorerConfig())
	scores := s.Score(source, overlay, p, 4)

	for _, i := range []int{2, 3} {
		if scores[i].Similarity != 0 {
			t.Errorf("out-of-bounds cell %d scored %g, expected 0", i, scores[i].Similarity)
		}
	}
}

// TestScoreWindowMatchesMean: the windowed score equals the mean of the
// full-pass scores over the same indices.
func TestScoreWindowMatchesMean(t *testing.T) {
	p := columnParams()
	bounds := image.Rect(0, 0, 16, 64)
	source := renderSource("鮑公恆齋", p, bounds)
	overlay := renderSource("鮑公志齋", p, bounds)

	s := NewScorer(DefaultScorerConfig())
	scores := s.Score(source, overlay, p, 4)
	window := s.ScoreWindow(source, overlay, p, 1, 3)

	want := (scores[1].Similarity + scores[2].Similarity + scores[3].Similarity) / 3
	if diff := window - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("window score %g, want mean %g", window, want)
	}
}

// TestScoreZeroLength: n=0 returns an empty slice without touching images.
func TestScoreZeroLength(t *testing.T) {
	s := NewScorer(DefaultScorerConfig())
	source := image.NewGray(image.Rect(0, 0, 4, 4))
	if scores := s.Score(source, source, columnParams(), 0); len(scores) != 0 {
		t.Errorf("expected empty scores, got %d", len(scores))
	}
}

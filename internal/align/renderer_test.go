package align

import (
	"image"
	"testing"
)

// TestRenderCellPlacement: glyph i lands exactly in cell i of the column
// grid, and untouched canvas stays paper-white.
func TestRenderCellPlacement(t *testing.T) {
	rast := &patternRasterizer{}
	r := NewRenderer(rast)
	p := PlacementParams{X: 4, Y: 2, FontSize: 10, LineSpacing: 1.2}
	bounds := image.Rect(0, 0, 24, 40)

	trans := NewTranscription("鮑公")
	canvas, anomalies := r.Render(trans, p, bounds)
	if len(anomalies) != 0 {
		t.Fatalf("unexpected anomalies: %+v", anomalies)
	}

	// Second cell starts one pitch (12px) below the first.
	glyph, _ := rast.Rasterize('公', 10)
	cell := p.CellRect(1)
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			want := glyph.GrayAt(x, y).Y
			got := canvas.GrayAt(cell.Min.X+x, cell.Min.Y+y).Y
			if got != want {
				t.Fatalf("cell 1 pixel (%d,%d): got %d, want %d", x, y, got, want)
			}
		}
	}

	// Left margin was never drawn on.
	for y := 0; y < 40; y++ {
		if canvas.GrayAt(0, y).Y != 255 {
			t.Fatalf("margin pixel (0,%d) not paper-white", y)
		}
	}
}

// TestRenderMissingGlyph: a glyph outside font coverage leaves its cell blank
// and surfaces as an unresolved anomaly, not an error.
func TestRenderMissingGlyph(t *testing.T) {
	rast := &patternRasterizer{missing: map[rune]bool{'壙': true}}
	r := NewRenderer(rast)
	p := PlacementParams{X: 0, Y: 0, FontSize: 16, LineSpacing: 1.0}
	bounds := image.Rect(0, 0, 16, 48)

	canvas, anomalies := r.Render(NewTranscription("鮑壙志"), p, bounds)
	if len(anomalies) != 1 {
		t.Fatalf("expected 1 anomaly, got %d", len(anomalies))
	}
	a := anomalies[0]
	if a.AnchorIndex != 1 || !a.Unresolved {
		t.Errorf("expected unresolved anomaly at 1, got %+v", a)
	}
	if a.Reason == "" {
		t.Errorf("expected a reason on the unresolved anomaly")
	}

	// The missing glyph's cell stays blank.
	cell := p.CellRect(1)
	for y := cell.Min.Y; y < cell.Max.Y; y++ {
		for x := cell.Min.X; x < cell.Max.X; x++ {
			if canvas.GrayAt(x, y).Y != 255 {
				t.Fatalf("missing-glyph cell has ink at (%d,%d)", x, y)
			}
		}
	}
}

// TestRenderClipsToBounds: cells hanging past the canvas edge draw only their
// visible part.
func TestRenderClipsToBounds(t *testing.T) {
	r := NewRenderer(&patternRasterizer{})
	p := PlacementParams{X: 0, Y: 0, FontSize: 16, LineSpacing: 1.0}
	bounds := image.Rect(0, 0, 16, 24)

	_, anomalies := r.Render(NewTranscription("鮑公恆"), p, bounds)
	if len(anomalies) != 0 {
		t.Fatalf("clipping must not produce anomalies: %+v", anomalies)
	}
}

// TestRenderEmptyTranscription: nothing to draw yields a blank canvas.
func TestRenderEmptyTranscription(t *testing.T) {
	r := NewRenderer(&patternRasterizer{})
	p := PlacementParams{X: 0, Y: 0, FontSize: 16, LineSpacing: 1.0}
	bounds := image.Rect(0, 0, 16, 16)

	canvas, anomalies := r.Render(Transcription{}, p, bounds)
	if len(anomalies) != 0 {
		t.Fatalf("unexpected anomalies: %+v", anomalies)
	}
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			if canvas.GrayAt(x, y).Y != 255 {
				t.Fatalf("blank canvas has ink at (%d,%d)", x, y)
			}
		}
	}
}

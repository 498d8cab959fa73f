package align

import (
	"image"
	"image/color"
	"image/draw"
)

// GlyphRasterizer turns a single glyph into a square ink-on-paper raster of
// the requested pixel size. ok=false reports a coverage miss; the renderer
// turns that into an unresolved anomaly instead of failing.
type GlyphRasterizer interface {
	Rasterize(r rune, size int) (raster *image.Gray, ok bool)
}

// Renderer produces the synthetic overlay: one glyph cell per transcription
// entry, positioned down the column axis. It is a pure function of its
// inputs and keeps no state between calls.
type Renderer struct {
	rast GlyphRasterizer
}

func NewRenderer(rast GlyphRasterizer) *Renderer {
	return &Renderer{rast: rast}
}

// Render draws the transcription at the given placement onto a white canvas
// matching bounds. Every entry, reduplication marks and punctuation included,
// occupies exactly one cell. Glyphs outside the font's coverage leave their
// cell blank and are reported as unresolved anomalies.
func (r *Renderer) Render(t Transcription, p PlacementParams, bounds image.Rectangle) (*image.Gray, []Anomaly) {
	canvas := image.NewGray(bounds)
	draw.Draw(canvas, bounds, &image.Uniform{color.Gray{Y: 255}}, image.Point{}, draw.Src)

	var anomalies []Anomaly
	size := p.CellRect(0).Dx()
	for i, glyph := range t.Glyphs {
		raster, ok := r.rast.Rasterize(glyph, size)
		if !ok {
			anomalies = append(anomalies, Anomaly{
				AnchorIndex: i,
				Kind:        AnomalySubstitution,
				Unresolved:  true,
				Reason:      "glyph not covered by rendering font",
			})
			continue
		}
		cell := p.CellRect(i)
		target := cell.Intersect(bounds)
		if target.Empty() {
			continue
		}
		// Ink composites darkest-wins so overhanging strokes from adjacent
		// cells are preserved.
		rb := raster.Bounds()
		for y := target.Min.Y; y < target.Max.Y; y++ {
			for x := target.Min.X; x < target.Max.X; x++ {
				sx := rb.Min.X + (x - cell.Min.X)
				sy := rb.Min.Y + (y - cell.Min.Y)
				if sx >= rb.Max.X || sy >= rb.Max.Y {
					continue
				}
				v := raster.GrayAt(sx, sy).Y
				if v < canvas.GrayAt(x, y).Y {
					canvas.SetGray(x, y, color.Gray{Y: v})
				}
			}
		}
	}
	return canvas, anomalies
}

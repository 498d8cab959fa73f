package align

import (
	"image"
	"image/color"
)

// patternRasterizer draws a deterministic pseudo-random binary pattern per
// rune. Identical runes rasterize identically; distinct runes decorrelate,
// so rendering a ground-truth transcription produces a source image that
// scores 1.0 against itself and visibly lower against any wrong glyph.
type patternRasterizer struct {
	missing map[rune]bool
}

func (p *patternRasterizer) Rasterize(r rune, size int) (*image.Gray, bool) {
	if p.missing[r] {
		return nil, false
	}
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			h := uint32(x)*73856093 ^ uint32(y)*19349663 ^ uint32(r)*2654435761
			v := uint8(255)
			if h%97 < 41 {
				v = 0
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img, true
}

// renderSource builds a synthetic column image by rendering a ground-truth
// transcription at the given placement.
func renderSource(truth string, p PlacementParams, bounds image.Rectangle) *image.Gray {
	r := NewRenderer(&patternRasterizer{})
	img, _ := r.Render(NewTranscription(truth), p, bounds)
	return img
}

func scoresOf(vals ...float64) []CharacterScore {
	out := make([]CharacterScore, len(vals))
	for i, v := range vals {
		out[i] = CharacterScore{Index: i, Similarity: v}
	}
	return out
}

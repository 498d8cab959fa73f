package align

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"sync"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
)

// FontRasterizer renders glyphs from a TrueType reference font into
// ink-on-paper grayscale cells. Rasters are cached per (rune, size) because
// the optimizer re-renders the same column many times per iteration.
type FontRasterizer struct {
	ttf *truetype.Font

	mu    sync.Mutex
	cache map[glyphKey]*image.Gray
}

type glyphKey struct {
	r    rune
	size int
}

// LoadFontRasterizer parses a TTF file from disk.
func LoadFontRasterizer(path string) (*FontRasterizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read font file: %w", err)
	}
	ttf, err := freetype.ParseFont(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	return &FontRasterizer{
		ttf:   ttf,
		cache: make(map[glyphKey]*image.Gray),
	}, nil
}

// Covers reports whether the font has a real glyph for r (index 0 is the
// .notdef glyph).
func (f *FontRasterizer) Covers(r rune) bool {
	return f.ttf.Index(r) != 0
}

// Rasterize renders r into a size x size cell. The raster uses 255 for paper
// and darker values for ink, matching the scorer's expectations.
func (f *FontRasterizer) Rasterize(r rune, size int) (*image.Gray, bool) {
	if size < 1 || !f.Covers(r) {
		return nil, false
	}

	key := glyphKey{r: r, size: size}
	f.mu.Lock()
	if cached, hit := f.cache[key]; hit {
		f.mu.Unlock()
		return cached, true
	}
	f.mu.Unlock()

	// Render into an alpha raster first: freetype output is anti-aliased and
	// the alpha channel is the pixel coverage.
	alpha := image.NewAlpha(image.Rect(0, 0, size, size))

	ctx := freetype.NewContext()
	ctx.SetDPI(72)
	ctx.SetFont(f.ttf)
	ctx.SetFontSize(float64(size))
	ctx.SetClip(alpha.Bounds())
	ctx.SetDst(alpha)
	ctx.SetSrc(image.White)
	ctx.SetHinting(font.HintingFull)

	face := truetype.NewFace(f.ttf, &truetype.Options{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	metrics := face.Metrics()
	face.Close()

	// Baseline from font metrics so descenders are not clipped and the glyph
	// sits centered in the cell.
	ascent := int(metrics.Ascent >> 6)
	descent := int(metrics.Descent >> 6)
	baselineY := (size + ascent - descent) / 2

	if _, err := ctx.DrawString(string(r), freetype.Pt(0, baselineY)); err != nil {
		return nil, false
	}

	// Invert coverage into paper/ink grayscale.
	cell := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			cell.SetGray(x, y, color.Gray{Y: 255 - alpha.AlphaAt(x, y).A})
		}
	}

	f.mu.Lock()
	f.cache[key] = cell
	f.mu.Unlock()
	return cell, true
}

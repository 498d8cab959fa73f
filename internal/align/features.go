package align

import "image"

// FeatureGridSize is the per-axis resolution of the stroke-density feature
// grid; vectors are FeatureGridSize² floats.
const FeatureGridSize = 8

// FeatureDim is the length of a glyph feature vector.
const FeatureDim = FeatureGridSize * FeatureGridSize

// StrokeFeatures reduces a glyph raster to an 8x8 grid of ink ratios, the
// vector stored in the glyph index. Coarse on purpose: it should match across
// calligraphic styles, not pin down a single font's rendering.
func StrokeFeatures(img *image.Gray) []float32 {
	vec := make([]float32, FeatureDim)
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return vec
	}
	paper := estimatePaper(img)

	var sums [FeatureDim]float64
	var counts [FeatureDim]int
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		gy := (y - bounds.Min.Y) * FeatureGridSize / h
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gx := (x - bounds.Min.X) * FeatureGridSize / w
			cell := gy*FeatureGridSize + gx
			sums[cell] += inkValue(img.GrayAt(x, y).Y, paper)
			counts[cell]++
		}
	}
	for i := range vec {
		if counts[i] > 0 {
			vec[i] = float32(sums[i] / float64(counts[i]))
		}
	}
	return vec
}

package align

import (
	"image"
	"math"
	"runtime"
	"sync"
)

// ScorerConfig tunes the composite similarity metric. The relative weights
// are configuration, not constants: they should be calibrated against a
// labeled validation set for the reference font in use.
type ScorerConfig struct {
	SSIMWeight    float64
	NCCWeight     float64
	DensityWeight float64
	// Workers bounds the data-parallel fan-out across cells. Zero means one
	// worker per CPU.
	Workers int
}

// DefaultScorerConfig weights structure highest, correlation and stroke
// density equally below it.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		SSIMWeight:    0.4,
		NCCWeight:     0.3,
		DensityWeight: 0.3,
	}
}

// Scorer compares source image cells to rendered overlay cells. A single
// metric is fooled either by reference-font style mismatch (correlation) or
// by gross shape differences (density); the composite stays robust to
// calligraphic variance while remaining sensitive to wrong characters.
type Scorer struct {
	cfg ScorerConfig
}

func NewScorer(cfg ScorerConfig) *Scorer {
	if cfg.SSIMWeight+cfg.NCCWeight+cfg.DensityWeight <= 0 {
		cfg = DefaultScorerConfig()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	return &Scorer{cfg: cfg}
}

// Score produces one CharacterScore per cell index in [0, n). Cell
// computations are independent and run on a bounded worker pool.
func (s *Scorer) Score(source, overlay *image.Gray, p PlacementParams, n int) []CharacterScore {
	scores := make([]CharacterScore, n)
	if n == 0 {
		return scores
	}
	paper := estimatePaper(source)

	indices := make(chan int)
	var wg sync.WaitGroup
	workers := s.cfg.Workers
	if workers > n {
		workers = n
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indices {
				scores[i] = CharacterScore{
					Index:      i,
					Similarity: s.scoreCell(source, overlay, p.CellRect(i), paper),
				}
			}
		}()
	}
	for i := 0; i < n; i++ {
		indices <- i
	}
	close(indices)
	wg.Wait()
	return scores
}

// ScoreWindow returns the mean cell similarity over indices [lo, hi],
// clamped to valid range. The correction loop uses it to re-score only the
// neighborhood of an edit.
func (s *Scorer) ScoreWindow(source, overlay *image.Gray, p PlacementParams, lo, hi int) float64 {
	if lo < 0 {
		lo = 0
	}
	if hi < lo {
		return 0
	}
	paper := estimatePaper(source)
	sum := 0.0
	for i := lo; i <= hi; i++ {
		sum += s.scoreCell(source, overlay, p.CellRect(i), paper)
	}
	return sum / float64(hi-lo+1)
}

// scoreCell computes the composite similarity for one cell. Boundary cells
// clip to the image bounds; a cell entirely outside the image scores zero.
func (s *Scorer) scoreCell(source, overlay *image.Gray, cell image.Rectangle, paper float64) float64 {
	rect := cell.Intersect(source.Bounds()).Intersect(overlay.Bounds())
	if rect.Empty() {
		return 0
	}

	n := rect.Dx() * rect.Dy()
	a := make([]float64, 0, n)
	b := make([]float64, 0, n)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			a = append(a, inkValue(source.GrayAt(x, y).Y, paper))
			b = append(b, inkValue(overlay.GrayAt(x, y).Y, 255))
		}
	}

	ssim := structuralSimilarity(a, b)
	ncc := normalizedCrossCorrelation(a, b)
	density := 1 - math.Abs(meanOf(a)-meanOf(b))

	total := s.cfg.SSIMWeight + s.cfg.NCCWeight + s.cfg.DensityWeight
	composite := (s.cfg.SSIMWeight*ssim + s.cfg.NCCWeight*ncc + s.cfg.DensityWeight*density) / total
	return clamp01(composite)
}

// inkValue maps a brightness sample to ink coverage in [0,1] relative to the
// column's paper brightness, so faded paper does not read as ink.
func inkValue(v uint8, paper float64) float64 {
	if paper < 1 {
		paper = 1
	}
	return clamp01((paper - float64(v)) / paper)
}

// estimatePaper samples the column for its paper brightness: the 95th
// percentile of pixel values, floored so heavily inked crops stay sane.
func estimatePaper(img *image.Gray) float64 {
	var hist [256]int
	bounds := img.Bounds()
	total := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			hist[img.GrayAt(x, y).Y]++
			total++
		}
	}
	if total == 0 {
		return 255
	}
	target := total * 95 / 100
	seen := 0
	for v := 0; v < 256; v++ {
		seen += hist[v]
		if seen >= target {
			if v < 128 {
				return 128
			}
			return float64(v)
		}
	}
	return 255
}

// structuralSimilarity is the single-window SSIM over a cell, computed on
// normalized ink values.
func structuralSimilarity(a, b []float64) float64 {
	const (
		c1 = 0.01 * 0.01
		c2 = 0.03 * 0.03
	)
	ma, mb := meanOf(a), meanOf(b)
	var va, vb, cov float64
	for i := range a {
		da := a[i] - ma
		db := b[i] - mb
		va += da * da
		vb += db * db
		cov += da * db
	}
	n := float64(len(a))
	va /= n
	vb /= n
	cov /= n

	ssim := ((2*ma*mb + c1) * (2*cov + c2)) / ((ma*ma + mb*mb + c1) * (va + vb + c2))
	return clamp01(ssim)
}

// normalizedCrossCorrelation is zero-mean NCC mapped from [-1,1] to [0,1].
// Flat patches fall back to comparing mean ink, since correlation is
// undefined without variance.
func normalizedCrossCorrelation(a, b []float64) float64 {
	const eps = 1e-9
	ma, mb := meanOf(a), meanOf(b)
	var na, nb, num float64
	for i := range a {
		da := a[i] - ma
		db := b[i] - mb
		na += da * da
		nb += db * db
		num += da * db
	}
	if na < eps || nb < eps {
		return clamp01(1 - math.Abs(ma-mb))
	}
	ncc := num / math.Sqrt(na*nb)
	return clamp01((ncc + 1) / 2)
}

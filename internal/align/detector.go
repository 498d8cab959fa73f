package align

import (
	"math"
	"sort"
)

// DetectorConfig tunes the two detection modes.
type DetectorConfig struct {
	// WindowRadius is the symmetric neighborhood (excluding the index under
	// test) used for local outlier statistics.
	WindowRadius int
	// SigmaK flags index i when score_i < mean - SigmaK*std.
	SigmaK float64
	// StdFloor keeps the severity division stable on near-uniform windows.
	StdFloor float64
	// OffsetRun is the rolling-mean window for the offset scan.
	OffsetRun int
	// OffsetDrop is the minimum depression of the post-transition mean below
	// the pre-transition baseline.
	OffsetDrop float64
}

func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		WindowRadius: 5,
		SigmaK:       2.0,
		StdFloor:     0.05,
		OffsetRun:    3,
		OffsetDrop:   0.2,
	}
}

// Detector analyzes a score sequence for isolated substitutions and offset
// (length-mismatch) patterns. An offset depresses every score downstream of
// the transition, so offsets are reported first and isolated anomalies at or
// past an offset anchor are suppressed: they are symptoms, not causes.
type Detector struct {
	cfg DetectorConfig
}

func NewDetector(cfg DetectorConfig) *Detector {
	if cfg.WindowRadius <= 0 {
		cfg = DefaultDetectorConfig()
	}
	return &Detector{cfg: cfg}
}

// Detect annotates scores with their local statistics and returns the found
// anomalies: offsets first, then substitutions by descending severity.
func (d *Detector) Detect(scores []CharacterScore) []Anomaly {
	d.annotate(scores)

	var anomalies []Anomaly
	offset, found := d.findOffset(scores)
	if found {
		anomalies = append(anomalies, offset)
	}

	var subs []Anomaly
	for i := range scores {
		if found && i >= offset.AnchorIndex {
			continue
		}
		s := scores[i]
		if s.Similarity < s.LocalMean-d.cfg.SigmaK*s.LocalStd {
			subs = append(subs, Anomaly{
				AnchorIndex: i,
				Kind:        AnomalySubstitution,
				Severity:    s.Severity,
			})
		}
	}
	sort.SliceStable(subs, func(a, b int) bool { return subs[a].Severity > subs[b].Severity })
	return append(anomalies, subs...)
}

// annotate fills LocalMean, LocalStd and Severity for every index from the
// surrounding window, excluding the index itself.
func (d *Detector) annotate(scores []CharacterScore) {
	n := len(scores)
	for i := range scores {
		lo := i - d.cfg.WindowRadius
		hi := i + d.cfg.WindowRadius
		if lo < 0 {
			lo = 0
		}
		if hi > n-1 {
			hi = n - 1
		}

		var sum float64
		count := 0
		for j := lo; j <= hi; j++ {
			if j == i {
				continue
			}
			sum += scores[j].Similarity
			count++
		}
		if count == 0 {
			scores[i].LocalMean = scores[i].Similarity
			scores[i].LocalStd = d.cfg.StdFloor
			continue
		}
		mean := sum / float64(count)

		var varSum float64
		for j := lo; j <= hi; j++ {
			if j == i {
				continue
			}
			dv := scores[j].Similarity - mean
			varSum += dv * dv
		}
		std := math.Sqrt(varSum / float64(count))
		if std < d.cfg.StdFloor {
			std = d.cfg.StdFloor
		}

		scores[i].LocalMean = mean
		scores[i].LocalStd = std
		scores[i].Severity = (mean - scores[i].Similarity) / std
	}
}

// findOffset scans for a transition after which scores stay depressed
// through the column end. Once a length mismatch starts, every downstream
// cell is shifted, so the depression never recovers; a dip that does recover
// is an isolated substitution instead.
func (d *Detector) findOffset(scores []CharacterScore) (Anomaly, bool) {
	n := len(scores)
	if n < 2 {
		return Anomaly{}, false
	}

	best := Anomaly{}
	bestDrop := 0.0
	for t := 1; t < n; t++ {
		baseline := 0.0
		for i := 0; i < t; i++ {
			baseline += scores[i].Similarity
		}
		baseline /= float64(t)

		after := 0.0
		for i := t; i < n; i++ {
			after += scores[i].Similarity
		}
		after /= float64(n - t)

		drop := baseline - after
		if drop < d.cfg.OffsetDrop {
			continue
		}

		// Depressed means every rolling mean from the transition to the end
		// sits below the baseline; recovery anywhere disqualifies t.
		if d.recovers(scores, t, baseline) {
			continue
		}

		if drop > bestDrop {
			bestDrop = drop
			best = Anomaly{
				AnchorIndex: t,
				Kind:        AnomalyOffset,
				Severity:    drop / d.cfg.StdFloor,
			}
		}
	}
	return best, bestDrop > 0
}

// recovers reports whether any rolling mean after the transition climbs back
// above the pre-transition baseline minus half the drop threshold.
func (d *Detector) recovers(scores []CharacterScore, t int, baseline float64) bool {
	n := len(scores)
	run := d.cfg.OffsetRun
	if run > n-t {
		run = n - t
	}
	threshold := baseline - d.cfg.OffsetDrop/2
	for i := t; i+run <= n; i++ {
		sum := 0.0
		for j := i; j < i+run; j++ {
			sum += scores[j].Similarity
		}
		if sum/float64(run) >= threshold {
			return true
		}
	}
	return false
}

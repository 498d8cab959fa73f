// Package align implements the alignment verification engine: it renders a
// column transcription over the source image, scores per-character agreement,
// and iteratively corrects the transcription where the evidence disagrees.
package align

import (
	"fmt"
	"image"
	"math"
)

// ColumnType classifies a column region within a page spread.
type ColumnType string

const (
	ColumnMainText ColumnType = "main_text"
	ColumnSpine    ColumnType = "spine"
	ColumnCredits  ColumnType = "credits"
	ColumnTitle    ColumnType = "title"
	ColumnBurial   ColumnType = "burial"
)

// ColumnRegion is an immutable source sub-image for one vertically-read
// column, as delivered by the layout collaborator.
type ColumnRegion struct {
	ID           string
	Type         ColumnType
	ReadingOrder int
	Image        *image.Gray
}

// Transcription is the ordered character sequence for a column. Index i of
// Glyphs corresponds to rendered glyph cell i; the two are resynchronized
// whenever a correction changes the length.
type Transcription struct {
	Glyphs []rune
}

// NewTranscription builds a Transcription from a string, one entry per rune.
func NewTranscription(s string) Transcription {
	return Transcription{Glyphs: []rune(s)}
}

func (t Transcription) Len() int { return len(t.Glyphs) }

func (t Transcription) String() string { return string(t.Glyphs) }

// Clone returns a deep copy so scratch edits never alias the original.
func (t Transcription) Clone() Transcription {
	g := make([]rune, len(t.Glyphs))
	copy(g, t.Glyphs)
	return Transcription{Glyphs: g}
}

// Splice returns a copy with `remove` glyphs at index i replaced by `insert`.
// remove=1 with a single insert glyph is a substitution; remove=1 with no
// insert is a deletion; remove=1 with two inserts absorbs a missing character.
func (t Transcription) Splice(i, remove int, insert []rune) Transcription {
	out := make([]rune, 0, len(t.Glyphs)-remove+len(insert))
	out = append(out, t.Glyphs[:i]...)
	out = append(out, insert...)
	out = append(out, t.Glyphs[i+remove:]...)
	return Transcription{Glyphs: out}
}

// PlacementParams positions a rendered transcription over a column. Cells
// run down the column's primary axis with pitch = FontSize * LineSpacing.
type PlacementParams struct {
	X           float64
	Y           float64
	FontSize    float64
	LineSpacing float64
}

// Pitch is the distance between consecutive cell origins.
func (p PlacementParams) Pitch() float64 { return p.FontSize * p.LineSpacing }

// CellRect is the glyph cell for index i, a FontSize-sized square.
func (p PlacementParams) CellRect(i int) image.Rectangle {
	size := int(math.Round(p.FontSize))
	x0 := int(math.Round(p.X))
	y0 := int(math.Round(p.Y + float64(i)*p.Pitch()))
	return image.Rect(x0, y0, x0+size, y0+size)
}

// Validate rejects parameters that cannot produce an ordered, non-overlapping
// cell sequence.
func (p PlacementParams) Validate() error {
	if p.FontSize <= 0 {
		return fmt.Errorf("font size must be positive, got %g", p.FontSize)
	}
	if p.LineSpacing < 1.0 {
		return fmt.Errorf("line spacing below 1.0 overlaps cells, got %g", p.LineSpacing)
	}
	if math.IsNaN(p.X) || math.IsNaN(p.Y) {
		return fmt.Errorf("placement origin is NaN")
	}
	return nil
}

// CharacterScore is the per-index agreement between source and overlay.
// LocalMean, LocalStd and Severity are filled in by the detector from the
// surrounding score window.
type CharacterScore struct {
	Index      int
	Similarity float64
	LocalMean  float64
	LocalStd   float64
	Severity   float64
}

// AnomalyKind distinguishes an isolated mismatch from a length-mismatch run.
type AnomalyKind string

const (
	AnomalySubstitution AnomalyKind = "substitution"
	AnomalyOffset       AnomalyKind = "offset"
)

// Candidate is one ranked replacement hypothesis for an anomalous position.
// Glyphs may be empty (deletion), a single rune (substitution) or longer
// (insertion of a missed character).
type Candidate struct {
	Glyphs     []rune
	Confidence float64
}

// Anomaly flags a position where alignment evidence contradicts the current
// transcription. Anomalies are derived per iteration and never persisted as
// ground truth.
type Anomaly struct {
	AnchorIndex int
	Kind        AnomalyKind
	Severity    float64
	Candidates  []Candidate
	Unresolved  bool
	Reason      string
}

// Status is the terminal state of the correction loop.
type Status string

const (
	StatusConverged     Status = "CONVERGED"
	StatusFailedPartial Status = "FAILED_PARTIAL"
)

// AlignmentResult is the per-column output of one full loop run. Only the
// final (or best-observed) result is retained.
type AlignmentResult struct {
	Params        PlacementParams
	Transcription Transcription
	Scores        []CharacterScore
	Anomalies     []Anomaly
	AvgSimilarity float64
	Iterations    int
	Status        Status
	LowConfidence bool
}

// Confidences returns the per-character similarity values, the shape stored
// in the persisted column record.
func (r *AlignmentResult) Confidences() []float64 {
	out := make([]float64, len(r.Scores))
	for i, s := range r.Scores {
		out[i] = s.Similarity
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func meanOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

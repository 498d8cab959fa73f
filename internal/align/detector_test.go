package align

import "testing"

// TestDetectIsolatedOutlier checks the canonical single-substitution shape:
// a lone depressed score inside a high-scoring run is flagged, and nothing
// else is.
func TestDetectIsolatedOutlier(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig())
	scores := scoresOf(0.9, 0.9, 0.9, 0.2, 0.9, 0.9, 0.9)

	anomalies := d.Detect(scores)
	if len(anomalies) != 1 {
		t.Fatalf("expected 1 anomaly, got %d: %+v", len(anomalies), anomalies)
	}
	a := anomalies[0]
	if a.Kind != AnomalySubstitution {
		t.Errorf("expected substitution, got %s", a.Kind)
	}
	if a.AnchorIndex != 3 {
		t.Errorf("expected anchor 3, got %d", a.AnchorIndex)
	}
	if a.Severity <= 0 {
		t.Errorf("expected positive severity, got %g", a.Severity)
	}
}

// TestDetectAnnotatesStats verifies the per-index window statistics: the
// window excludes the index under test and the std is floored on uniform
// neighborhoods.
func TestDetectAnnotatesStats(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig())
	scores := scoresOf(0.9, 0.9, 0.9, 0.2, 0.9, 0.9, 0.9)
	d.Detect(scores)

	s := scores[3]
	if s.LocalMean < 0.89 || s.LocalMean > 0.91 {
		t.Errorf("index 3 local mean: expected ~0.9, got %g", s.LocalMean)
	}
	if s.LocalStd != DefaultDetectorConfig().StdFloor {
		t.Errorf("index 3 local std: expected floor %g, got %g",
			DefaultDetectorConfig().StdFloor, s.LocalStd)
	}
	if s.Severity < 13 || s.Severity > 15 {
		t.Errorf("index 3 severity: expected ~14, got %g", s.Severity)
	}
}

// TestDetectOffsetAtColumnEnd checks the truncated-transcription shape: every
// score from the transition to the column end is depressed, so the detector
// reports an offset anchored at the transition, not a substitution.
func TestDetectOffsetAtColumnEnd(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig())
	scores := scoresOf(1.0, 1.0, 1.0, 1.0, 1.0, 0.45)

	anomalies := d.Detect(scores)
	if len(anomalies) != 1 {
		t.Fatalf("expected 1 anomaly, got %d: %+v", len(anomalies), anomalies)
	}
	a := anomalies[0]
	if a.Kind != AnomalyOffset {
		t.Errorf("expected offset, got %s", a.Kind)
	}
	if a.AnchorIndex != 5 {
		t.Errorf("expected anchor at transition 5, got %d", a.AnchorIndex)
	}
}

// TestDetectOffsetSuppressesDownstream: once an offset exists, depressed
// scores past its anchor are symptoms of the shift, not independent
// substitutions.
func TestDetectOffsetSuppressesDownstream(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig())
	scores := scoresOf(0.95, 0.95, 0.95, 0.5, 0.2, 0.5, 0.5)

	anomalies := d.Detect(scores)
	if len(anomalies) != 1 {
		t.Fatalf("expected only the offset, got %d: %+v", len(anomalies), anomalies)
	}
	a := anomalies[0]
	if a.Kind != AnomalyOffset || a.AnchorIndex != 3 {
		t.Errorf("expected offset at 3, got %s at %d", a.Kind, a.AnchorIndex)
	}
}

// TestDetectRecoveringDipIsNotOffset: a depression that climbs back to the
// baseline before the column end cannot be a length mismatch.
func TestDetectRecoveringDipIsNotOffset(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig())
	scores := scoresOf(0.9, 0.9, 0.9, 0.2, 0.9, 0.9, 0.9)

	for _, a := range d.Detect(scores) {
		if a.Kind == AnomalyOffset {
			t.Fatalf("recovering dip misclassified as offset: %+v", a)
		}
	}
}

// TestDetectOrdersBySeverity: substitutions come back worst-first.
func TestDetectOrdersBySeverity(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig())
	scores := scoresOf(0.9, 0.9, 0.2, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.5, 0.9, 0.9)

	anomalies := d.Detect(scores)
	if len(anomalies) != 2 {
		t.Fatalf("expected 2 substitutions, got %d: %+v", len(anomalies), anomalies)
	}
	if anomalies[0].AnchorIndex != 2 || anomalies[1].AnchorIndex != 9 {
		t.Errorf("expected order [2, 9], got [%d, %d]",
			anomalies[0].AnchorIndex, anomalies[1].AnchorIndex)
	}
	if anomalies[0].Severity <= anomalies[1].Severity {
		t.Errorf("expected descending severity, got %g then %g",
			anomalies[0].Severity, anomalies[1].Severity)
	}
}

// TestDetectCleanColumn: uniformly high scores produce no anomalies.
func TestDetectCleanColumn(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig())
	scores := scoresOf(0.92, 0.95, 0.91, 0.94, 0.93, 0.95, 0.92)

	if anomalies := d.Detect(scores); len(anomalies) != 0 {
		t.Fatalf("expected no anomalies, got %+v", anomalies)
	}
}

// TestDetectShortColumns: zero- and one-element score sequences never flag.
func TestDetectShortColumns(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig())
	if anomalies := d.Detect(nil); len(anomalies) != 0 {
		t.Errorf("empty scores: expected none, got %+v", anomalies)
	}
	if anomalies := d.Detect(scoresOf(0.3)); len(anomalies) != 0 {
		t.Errorf("single score: expected none, got %+v", anomalies)
	}
}

/**
 * Tesseract Re-query - offline fallback candidate source
 *
 * Runs Tesseract locally over the cropped cell when the transcription
 * service is unavailable. Free and offline, but single-candidate: it cannot
 * rank alternatives the way the service does.
 */

package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/zupu/alignworker/internal/align"
)

// TesseractSource recognizes crop contents with a local Tesseract install
type TesseractSource struct {
	language string
}

// TesseractSourceConfig holds Tesseract configuration
type TesseractSourceConfig struct {
	// Language is the traineddata name, e.g. "chi_tra_vert" for vertical
	// traditional Chinese.
	Language string
}

// NewTesseractSource creates a local candidate source
func NewTesseractSource(cfg *TesseractSourceConfig) *TesseractSource {
	lang := cfg.Language
	if lang == "" {
		lang = "chi_tra_vert"
	}
	return &TesseractSource{language: lang}
}

// Candidates implements align.CandidateSource. Substitution queries run in
// single-character mode; offset queries allow a short vertical run so an
// insertion hypothesis can come back as two characters.
func (t *TesseractSource) Candidates(ctx context.Context, crop *image.Gray, hint align.QueryHint) ([]align.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, crop); err != nil {
		return nil, fmt.Errorf("failed to encode crop: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.language); err != nil {
		return nil, fmt.Errorf("failed to set language: %w", err)
	}

	mode := gosseract.PSM_SINGLE_CHAR
	if hint.Kind == align.AnomalyOffset {
		mode = gosseract.PSM_SINGLE_BLOCK_VERT_TEXT
	}
	if err := client.SetPageSegMode(mode); err != nil {
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}

	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, fmt.Errorf("tesseract recognition failed: %w", err)
	}

	glyphs := compactGlyphs(text)
	if len(glyphs) == 0 {
		return nil, nil
	}

	candidates := []align.Candidate{
		{Glyphs: glyphs, Confidence: localConfidence(glyphs, hint)},
	}
	// An offset can also mean the current glyph should not be there at all;
	// offer the deletion hypothesis at low rank and let alignment evidence
	// decide.
	if hint.Kind == align.AnomalyOffset {
		candidates = append(candidates, align.Candidate{Confidence: 0.2})
	}
	return candidates, nil
}

// compactGlyphs strips whitespace and line breaks from recognized text.
func compactGlyphs(text string) []rune {
	var out []rune
	for _, r := range text {
		if !strings.ContainsRune(" \t\r\n", r) {
			out = append(out, r)
		}
	}
	return out
}

// localConfidence is a conservative estimate: Tesseract on degraded
// historical print is a fallback, never a trusted ranker.
func localConfidence(glyphs []rune, hint align.QueryHint) float64 {
	confidence := 0.5
	if hint.Kind == align.AnomalySubstitution && len(glyphs) == 1 {
		confidence += 0.1
	}
	if hint.Current != 0 && len(glyphs) > 0 && glyphs[0] == hint.Current {
		confidence += 0.1
	}
	return confidence
}

package ocr

import (
	"context"
	"fmt"
	"image"

	"github.com/zupu/alignworker/internal/align"
	"github.com/zupu/alignworker/internal/logging"
)

// Chain tries candidate sources in order and returns the first non-empty
// answer. The worker runs the transcription service first, the glyph index
// second and local Tesseract last.
type Chain struct {
	sources []align.CandidateSource
	logger  *logging.Logger
}

// NewChain builds a fallback chain; nil sources are skipped.
func NewChain(sources ...align.CandidateSource) *Chain {
	kept := make([]align.CandidateSource, 0, len(sources))
	for _, s := range sources {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Chain{
		sources: kept,
		logger:  logging.NewLogger("OCRChain"),
	}
}

// Candidates implements align.CandidateSource.
func (c *Chain) Candidates(ctx context.Context, crop *image.Gray, hint align.QueryHint) ([]align.Candidate, error) {
	if len(c.sources) == 0 {
		return nil, fmt.Errorf("no candidate sources configured")
	}

	var lastErr error
	for i, src := range c.sources {
		candidates, err := src.Candidates(ctx, crop, hint)
		if err != nil {
			c.logger.Warn("Candidate source failed, trying next",
				"tier", i,
				"kind", string(hint.Kind),
				"error", err.Error())
			lastErr = err
			continue
		}
		if len(candidates) > 0 {
			return candidates, nil
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("all candidate sources failed: %w", lastErr)
	}
	return nil, nil
}

/**
 * Column Processor for the Alignment Verification Worker
 *
 * Orchestrates per-column verification:
 * - Fetch column raster + initial transcription from the layout service
 * - Resume check against the latest persisted record
 * - Run the alignment/correction loop
 * - Persist the versioned column record
 * - Feed converged glyphs into the glyph index
 */

package processor

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/zupu/alignworker/internal/align"
	"github.com/zupu/alignworker/internal/clients"
	"github.com/zupu/alignworker/internal/errors"
	"github.com/zupu/alignworker/internal/logging"
	"github.com/zupu/alignworker/internal/storage"
)

// ColumnSource fetches columns from the layout service
type ColumnSource interface {
	FetchColumn(ctx context.Context, columnID string) (*clients.Column, error)
	ListDocumentColumns(ctx context.Context, documentID string) ([]string, error)
}

// RecordStore persists alignment outcomes
type RecordStore interface {
	SaveColumnRecord(ctx context.Context, record *storage.ColumnRecord) error
	GetColumnRecord(ctx context.Context, columnID string) (*storage.ColumnRecord, error)
	ListColumnRecords(ctx context.Context, documentID string) ([]*storage.ColumnRecord, error)
	SaveDocumentReport(ctx context.Context, report *storage.DocumentReport) error
	IndexVerifiedGlyphs(ctx context.Context, columnID string, observations []storage.GlyphObservation)
}

// Aligner runs the correction loop for one column
type Aligner interface {
	Run(ctx context.Context, region align.ColumnRegion, initial align.Transcription, start align.PlacementParams) (*align.AlignmentResult, error)
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Source      ColumnSource
	Store       RecordStore
	Engine      Aligner
	EngineCfg   align.Config
	GlyphScore  float64 // minimum cell similarity to index a glyph
}

// ColumnOutcome summarizes one processed column
type ColumnOutcome struct {
	ColumnID      string
	DocumentID    string
	Status        align.Status
	AvgSimilarity float64
	Iterations    int
	Resumed       bool
	DurationMs    int64
}

// ColumnProcessor handles column verification jobs
type ColumnProcessor struct {
	cfg    *ProcessorConfig
	logger *logging.Logger
}

// NewColumnProcessor creates a new column processor
func NewColumnProcessor(cfg *ProcessorConfig) (*ColumnProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("column source is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("alignment engine is required")
	}
	if cfg.GlyphScore <= 0 {
		cfg.GlyphScore = 0.9
	}

	return &ColumnProcessor{
		cfg:    cfg,
		logger: logging.NewLogger("ColumnProcessor"),
	}, nil
}

// ProcessColumn verifies one column. A column whose latest record already
// converged is skipped unless force is set; a previous failed-partial run
// resumes from its persisted transcription and placement.
func (p *ColumnProcessor) ProcessColumn(ctx context.Context, columnID string, force bool) (*ColumnOutcome, error) {
	startTime := time.Now()

	column, err := p.cfg.Source.FetchColumn(ctx, columnID)
	if err != nil {
		return nil, errors.NewColumnFetchFailedError(columnID, err)
	}
	if column.Region.Image == nil || column.Region.Image.Bounds().Empty() {
		return nil, errors.NewInvalidColumnError(columnID, "empty source image")
	}

	initial := column.Transcription
	placement := p.normalizePlacement(column)
	resumed := false

	if previous, err := p.cfg.Store.GetColumnRecord(ctx, columnID); err == nil {
		if previous.Status == string(align.StatusConverged) && !force {
			p.logger.Info("Column already converged, skipping",
				"columnId", columnID,
				"version", previous.Version)
			return &ColumnOutcome{
				ColumnID:      columnID,
				DocumentID:    previous.DocumentID,
				Status:        align.StatusConverged,
				AvgSimilarity: previous.AvgSimilarity,
				Iterations:    previous.Iterations,
				Resumed:       true,
				DurationMs:    time.Since(startTime).Milliseconds(),
			}, nil
		}
		// Resume from the best state of the previous run.
		if previous.Transcription != "" {
			initial = align.NewTranscription(previous.Transcription)
			if prev := placementFromRecord(previous); prev.Validate() == nil {
				placement = prev
			}
			resumed = true
		}
	}

	result, err := p.cfg.Engine.Run(ctx, column.Region, initial, placement)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.NewAlignmentTimeoutError(columnID, time.Since(startTime), err)
		}
		return nil, errors.NewInvalidColumnError(columnID, err.Error())
	}

	record := recordFromResult(column, result)
	if err := p.cfg.Store.SaveColumnRecord(ctx, record); err != nil {
		return nil, errors.NewStorageFailedError(columnID, err)
	}

	if result.Status == align.StatusConverged {
		p.cfg.Store.IndexVerifiedGlyphs(ctx, columnID, p.glyphObservations(column, result))
	}

	outcome := &ColumnOutcome{
		ColumnID:      columnID,
		DocumentID:    column.DocumentID,
		Status:        result.Status,
		AvgSimilarity: result.AvgSimilarity,
		Iterations:    result.Iterations,
		Resumed:       resumed,
		DurationMs:    time.Since(startTime).Milliseconds(),
	}

	p.logger.Info("Column processed",
		"columnId", columnID,
		"status", string(result.Status),
		"avgSimilarity", fmt.Sprintf("%.4f", result.AvgSimilarity),
		"iterations", result.Iterations,
		"lowConfidence", result.LowConfidence,
		"resumed", resumed,
		"durationMs", outcome.DurationMs)

	return outcome, nil
}

// normalizePlacement substitutes column-type defaults when the layout
// service's estimate is unusable. Spine and title columns run larger type
// than main text; burial inscriptions tend to be tighter.
func (p *ColumnProcessor) normalizePlacement(column *clients.Column) align.PlacementParams {
	placement := column.Placement
	if placement.Validate() == nil {
		return placement
	}

	bounds := column.Region.Image.Bounds()
	size := float64(bounds.Dx()) * 0.9
	spacing := 1.1
	switch column.Region.Type {
	case align.ColumnSpine, align.ColumnTitle:
		spacing = 1.25
	case align.ColumnBurial:
		spacing = 1.05
	}

	p.logger.Warn("Unusable placement estimate, using column-type defaults",
		"columnId", column.Region.ID,
		"columnType", string(column.Region.Type))

	return align.PlacementParams{
		X:           float64(bounds.Min.X) + float64(bounds.Dx())*0.05,
		Y:           float64(bounds.Min.Y),
		FontSize:    size,
		LineSpacing: spacing,
	}
}

// glyphObservations crops each sufficiently confident cell of a converged
// column and reduces it to index features.
func (p *ColumnProcessor) glyphObservations(column *clients.Column, result *align.AlignmentResult) []storage.GlyphObservation {
	var observations []storage.GlyphObservation
	bounds := column.Region.Image.Bounds()
	for _, score := range result.Scores {
		if score.Similarity < p.cfg.GlyphScore {
			continue
		}
		if score.Index >= result.Transcription.Len() {
			continue
		}
		rect := result.Params.CellRect(score.Index).Intersect(bounds)
		if rect.Empty() {
			continue
		}
		crop := column.Region.Image.SubImage(rect).(*image.Gray)
		observations = append(observations, storage.GlyphObservation{
			Glyph:  result.Transcription.Glyphs[score.Index],
			Vector: align.StrokeFeatures(crop),
			Score:  score.Similarity,
		})
	}
	return observations
}

// recordFromResult flattens an engine result into its persisted shape.
func recordFromResult(column *clients.Column, result *align.AlignmentResult) *storage.ColumnRecord {
	anomalies := make([]map[string]interface{}, 0, len(result.Anomalies))
	for _, a := range result.Anomalies {
		anomalies = append(anomalies, map[string]interface{}{
			"anchor_index": a.AnchorIndex,
			"kind":         string(a.Kind),
			"severity":     a.Severity,
			"unresolved":   a.Unresolved,
			"reason":       a.Reason,
		})
	}

	return &storage.ColumnRecord{
		ColumnID:      column.Region.ID,
		DocumentID:    column.DocumentID,
		ColumnType:    string(column.Region.Type),
		ReadingOrder:  column.Region.ReadingOrder,
		Transcription: result.Transcription.String(),
		Confidences:   result.Confidences(),
		AvgSimilarity: result.AvgSimilarity,
		Status:        string(result.Status),
		LowConfidence: result.LowConfidence,
		Iterations:    result.Iterations,
		Placement: map[string]interface{}{
			"x":            result.Params.X,
			"y":            result.Params.Y,
			"font_size":    result.Params.FontSize,
			"line_spacing": result.Params.LineSpacing,
		},
		Anomalies: anomalies,
	}
}

// placementFromRecord reconstructs placement params from a persisted record.
func placementFromRecord(record *storage.ColumnRecord) align.PlacementParams {
	getFloat := func(key string) float64 {
		if v, ok := record.Placement[key].(float64); ok {
			return v
		}
		return 0
	}
	return align.PlacementParams{
		X:           getFloat("x"),
		Y:           getFloat("y"),
		FontSize:    getFloat("font_size"),
		LineSpacing: getFloat("line_spacing"),
	}
}

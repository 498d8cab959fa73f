/**
 * Storage Manager for the Alignment Verification Worker
 *
 * Coordinates PostgreSQL (column records, document reports) and Qdrant
 * (glyph feature index). Column records are the record of truth; glyph
 * indexing is best-effort enrichment and never fails a save.
 */

package storage

import (
	"context"
	"fmt"
	"image"

	"github.com/google/uuid"

	"github.com/zupu/alignworker/internal/align"
	"github.com/zupu/alignworker/internal/logging"
)

// StorageManager coordinates PostgreSQL and Qdrant operations
type StorageManager struct {
	postgres *PostgresClient
	qdrant   *QdrantClient
	logger   *logging.Logger
}

// GlyphObservation is one verified glyph crop to feed into the index
type GlyphObservation struct {
	Glyph  rune
	Vector []float32
	Score  float64
}

// NewStorageManager creates a new storage manager
func NewStorageManager(postgresURL string, qdrantAddress string, qdrantCollection string) (*StorageManager, error) {
	postgres, err := NewPostgresClient(postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
	}

	qdrantClient, err := NewQdrantClient(qdrantAddress, qdrantCollection)
	if err != nil {
		postgres.Close()
		return nil, fmt.Errorf("failed to initialize Qdrant client: %w", err)
	}

	return &StorageManager{
		postgres: postgres,
		qdrant:   qdrantClient,
		logger:   logging.NewLogger("StorageManager"),
	}, nil
}

// SaveColumnRecord persists one alignment outcome
func (sm *StorageManager) SaveColumnRecord(ctx context.Context, record *ColumnRecord) error {
	return sm.postgres.UpsertColumnRecord(ctx, record)
}

// GetColumnRecord retrieves the latest record for a column
func (sm *StorageManager) GetColumnRecord(ctx context.Context, columnID string) (*ColumnRecord, error) {
	return sm.postgres.GetColumnRecord(ctx, columnID)
}

// ListColumnRecords returns a document's column records in reading order
func (sm *StorageManager) ListColumnRecords(ctx context.Context, documentID string) ([]*ColumnRecord, error) {
	return sm.postgres.ListColumnRecords(ctx, documentID)
}

// SaveDocumentReport persists a document's aggregation report
func (sm *StorageManager) SaveDocumentReport(ctx context.Context, report *DocumentReport) error {
	return sm.postgres.UpsertDocumentReport(ctx, report)
}

// IndexVerifiedGlyphs feeds converged glyph observations into the index.
// Failures are logged and swallowed: the index is an accelerator, not a
// record, and a Qdrant outage must not fail the column.
func (sm *StorageManager) IndexVerifiedGlyphs(ctx context.Context, columnID string, observations []GlyphObservation) {
	for _, obs := range observations {
		point := &GlyphPoint{
			ID:       uuid.New().String(),
			Glyph:    obs.Glyph,
			Vector:   obs.Vector,
			ColumnID: columnID,
			Score:    obs.Score,
		}
		if err := sm.qdrant.IndexGlyph(ctx, point); err != nil {
			sm.logger.Warn("Failed to index glyph",
				"columnId", columnID,
				"glyph", string(obs.Glyph),
				"error", err.Error())
			return
		}
	}
}

// GlyphCandidateSource adapts the glyph index into an align.CandidateSource:
// the crop's stroke features are matched against previously verified glyphs.
// Serves substitution queries only; an offset needs multi-character
// hypotheses the index cannot rank.
type GlyphCandidateSource struct {
	qdrant *QdrantClient
	limit  int
}

// NewGlyphCandidateSource builds the adapter over the manager's index
func (sm *StorageManager) NewGlyphCandidateSource(limit int) *GlyphCandidateSource {
	if limit <= 0 {
		limit = 5
	}
	return &GlyphCandidateSource{qdrant: sm.qdrant, limit: limit}
}

// Candidates implements align.CandidateSource
func (g *GlyphCandidateSource) Candidates(ctx context.Context, crop *image.Gray, hint align.QueryHint) ([]align.Candidate, error) {
	if hint.Kind != align.AnomalySubstitution {
		return nil, nil
	}

	vector := align.StrokeFeatures(crop)
	points, err := g.qdrant.SearchGlyphs(ctx, vector, g.limit)
	if err != nil {
		return nil, fmt.Errorf("glyph index search failed: %w", err)
	}

	seen := make(map[rune]bool)
	candidates := make([]align.Candidate, 0, len(points))
	for _, p := range points {
		if seen[p.Glyph] {
			continue
		}
		seen[p.Glyph] = true
		candidates = append(candidates, align.Candidate{
			Glyphs:     []rune{p.Glyph},
			Confidence: p.Score,
		})
	}
	return candidates, nil
}

// GetStats returns statistics from both systems
func (sm *StorageManager) GetStats(ctx context.Context) (map[string]interface{}, error) {
	pgStats := sm.postgres.GetStats()

	qdrantStats, err := sm.qdrant.GetCollectionInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get Qdrant stats: %w", err)
	}

	return map[string]interface{}{
		"postgres": map[string]interface{}{
			"max_open_connections": pgStats.MaxOpenConnections,
			"open_connections":     pgStats.OpenConnections,
			"in_use":               pgStats.InUse,
			"idle":                 pgStats.Idle,
			"wait_count":           pgStats.WaitCount,
			"wait_duration":        pgStats.WaitDuration.String(),
		},
		"qdrant": qdrantStats,
	}, nil
}

// Ping checks PostgreSQL connectivity
func (sm *StorageManager) Ping(ctx context.Context) error {
	return sm.postgres.Ping(ctx)
}

// Close closes all connections
func (sm *StorageManager) Close() error {
	var pgErr, qdErr error

	if sm.postgres != nil {
		pgErr = sm.postgres.Close()
	}
	if sm.qdrant != nil {
		qdErr = sm.qdrant.Close()
	}

	if pgErr != nil {
		return fmt.Errorf("failed to close PostgreSQL: %w", pgErr)
	}
	if qdErr != nil {
		return fmt.Errorf("failed to close Qdrant: %w", qdErr)
	}
	return nil
}

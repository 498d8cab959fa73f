/**
 * Document Report Aggregation
 *
 * Rolls a document's column records into a single gate decision:
 * - avg similarity > 0.90 and no failed columns: auto_publish
 * - avg similarity < 0.70 or any failed column: review
 * - otherwise: standard
 */

package processor

import (
	"context"
	"fmt"

	"github.com/zupu/alignworker/internal/align"
	"github.com/zupu/alignworker/internal/errors"
	"github.com/zupu/alignworker/internal/storage"
)

// Gate decisions for downstream publishing
const (
	DecisionAutoPublish = "auto_publish"
	DecisionStandard    = "standard"
	DecisionReview      = "review"
)

const (
	autoPublishThreshold = 0.90
	reviewThreshold      = 0.70
)

// AggregateDocument builds and persists a document report from the latest
// column records. It reads only persisted state, so it can run any time
// after the last column task finishes.
func (p *ColumnProcessor) AggregateDocument(ctx context.Context, documentID string) (*storage.DocumentReport, error) {
	records, err := p.cfg.Store.ListColumnRecords(ctx, documentID)
	if err != nil {
		return nil, errors.NewStorageFailedError(documentID, err)
	}
	if len(records) == 0 {
		return nil, errors.NewInvalidColumnError(documentID, "document has no column records")
	}

	report := buildReport(documentID, records)
	if err := p.cfg.Store.SaveDocumentReport(ctx, report); err != nil {
		return nil, errors.NewStorageFailedError(documentID, err)
	}

	p.logger.Info("Document report saved",
		"documentId", documentID,
		"decision", report.Decision,
		"avgSimilarity", fmt.Sprintf("%.4f", report.AvgSimilarity),
		"totalColumns", report.TotalColumns,
		"failedColumns", report.FailedColumns)

	return report, nil
}

// buildReport computes the aggregate stats and gate decision.
func buildReport(documentID string, records []*storage.ColumnRecord) *storage.DocumentReport {
	report := &storage.DocumentReport{
		DocumentID:   documentID,
		TotalColumns: len(records),
	}

	sum := 0.0
	lowConfidence := 0
	var failedIDs []string
	var flagged []map[string]interface{}
	columns := make([]map[string]interface{}, 0, len(records))
	for _, r := range records {
		sum += r.AvgSimilarity
		switch r.Status {
		case string(align.StatusConverged):
			report.ConvergedColumns++
		default:
			report.FailedColumns++
			failedIDs = append(failedIDs, r.ColumnID)
		}
		if r.LowConfidence {
			lowConfidence++
		}
		for _, a := range r.Anomalies {
			flagged = append(flagged, map[string]interface{}{
				"column_id":       r.ColumnID,
				"character_index": a["anchor_index"],
				"kind":            a["kind"],
				"severity":        a["severity"],
			})
		}
		columns = append(columns, map[string]interface{}{
			"column_id":      r.ColumnID,
			"reading_order":  r.ReadingOrder,
			"status":         r.Status,
			"avg_similarity": r.AvgSimilarity,
			"iterations":     r.Iterations,
			"updated_at":     r.UpdatedAt,
		})
	}
	report.AvgSimilarity = sum / float64(len(records))

	switch {
	case report.FailedColumns == 0 && report.AvgSimilarity > autoPublishThreshold:
		report.Decision = DecisionAutoPublish
	case report.FailedColumns > 0 || report.AvgSimilarity < reviewThreshold:
		report.Decision = DecisionReview
	default:
		report.Decision = DecisionStandard
	}

	report.Details = map[string]interface{}{
		"low_confidence_columns": lowConfidence,
		"columns":                columns,
	}
	if len(failedIDs) > 0 {
		report.Details["failed_column_ids"] = failedIDs
	}
	if len(flagged) > 0 {
		report.Details["flagged"] = flagged
	}

	return report
}

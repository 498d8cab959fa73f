/**
 * PostgreSQL Client for the Alignment Verification Worker
 *
 * Persists per-column alignment records (versioned, one row per column) and
 * per-document aggregation reports.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// ColumnRecord is the persisted outcome of one alignment run
type ColumnRecord struct {
	ColumnID      string
	DocumentID    string
	ColumnType    string
	ReadingOrder  int
	Transcription string
	Confidences   []float64
	AvgSimilarity float64
	Status        string
	LowConfidence bool
	Iterations    int
	Placement     map[string]interface{}
	Anomalies     []map[string]interface{}
	Version       int
	UpdatedAt     time.Time
}

// DocumentReport aggregates a document's column records into a gate decision
type DocumentReport struct {
	DocumentID       string
	TotalColumns     int
	ConvergedColumns int
	FailedColumns    int
	AvgSimilarity    float64
	Decision         string
	Details          map[string]interface{}
}

// sanitizeConfidence rounds confidence to 4 decimal places to prevent PostgreSQL float precision errors
// PostgreSQL FLOAT type can represent values with excessive precision (e.g., 0.9632000000000001)
// which causes "invalid input syntax for type integer" errors when used in certain contexts.
// This function enforces bounded precision by rounding to 4 decimals and clamping to [0.0, 1.0].
func sanitizeConfidence(confidence float64) float64 {
	if confidence < 0.0 {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// UpsertColumnRecord stores one alignment run's outcome. Re-running a column
// replaces the row and bumps its version, so only the latest run is the
// record of truth while the version betrays how often it was reprocessed.
func (p *PostgresClient) UpsertColumnRecord(ctx context.Context, record *ColumnRecord) error {
	if record.ColumnID == "" {
		return fmt.Errorf("column ID is required")
	}
	if record.Status == "" {
		return fmt.Errorf("status is required")
	}

	confidences := make([]float64, len(record.Confidences))
	for i, c := range record.Confidences {
		confidences[i] = sanitizeConfidence(c)
	}

	placementJSON, err := json.Marshal(record.Placement)
	if err != nil {
		return fmt.Errorf("failed to marshal placement: %w", err)
	}
	anomaliesJSON, err := json.Marshal(record.Anomalies)
	if err != nil {
		return fmt.Errorf("failed to marshal anomalies: %w", err)
	}

	// Use explicit NUMERIC(5,4) casting for avg_similarity; see
	// sanitizeConfidence for the precision rationale.
	query := `
		INSERT INTO alignment.column_records (
			column_id, document_id, column_type, reading_order,
			transcription, confidences, avg_similarity, status,
			low_confidence, iterations, placement, anomalies,
			version, created_at, updated_at
		) VALUES (
			$1::uuid, CASE WHEN $2 = '' THEN NULL ELSE $2::uuid END,
			NULLIF($3, ''), $4,
			$5, $6, $7::NUMERIC(5,4), $8,
			$9, $10, COALESCE($11::jsonb, '{}'::jsonb), COALESCE($12::jsonb, '[]'::jsonb),
			1, NOW(), NOW()
		)
		ON CONFLICT (column_id) DO UPDATE SET
			document_id = COALESCE(EXCLUDED.document_id, alignment.column_records.document_id),
			column_type = COALESCE(EXCLUDED.column_type, alignment.column_records.column_type),
			reading_order = EXCLUDED.reading_order,
			transcription = EXCLUDED.transcription,
			confidences = EXCLUDED.confidences,
			avg_similarity = EXCLUDED.avg_similarity::NUMERIC(5,4),
			status = EXCLUDED.status,
			low_confidence = EXCLUDED.low_confidence,
			iterations = EXCLUDED.iterations,
			placement = EXCLUDED.placement,
			anomalies = EXCLUDED.anomalies,
			version = alignment.column_records.version + 1,
			updated_at = NOW()
		RETURNING version
	`

	var version int
	err = p.db.QueryRowContext(
		ctx,
		query,
		record.ColumnID,                              // $1
		record.DocumentID,                            // $2
		record.ColumnType,                            // $3
		record.ReadingOrder,                          // $4
		record.Transcription,                         // $5
		pq.Array(confidences),                        // $6
		sanitizeConfidence(record.AvgSimilarity),     // $7
		record.Status,                                // $8
		record.LowConfidence,                         // $9
		record.Iterations,                            // $10
		placementJSON,                                // $11
		anomaliesJSON,                                // $12
	).Scan(&version)

	if err != nil {
		return fmt.Errorf("failed to upsert column record (column=%s, status=%s, avg=%.4f): %w",
			record.ColumnID, record.Status, record.AvgSimilarity, err)
	}

	record.Version = version
	return nil
}

// GetColumnRecord retrieves the latest record for a column; sql.ErrNoRows is
// wrapped into a not-found error.
func (p *PostgresClient) GetColumnRecord(ctx context.Context, columnID string) (*ColumnRecord, error) {
	if columnID == "" {
		return nil, fmt.Errorf("column ID is required")
	}

	query := `
		SELECT
			column_id, COALESCE(document_id::text, ''), COALESCE(column_type, ''),
			reading_order, transcription, confidences, avg_similarity,
			status, low_confidence, iterations, placement, anomalies,
			version, updated_at
		FROM alignment.column_records
		WHERE column_id = $1::uuid
	`

	var (
		record         ColumnRecord
		confidences    pq.Float64Array
		placementJSON  []byte
		anomaliesJSON  []byte
	)

	err := p.db.QueryRowContext(ctx, query, columnID).Scan(
		&record.ColumnID, &record.DocumentID, &record.ColumnType,
		&record.ReadingOrder, &record.Transcription, &confidences,
		&record.AvgSimilarity, &record.Status, &record.LowConfidence,
		&record.Iterations, &placementJSON, &anomaliesJSON,
		&record.Version, &record.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("column record not found: %s", columnID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get column record: %w", err)
	}

	record.Confidences = []float64(confidences)
	if len(placementJSON) > 0 {
		if err := json.Unmarshal(placementJSON, &record.Placement); err != nil {
			return nil, fmt.Errorf("failed to unmarshal placement: %w", err)
		}
	}
	if len(anomaliesJSON) > 0 {
		if err := json.Unmarshal(anomaliesJSON, &record.Anomalies); err != nil {
			return nil, fmt.Errorf("failed to unmarshal anomalies: %w", err)
		}
	}

	return &record, nil
}

// ListColumnRecords returns a document's column records in reading order.
func (p *PostgresClient) ListColumnRecords(ctx context.Context, documentID string) ([]*ColumnRecord, error) {
	if documentID == "" {
		return nil, fmt.Errorf("document ID is required")
	}

	query := `
		SELECT
			column_id, COALESCE(column_type, ''), reading_order,
			transcription, avg_similarity, status, low_confidence,
			iterations, anomalies, version
		FROM alignment.column_records
		WHERE document_id = $1::uuid
		ORDER BY reading_order ASC
	`

	rows, err := p.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list column records: %w", err)
	}
	defer rows.Close()

	var records []*ColumnRecord
	for rows.Next() {
		record := &ColumnRecord{DocumentID: documentID}
		var anomaliesJSON []byte
		if err := rows.Scan(
			&record.ColumnID, &record.ColumnType, &record.ReadingOrder,
			&record.Transcription, &record.AvgSimilarity, &record.Status,
			&record.LowConfidence, &record.Iterations, &anomaliesJSON,
			&record.Version,
		); err != nil {
			return nil, fmt.Errorf("failed to scan column record: %w", err)
		}
		if len(anomaliesJSON) > 0 {
			if err := json.Unmarshal(anomaliesJSON, &record.Anomalies); err != nil {
				return nil, fmt.Errorf("failed to unmarshal anomalies: %w", err)
			}
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate column records: %w", err)
	}
	return records, nil
}

// UpsertDocumentReport stores or replaces a document's aggregation report
func (p *PostgresClient) UpsertDocumentReport(ctx context.Context, report *DocumentReport) error {
	if report.DocumentID == "" {
		return fmt.Errorf("document ID is required")
	}
	if report.Decision == "" {
		return fmt.Errorf("decision is required")
	}

	detailsJSON, err := json.Marshal(report.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}

	query := `
		INSERT INTO alignment.document_reports (
			document_id, total_columns, converged_columns, failed_columns,
			avg_similarity, decision, details, created_at, updated_at
		) VALUES (
			$1::uuid, $2, $3, $4, $5::NUMERIC(5,4), $6,
			COALESCE($7::jsonb, '{}'::jsonb), NOW(), NOW()
		)
		ON CONFLICT (document_id) DO UPDATE SET
			total_columns = EXCLUDED.total_columns,
			converged_columns = EXCLUDED.converged_columns,
			failed_columns = EXCLUDED.failed_columns,
			avg_similarity = EXCLUDED.avg_similarity::NUMERIC(5,4),
			decision = EXCLUDED.decision,
			details = EXCLUDED.details,
			updated_at = NOW()
	`

	_, err = p.db.ExecContext(
		ctx,
		query,
		report.DocumentID,
		report.TotalColumns,
		report.ConvergedColumns,
		report.FailedColumns,
		sanitizeConfidence(report.AvgSimilarity),
		report.Decision,
		detailsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert document report (document=%s, decision=%s): %w",
			report.DocumentID, report.Decision, err)
	}
	return nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}

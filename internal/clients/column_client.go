/**
 * Layout Service Client - column retrieval for alignment verification
 *
 * The layout service segments scanned page spreads into vertically-read
 * column regions and attaches the initial OCR transcription to each. This
 * client fetches those columns so the worker can verify and correct them.
 *
 * Retrieval Flow:
 * 1. Queue task names a column ID (or a document ID for aggregation)
 * 2. Worker fetches the column: grayscale crop, type, reading order,
 *    initial transcription, initial placement estimate
 * 3. Worker runs the alignment loop and persists the outcome
 */

package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/draw"
	_ "image/png"
	"io"
	"net/http"
	"time"

	"github.com/zupu/alignworker/internal/align"
	"github.com/zupu/alignworker/internal/logging"
)

// ColumnClient handles communication with the layout service
type ColumnClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// ColumnResponse is the service envelope for a single column
type ColumnResponse struct {
	Success bool       `json:"success"`
	Data    ColumnData `json:"data"`
	Message string     `json:"message"`
}

// ColumnData contains the column raster and its metadata
type ColumnData struct {
	ColumnID      string           `json:"columnId"`
	DocumentID    string           `json:"documentId"`
	ColumnType    string           `json:"columnType"`
	ReadingOrder  int              `json:"readingOrder"`
	Image         string           `json:"image"`  // Base64 encoded PNG, grayscale
	Format        string           `json:"format"` // always "base64"
	Transcription string           `json:"transcription"`
	Placement     PlacementPayload `json:"placement"`
}

// PlacementPayload is the layout service's initial placement estimate
type PlacementPayload struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	FontSize    float64 `json:"fontSize"`
	LineSpacing float64 `json:"lineSpacing"`
}

// DocumentColumnsResponse lists the column IDs of one document
type DocumentColumnsResponse struct {
	Success bool `json:"success"`
	Data    struct {
		DocumentID string   `json:"documentId"`
		ColumnIDs  []string `json:"columnIds"`
	} `json:"data"`
	Message string `json:"message"`
}

// Column is the decoded result handed to the processor
type Column struct {
	Region        align.ColumnRegion
	DocumentID    string
	Transcription align.Transcription
	Placement     align.PlacementParams
}

// NewColumnClient creates a layout service client
func NewColumnClient(baseURL string) *ColumnClient {
	return &ColumnClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: logging.NewLogger("ColumnClient"),
	}
}

// FetchColumn retrieves and decodes one column by ID
func (c *ColumnClient) FetchColumn(ctx context.Context, columnID string) (*Column, error) {
	if columnID == "" {
		return nil, fmt.Errorf("column ID is required")
	}

	endpoint := fmt.Sprintf("%s/api/internal/layout/columns/%s", c.baseURL, columnID)

	httpReq, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("X-Source", "align-worker")
	httpReq.Header.Set("X-Request-ID", fmt.Sprintf("column-%d", time.Now().UnixNano()))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to layout service failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("column not found: %s", columnID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("layout service returned error status %d: %s", resp.StatusCode, string(body))
	}

	var colResp ColumnResponse
	if err := json.Unmarshal(body, &colResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if !colResp.Success {
		return nil, fmt.Errorf("layout service operation failed: %s", colResp.Message)
	}

	column, err := decodeColumn(&colResp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode column %s: %w", columnID, err)
	}

	c.logger.Info("Column fetched",
		"columnId", columnID,
		"documentId", column.DocumentID,
		"columnType", string(column.Region.Type),
		"transcriptionLength", column.Transcription.Len())

	return column, nil
}

// ListDocumentColumns returns the column IDs of a document in reading order
func (c *ColumnClient) ListDocumentColumns(ctx context.Context, documentID string) ([]string, error) {
	if documentID == "" {
		return nil, fmt.Errorf("document ID is required")
	}

	endpoint := fmt.Sprintf("%s/api/internal/layout/documents/%s/columns", c.baseURL, documentID)

	httpReq, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("X-Source", "align-worker")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to layout service failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("layout service returned error status %d: %s", resp.StatusCode, string(body))
	}

	var listResp DocumentColumnsResponse
	if err := json.Unmarshal(body, &listResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if !listResp.Success {
		return nil, fmt.Errorf("layout service operation failed: %s", listResp.Message)
	}

	return listResp.Data.ColumnIDs, nil
}

// HealthCheck verifies the layout service is available
func (c *ColumnClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	req.Header.Set("X-Source", "align-worker")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("layout service health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("layout service health check returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// decodeColumn validates the payload and converts it to engine types.
func decodeColumn(data *ColumnData) (*Column, error) {
	if data.Image == "" {
		return nil, fmt.Errorf("column payload has no image")
	}

	raw, err := base64.StdEncoding.DecodeString(data.Image)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image: %w", err)
	}

	decoded, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid image payload: %w", err)
	}

	gray := toGray(decoded)

	// The placement estimate is passed through unvalidated; the processor
	// falls back to column-type defaults when it is unusable.
	placement := align.PlacementParams{
		X:           data.Placement.X,
		Y:           data.Placement.Y,
		FontSize:    data.Placement.FontSize,
		LineSpacing: data.Placement.LineSpacing,
	}

	return &Column{
		Region: align.ColumnRegion{
			ID:           data.ColumnID,
			Type:         align.ColumnType(data.ColumnType),
			ReadingOrder: data.ReadingOrder,
			Image:        gray,
		},
		DocumentID:    data.DocumentID,
		Transcription: align.NewTranscription(data.Transcription),
		Placement:     placement,
	}, nil
}

// toGray converts any decoded image to 8-bit grayscale.
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	gray := image.NewGray(img.Bounds())
	draw.Draw(gray, gray.Bounds(), img, img.Bounds().Min, draw.Src)
	return gray
}

/**
 * Transcription Service Client - targeted OCR re-queries
 *
 * Queries the transcription service for replacement hypotheses at a single
 * anomalous column position. The service sees only the cropped cell plus its
 * textual context, so it can rank candidates without re-reading the page.
 */

package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"time"

	"github.com/zupu/alignworker/internal/align"
	"github.com/zupu/alignworker/internal/logging"
)

// Client handles communication with the transcription service
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// RequeryRequest represents a re-query for one anomalous position
type RequeryRequest struct {
	Image         string `json:"image"`  // Base64 encoded PNG crop
	Format        string `json:"format"` // always "base64"
	Kind          string `json:"kind"`   // "substitution" or "offset"
	Index         int    `json:"index"`
	Before        string `json:"before"`
	After         string `json:"after"`
	Current       string `json:"current"`
	MaxCandidates int    `json:"maxCandidates"`
}

// RequeryResponse represents the service envelope
type RequeryResponse struct {
	Success bool        `json:"success"`
	Data    RequeryData `json:"data"`
	Message string      `json:"message"`
}

// RequeryData contains the ranked hypotheses
type RequeryData struct {
	Candidates []RequeryCandidate `json:"candidates"`
	ModelUsed  string             `json:"modelUsed"`
}

// RequeryCandidate is one hypothesis: empty text proposes deletion, multiple
// characters propose insertion
type RequeryCandidate struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// NewClient creates a transcription service client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logging.NewLogger("TranscriptionClient"),
	}
}

// Candidates implements align.CandidateSource over the service's re-query
// endpoint.
func (c *Client) Candidates(ctx context.Context, crop *image.Gray, hint align.QueryHint) ([]align.Candidate, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, crop); err != nil {
		return nil, fmt.Errorf("failed to encode crop: %w", err)
	}

	req := &RequeryRequest{
		Image:         base64.StdEncoding.EncodeToString(buf.Bytes()),
		Format:        "base64",
		Kind:          string(hint.Kind),
		Index:         hint.Index,
		Before:        string(hint.Before),
		After:         string(hint.After),
		MaxCandidates: 5,
	}
	if hint.Current != 0 {
		req.Current = string(hint.Current)
	}

	c.logger.Debug("Requesting candidates",
		"kind", req.Kind,
		"index", req.Index,
		"cropBytes", buf.Len())

	endpoint := fmt.Sprintf("%s/api/internal/transcription/requery", c.baseURL)

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Source", "align-worker")
	httpReq.Header.Set("X-Request-ID", fmt.Sprintf("requery-%d", time.Now().UnixNano()))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to transcription service failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transcription service returned error status %d: %s", resp.StatusCode, string(body))
	}

	var requeryResp RequeryResponse
	if err := json.Unmarshal(body, &requeryResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if !requeryResp.Success {
		return nil, fmt.Errorf("transcription service operation failed: %s", requeryResp.Message)
	}

	candidates := make([]align.Candidate, 0, len(requeryResp.Data.Candidates))
	for _, rc := range requeryResp.Data.Candidates {
		candidates = append(candidates, align.Candidate{
			Glyphs:     []rune(rc.Text),
			Confidence: rc.Confidence,
		})
	}

	c.logger.Debug("Candidates received",
		"count", len(candidates),
		"modelUsed", requeryResp.Data.ModelUsed)

	return candidates, nil
}

// HealthCheck verifies the transcription service is available
func (c *Client) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/api/health", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	req.Header.Set("X-Source", "align-worker")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("health check failed with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

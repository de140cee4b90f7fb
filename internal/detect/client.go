// Package detect runs the image detection workflow: upload validation, the
// call to the model backend, response normalization and the history append.
package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/ahnjh51-tft/deepguard-v1/internal/config"
	"github.com/ahnjh51-tft/deepguard-v1/internal/models"
)

// Client calls the external detection backend.
type Client struct {
	baseURL    string
	modelID    string
	httpClient *http.Client
}

// NewClient creates a detector client from configuration.
func NewClient(cfg config.DetectorConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	modelID := cfg.ModelID
	if modelID == "" {
		modelID = models.ModelIDElaRF
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		modelID:    modelID,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ModelID returns the model identifier sent with every request.
func (c *Client) ModelID() string {
	return c.modelID
}

// detectResponse covers both wire formats the backend has used: the current
// one carries an explicit is_fake boolean, the legacy one a prediction string.
// Presence of is_fake selects the format.
type detectResponse struct {
	IsFake            *bool   `json:"is_fake"`
	Prediction        string  `json:"prediction"`
	Confidence        float64 `json:"confidence"`
	OriginalWithBoxes string  `json:"original_with_boxes"`
	ElaHeatmap        string  `json:"ela_heatmap"`
	ElaWithBoxes      string  `json:"ela_with_boxes"`
	Message           string  `json:"message"`
}

// Detect submits one image to the backend and returns the normalized result.
// Exactly one request is issued; there are no retries. Transport failures and
// non-2xx responses are reported as *ServerError.
func (c *Client) Detect(ctx context.Context, filename string, data []byte) (models.DetectionResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return models.DetectionResult{}, fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return models.DetectionResult{}, fmt.Errorf("failed to build upload: %w", err)
	}
	if err := writer.WriteField("model_id", c.modelID); err != nil {
		return models.DetectionResult{}, fmt.Errorf("failed to build upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return models.DetectionResult{}, fmt.Errorf("failed to build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/detect", &body)
	if err != nil {
		return models.DetectionResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.DetectionResult{}, &ServerError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.DetectionResult{}, &ServerError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.DetectionResult{}, &ServerError{
			Status: resp.StatusCode,
			Detail: truncate(string(respBody), 200),
		}
	}

	return normalizeResponse(respBody)
}

// normalizeResponse decodes either wire format into the canonical result.
func normalizeResponse(raw []byte) (models.DetectionResult, error) {
	var wire detectResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return models.DetectionResult{}, &ServerError{Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	result := models.DetectionResult{
		Confidence:        wire.Confidence,
		OriginalWithBoxes: wire.OriginalWithBoxes,
		ElaHeatmap:        wire.ElaHeatmap,
		ElaWithBoxes:      wire.ElaWithBoxes,
		Message:           wire.Message,
	}

	switch {
	case wire.IsFake != nil:
		result.IsFake = *wire.IsFake
	case wire.Prediction == "Fake":
		result.IsFake = true
	case wire.Prediction == "Real":
		result.IsFake = false
	default:
		return models.DetectionResult{}, &ServerError{Err: fmt.Errorf("unrecognized response shape: %s", truncate(string(raw), 200))}
	}

	return result, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

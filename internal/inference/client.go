// Package inference proxies crop images to a hosted vision model and
// normalizes whatever comes back into a stable DiagnosisResult. Provider
// failures degrade to an error response, never further.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrUnavailable wraps any provider-side failure.
var ErrUnavailable = errors.New("inference service unavailable")

const (
	defaultTimeout = 30 * time.Second
	maxListItems   = 10
)

// DiagnoseRequest is what callers submit for analysis.
type DiagnoseRequest struct {
	ImageBase64 string `json:"image_base64"`
	Crop        string `json:"crop"`
	Notes       string `json:"notes"`
}

// DiagnosisResult is the sanitized model output.
type DiagnosisResult struct {
	Disease    string   `json:"disease"`
	Confidence float64  `json:"confidence"`
	Severity   string   `json:"severity"`
	Symptoms   []string `json:"symptoms"`
	Treatments []string `json:"treatments"`
	Model      string   `json:"model"`
}

// providerResponse mirrors the provider wire format. Fields arrive loosely
// typed and bounded only by the sanitizer.
type providerResponse struct {
	Disease    string   `json:"disease"`
	Confidence float64  `json:"confidence"`
	Severity   string   `json:"severity"`
	Symptoms   []string `json:"symptoms"`
	Treatments []string `json:"treatments"`
}

// Client calls the configured vision-model HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates an inference client. timeoutSec bounds the whole
// request; zero uses the default.
func NewClient(baseURL, apiKey, model string, timeoutSec int, logger *zap.Logger) *Client {
	timeout := defaultTimeout
	if timeoutSec > 0 {
		timeout = time.Duration(timeoutSec) * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Configured reports whether a provider URL is set.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// Diagnose submits an image to the provider and returns the sanitized
// result.
func (c *Client) Diagnose(ctx context.Context, req DiagnoseRequest) (DiagnosisResult, error) {
	if !c.Configured() {
		return DiagnosisResult{}, fmt.Errorf("%w: no provider configured", ErrUnavailable)
	}

	body, err := json.Marshal(map[string]string{
		"model":        c.model,
		"image_base64": req.ImageBase64,
		"prompt":       buildPrompt(req.Crop, req.Notes),
	})
	if err != nil {
		return DiagnosisResult{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/diagnose", bytes.NewReader(body))
	if err != nil {
		return DiagnosisResult{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("inference request failed", zap.Error(err))
		return DiagnosisResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("inference provider error", zap.Int("status", resp.StatusCode))
		return DiagnosisResult{}, fmt.Errorf("%w: provider status %d", ErrUnavailable, resp.StatusCode)
	}

	var raw providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return DiagnosisResult{}, fmt.Errorf("%w: malformed provider response", ErrUnavailable)
	}
	return c.sanitize(raw), nil
}

// sanitize bounds the provider output so downstream consumers never see a
// confidence outside [0,1], unbounded lists or unlabeled results.
func (c *Client) sanitize(raw providerResponse) DiagnosisResult {
	disease := strings.TrimSpace(raw.Disease)
	if disease == "" {
		disease = "unknown"
	}
	confidence := raw.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	severity := strings.ToLower(strings.TrimSpace(raw.Severity))
	switch severity {
	case "low", "moderate", "high", "severe":
	default:
		severity = "unknown"
	}
	return DiagnosisResult{
		Disease:    disease,
		Confidence: confidence,
		Severity:   severity,
		Symptoms:   cleanList(raw.Symptoms),
		Treatments: cleanList(raw.Treatments),
		Model:      c.model,
	}
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		out = append(out, it)
		if len(out) == maxListItems {
			break
		}
	}
	return out
}

func buildPrompt(crop, notes string) string {
	var b strings.Builder
	b.WriteString("Identify the crop disease in this image.")
	if crop != "" {
		b.WriteString(" Crop: " + crop + ".")
	}
	if notes != "" {
		b.WriteString(" Grower notes: " + notes)
	}
	return b.String()
}

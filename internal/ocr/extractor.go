package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yourusername/p2p-swap/swap-service/pkg/logger"
	"go.uber.org/zap"
)

// HTTPExtractor sends proof images to an external OCR service and
// returns the recognized text.
type HTTPExtractor struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewHTTPExtractor creates an OCR client for the given service
func NewHTTPExtractor(baseURL, apiKey string) *HTTPExtractor {
	return &HTTPExtractor{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

// ExtractText uploads an image and returns the recognized text
func (e *HTTPExtractor) ExtractText(ctx context.Context, image []byte) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"image": base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode image payload: %w", err)
	}

	url := fmt.Sprintf("%s/v1/extract", e.baseURL)

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("OCR service returned status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	logger.Debug("OCR extraction completed",
		zap.Int("imageBytes", len(image)),
		zap.Int("textLength", len(result.Text)),
	)

	return result.Text, nil
}

// HealthCheck verifies the OCR service is accessible
func (e *HTTPExtractor) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/health", e.baseURL)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// Stub returns fixed text without calling any OCR engine, for
// environments where no OCR service is deployed.
type Stub struct {
	Text string
}

// ExtractText returns the canned text
func (s *Stub) ExtractText(ctx context.Context, image []byte) (string, error) {
	return s.Text, nil
}

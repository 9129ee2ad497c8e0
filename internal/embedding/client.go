// Package embedding is the HTTP client for the external embedding sidecar.
// The sidecar exposes /embed, /embed/batch and /health and returns
// fixed-dimension normalized dense vectors. The engine treats the whole
// capability as optional: callers must tolerate a nil or unhealthy provider.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/engramlabs/engram/internal/config"
)

// Client calls the embedding service.
type Client struct {
	baseURL    string
	dimension  int
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates a client from configuration.
func NewClient(cfg config.EmbeddingConfig, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.URL,
		dimension:  cfg.Dimension,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Dimension returns the vector size the provider produces.
func (c *Client) Dimension() int {
	return c.dimension
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
	Count      int         `json:"count"`
	Error      string      `json:"error,omitempty"`
}

// Embed returns the vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.post(ctx, "/embed", map[string]interface{}{"text": text})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("embedding service returned no vectors")
	}
	return resp.Embeddings[0], nil
}

// EmbedBatch returns vectors for several texts in one call.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.post(ctx, "/embed/batch", map[string]interface{}{"texts": texts})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d texts", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

// HealthCheck probes the service.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy status: %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}) (*embedResponse, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("embedding service: %s", parsed.Error)
	}
	return &parsed, nil
}

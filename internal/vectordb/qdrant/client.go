// Package qdrant is a minimal HTTP client for the Qdrant vector database,
// covering the collection and point operations the hybrid search engine needs.
package qdrant

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

// Client talks to a Qdrant instance over its REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates a client from configuration.
func NewClient(cfg config.QdrantConfig, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.URL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// HealthCheck probes the root endpoint. Newer Qdrant versions dropped /health,
// so the root endpoint is the portable check.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
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

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

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
	return respBody, nil
}

// EnsureCollection creates the collection when it does not exist yet.
func (c *Client) EnsureCollection(ctx context.Context, name string, vectorSize int) error {
	if _, err := c.doRequest(ctx, http.MethodGet, "/collections/"+name, nil); err == nil {
		return nil
	}

	reqBody := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	if _, err := c.doRequest(ctx, http.MethodPut, "/collections/"+name, reqBody); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	c.logger.WithField("collection", name).Info("Collection created")
	return nil
}

// Point is a vector with its payload.
type Point struct {
	ID      string                 `json:"id"`
	Vector  []float32              `json:"vector"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// ScoredPoint is a search hit.
type ScoredPoint struct {
	ID      string                 `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// UpsertPoints inserts or updates points in a collection.
func (c *Client) UpsertPoints(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	reqBody := map[string]interface{}{"points": points}
	if _, err := c.doRequest(ctx, http.MethodPut, "/collections/"+collection+"/points?wait=true", reqBody); err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}
	c.logger.WithFields(logrus.Fields{
		"collection": collection,
		"count":      len(points),
	}).Debug("Points upserted")
	return nil
}

// DeletePoints deletes points by id.
func (c *Client) DeletePoints(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	reqBody := map[string]interface{}{"points": ids}
	if _, err := c.doRequest(ctx, http.MethodPost, "/collections/"+collection+"/points/delete?wait=true", reqBody); err != nil {
		return fmt.Errorf("delete points: %w", err)
	}
	return nil
}

// NamespaceFilter builds a payload filter matching one namespace.
func NamespaceFilter(namespace string) map[string]interface{} {
	return map[string]interface{}{
		"must": []map[string]interface{}{
			{"key": "namespace", "match": map[string]interface{}{"value": namespace}},
		},
	}
}

// Search runs a nearest-neighbor query, optionally constrained by a payload
// filter.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, limit int, filter map[string]interface{}) ([]ScoredPoint, error) {
	reqBody := map[string]interface{}{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if filter != nil {
		reqBody["filter"] = filter
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/collections/"+collection+"/points/search", reqBody)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	var response struct {
		Result []ScoredPoint `json:"result"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return response.Result, nil
}

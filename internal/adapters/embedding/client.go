// Package embedding implements the embedding service adapter against the
// OpenAI-shaped contract of spec §6: POST /v1/embeddings
// {model, input} -> {data:[{embedding: []float}]}. HTTP 503/429/timeout
// are retryable; 4xx is not — both policies are inherited from
// internal/adapters/httpclient.
package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/omninode-ai/omniintelligence-core/internal/adapters/httpclient"
)

// Client calls a remote embedding service.
type Client struct {
	baseURL string
	model   string
	http    *httpclient.Client
}

// New creates an embedding Client. http may be shared process-wide.
func New(baseURL, model string, http *httpclient.Client) *Client {
	return &Client{baseURL: baseURL, model: model, http: http}
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingDatum struct {
	Embedding []float32 `json:"embedding"`
}

type embeddingsResponse struct {
	Data []embeddingDatum `json:"data"`
}

// Embed requests embeddings for a batch of texts, preserving input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(embeddingsRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	headers := http.Header{"Content-Type": []string{"application/json"}}
	result := c.http.Post(ctx, c.baseURL+"/v1/embeddings", body, headers)
	resp, err := result.Unwrap()
	if err != nil {
		return nil, fmt.Errorf("embedding: request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding: status %d: %s", resp.StatusCode, string(resp.Body))
	}

	var decoded embeddingsResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	if len(decoded.Data) != len(texts) {
		return nil, fmt.Errorf("embedding: expected %d vectors, got %d", len(texts), len(decoded.Data))
	}

	out := make([][]float32, len(decoded.Data))
	for i, d := range decoded.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// EmbedOne is a convenience wrapper around Embed for a single text.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// OllamaEmbedder calls a local Ollama server's embeddings endpoint. Requests
// are rate limited so batch ingestion cannot saturate the model server.
type OllamaEmbedder struct {
	host    string
	model   string
	dim     int
	client  *http.Client
	limiter *rate.Limiter
}

// NewOllamaEmbedder returns an embedder for the given Ollama host and model.
// rps limits requests per second; zero or negative means unlimited.
func NewOllamaEmbedder(host, model string, dim int, rps float64) *OllamaEmbedder {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &OllamaEmbedder{
		host:    host,
		model:   model,
		dim:     dim,
		client:  &http.Client{Timeout: 60 * time.Second},
		limiter: limiter,
	}
}

// ID identifies the provider in cache keys and vector rows.
func (o *OllamaEmbedder) ID() string { return "ollama" }

// Version binds cached vectors to the configured model.
func (o *OllamaEmbedder) Version() string { return o.model }

// Dimension returns the configured output vector length.
func (o *OllamaEmbedder) Dimension() int { return o.dim }

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed requests one embedding per text. The endpoint takes a single prompt,
// so the batch becomes sequential rate-limited calls; order is preserved.
func (o *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
		vec, err := o.embedOne(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d/%d: %w", i+1, len(texts), err)
		}
		out[i] = vec
	}
	return out, nil
}

func (o *OllamaEmbedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.host+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ollama returned %d: %s", resp.StatusCode, msg)
	}

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned an empty embedding")
	}

	vec := make([]float32, len(parsed.Embedding))
	for i, v := range parsed.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

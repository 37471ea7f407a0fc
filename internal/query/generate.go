package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// NoResultsAnswer is returned when no retrievable context survives filtering.
const NoResultsAnswer = "No relevant content found for this query."

// buildPrompt assembles the generation prompt from the question and the
// numbered source excerpts.
func buildPrompt(question string, sources []SourceRef) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the numbered sources below. ")
	b.WriteString("Cite sources inline as [n]. If the sources do not answer the question, say so.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\nSources:\n", question)
	for _, s := range sources {
		fmt.Fprintf(&b, "[%d] %s\n", s.Citation, s.Excerpt)
	}
	return b.String()
}

// extractiveAnswer is the generation fallback: the top excerpts presented
// verbatim with their citations. Always non-empty when sources exist.
func extractiveAnswer(sources []SourceRef) string {
	var b strings.Builder
	b.WriteString("The most relevant passages:\n")
	for _, s := range sources {
		fmt.Fprintf(&b, "\n[%d] %s\n", s.Citation, s.Excerpt)
	}
	return b.String()
}

// OllamaGenerator synthesizes answers with a local Ollama model.
type OllamaGenerator struct {
	host   string
	model  string
	client *http.Client
}

// NewOllamaGenerator returns a generator for the given Ollama host and model.
func NewOllamaGenerator(host, model string) *OllamaGenerator {
	return &OllamaGenerator{
		host:   host,
		model:  model,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

// Generate runs one non-streaming completion.
func (o *OllamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(ollamaGenerateRequest{Model: o.model, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ollama returned %d: %s", resp.StatusCode, msg)
	}

	var parsed ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	answer := strings.TrimSpace(parsed.Response)
	if answer == "" {
		return "", fmt.Errorf("ollama returned an empty answer")
	}
	return answer, nil
}

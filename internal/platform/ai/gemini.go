// Package ai is the client for the hosted text model used to route symptom
// descriptions.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

var (
	ErrNotConfigured = errors.New("ai: no API key configured")
	ErrEmptyResponse = errors.New("ai: model returned no text")
)

// maxOutputTokens leaves room for a specialty name plus stray punctuation.
const maxOutputTokens = 64

// GeminiClient wraps the GenAI SDK. The key travels in the x-goog-api-key
// header, never in the URL, so transport errors cannot echo it.
type GeminiClient struct {
	model  string
	client *genai.Client
}

// NewGeminiClient builds a client for the Gemini API backend. An empty
// baseURL uses the SDK default endpoint. An empty apiKey yields a client
// whose calls fail with ErrNotConfigured.
func NewGeminiClient(ctx context.Context, apiKey, model, baseURL string) (*GeminiClient, error) {
	g := &GeminiClient{model: model}
	if apiKey == "" {
		return g, nil
	}
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimRight(baseURL, "/") + "/"}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	g.client = client
	return g, nil
}

// generationConfig is deterministic and turns thinking off. Thinking tokens
// count against the output limit and can leave no room for the answer.
func generationConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0),
		MaxOutputTokens: maxOutputTokens,
		ThinkingConfig:  &genai.ThinkingConfig{ThinkingBudget: genai.Ptr[int32](0)},
	}
}

// ClassifyText sends prompt as a single user turn and returns the trimmed
// text of the first candidate. No retries.
func (g *GeminiClient) ClassifyText(ctx context.Context, prompt string) (string, error) {
	if g.client == nil {
		return "", ErrNotConfigured
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), generationConfig())
	if err != nil {
		return "", fmt.Errorf("call gemini: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

package llm

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"
)

// GeminiDriver calls the Gemini API through the genai SDK. Clients are
// cached per credential.
type GeminiDriver struct {
	mu      sync.Mutex
	clients map[string]*genai.Client // key: api key
}

// NewGeminiDriver creates a Gemini driver with an empty client cache.
func NewGeminiDriver() *GeminiDriver {
	return &GeminiDriver{clients: make(map[string]*genai.Client)}
}

func (d *GeminiDriver) Kind() string { return "google" }

func (d *GeminiDriver) Generate(ctx context.Context, req *Request) (string, error) {
	if req.APIKey == "" {
		return "", fmt.Errorf("gemini: %w", ErrNoAPIKey)
	}

	client, err := d.client(ctx, req.APIKey)
	if err != nil {
		return "", err
	}

	temperature := float32(req.Temperature)
	cfg := &genai.GenerateContentConfig{Temperature: &temperature}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	return resp.Text(), nil
}

func (d *GeminiDriver) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.clients[apiKey]; ok {
		return c, nil
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	d.clients[apiKey] = c
	return c, nil
}

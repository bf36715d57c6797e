package llm

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

// OpenAIDriver talks to any OpenAI-compatible chat completions endpoint
// (OpenAI, Azure-style gateways, Ollama, vLLM).
type OpenAIDriver struct {
	kind     string
	endpoint string
	client   *http.Client
}

// NewOpenAIDriver creates a driver registered under kind. endpoint is the
// API base, e.g. "https://api.openai.com/v1" or "http://localhost:11434/v1".
func NewOpenAIDriver(kind, endpoint string) *OpenAIDriver {
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	return &OpenAIDriver{
		kind:     kind,
		endpoint: strings.TrimRight(endpoint, "/"),
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

func (d *OpenAIDriver) Kind() string { return d.kind }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	Temperature    float64               `json:"temperature"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (d *OpenAIDriver) Generate(ctx context.Context, req *Request) (string, error) {
	body := openAIRequest{
		Model:       req.Model,
		Messages:    []openAIMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
	}
	if req.JSON {
		body.ResponseFormat = &openAIResponseFormat{Type: "json_object"}
	}
	payload, _ := json.Marshal(body)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%s: create request: %w", d.kind, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	}

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%s: request failed: %w", d.kind, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return "", fmt.Errorf("%s: status %d: %s", d.kind, httpResp.StatusCode, string(respBody))
	}

	var oaiResp openAIResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&oaiResp); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", d.kind, err)
	}
	if len(oaiResp.Choices) == 0 {
		return "", nil
	}
	return oaiResp.Choices[0].Message.Content, nil
}

// Package perception turns free-form user text into a structured Intent.
// It owns the language-model client, the bounded reply cache, and the
// ACTION/PARAMETERS extractor. The model is treated as an untrusted text
// generator: every reply goes through the defensive parse in extractor.go
// and every failure degrades to a plain Reply intent.
package perception

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"taskchat/internal/logging"
)

// Client defines the interface to the language-model collaborator.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CohereClient implements Client against the Cohere chat API.
type CohereClient struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	mu          sync.Mutex
	lastRequest time.Time
}

// CohereConfig holds configuration for the Cohere client.
type CohereConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// DefaultCohereConfig returns sensible defaults.
func DefaultCohereConfig(apiKey string) CohereConfig {
	return CohereConfig{
		APIKey:      apiKey,
		BaseURL:     "https://api.cohere.com/v2",
		Model:       "command-r",
		MaxTokens:   300,
		Temperature: 0.1,
		Timeout:     10 * time.Second,
	}
}

// NewCohereClient creates a client with default config.
func NewCohereClient(apiKey string) *CohereClient {
	return NewCohereClientWithConfig(DefaultCohereConfig(apiKey))
}

// NewCohereClientWithConfig creates a client with custom config.
func NewCohereClientWithConfig(config CohereConfig) *CohereClient {
	model := strings.TrimSpace(config.Model)
	if model == "" {
		model = "command-r"
	}
	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 300
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CohereClient{
		apiKey:      config.APIKey,
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		model:       model,
		maxTokens:   maxTokens,
		temperature: config.Temperature,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// cohereRequest is the chat request body.
type cohereRequest struct {
	Model       string          `json:"model"`
	Messages    []cohereMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

// cohereMessage is one message in the request.
type cohereMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// cohereResponse is the chat response body.
type cohereResponse struct {
	ID      string `json:"id"`
	Message struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
	Usage struct {
		Tokens struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"tokens"`
	} `json:"usage"`
	ErrorMessage string `json:"message_error,omitempty"`
}

// Complete sends a prompt and returns the raw completion text.
func (c *CohereClient) Complete(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("API key not configured")
	}

	// Rate limiting: keep at least 500ms between requests.
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 500*time.Millisecond {
		time.Sleep(500*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	reqBody := cohereRequest{
		Model: c.model,
		Messages: []cohereMessage{
			{Role: "user", Content: prompt},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.APIError("chat completion failed: %v", err)
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		logging.APIError("chat completion status %d: %s", resp.StatusCode, truncate(string(body), 300))
		return "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncate(string(body), 300))
	}

	var parsed cohereResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	var sb strings.Builder
	for _, part := range parsed.Message.Content {
		if part.Type == "text" || part.Type == "" {
			sb.WriteString(part.Text)
		}
	}
	text := sb.String()
	if text == "" {
		return "", fmt.Errorf("empty completion in response")
	}

	logging.APIDebug("chat completion ok: model=%s in=%d out=%d elapsed=%s",
		c.model, parsed.Usage.Tokens.InputTokens, parsed.Usage.Tokens.OutputTokens, time.Since(start))
	return text, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

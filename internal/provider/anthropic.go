package provider

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

	"github.com/skeehn/testpilot/internal/logging"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com/v1"
	anthropicAPIVersion     = "2023-06-01"
)

func init() {
	Register("anthropic", func(apiKey string) Client { return NewAnthropicClient(apiKey) })
}

// AnthropicClient calls the Anthropic messages API.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client

	mu          sync.Mutex
	lastRequest time.Time
}

func NewAnthropicClient(apiKey string) *AnthropicClient {
	return &AnthropicClient{
		apiKey:  apiKey,
		baseURL: anthropicDefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// SetBaseURL overrides the API endpoint, used by tests and proxies.
func (c *AnthropicClient) SetBaseURL(url string) { c.baseURL = strings.TrimRight(url, "/") }

func (c *AnthropicClient) Name() string         { return "anthropic" }
func (c *AnthropicClient) DefaultModel() string { return "claude-sonnet-4-20250514" }

func (c *AnthropicClient) SupportedModels() []string {
	return []string{
		"claude-sonnet-4-20250514",
		"claude-opus-4-20250514",
		"claude-3-5-haiku-20241022",
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateText sends the prompt as a single user message and returns the
// completion text with code fences removed.
func (c *AnthropicClient) GenerateText(ctx context.Context, prompt string, opts Options) (string, error) {
	if c.apiKey == "" {
		return "", &BackendError{Provider: c.Name(), Err: fmt.Errorf("API key not configured")}
	}
	model, err := resolveModel(c, opts.Model)
	if err != nil {
		return "", err
	}

	// Auto-apply timeout if context has no deadline
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	startTime := time.Now()
	logging.ProviderDebug("[Anthropic] GenerateText: model=%s prompt_len=%d", model, len(prompt))

	// Rate limiting
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < minRequestGap {
		time.Sleep(minRequestGap - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	reqBody := anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: opts.Temperature,
		Messages: []anthropicMessage{
			{Role: "user", Content: prompt},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", &BackendError{Provider: c.Name(), Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/messages", bytes.NewReader(jsonData))
	if err != nil {
		return "", &BackendError{Provider: c.Name(), Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &BackendError{Provider: c.Name(), Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &BackendError{Provider: c.Name(), Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &BackendError{
			Provider:   c.Name(),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("API request failed: %s", strings.TrimSpace(string(body))),
		}
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &BackendError{Provider: c.Name(), Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	if parsed.Error != nil {
		return "", &BackendError{Provider: c.Name(), Err: fmt.Errorf("API error: %s", parsed.Error.Message)}
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if strings.TrimSpace(text) == "" {
		return "", &BackendError{Provider: c.Name(), Err: fmt.Errorf("no completion returned")}
	}

	out := ExtractCode(text)
	logging.Provider("[Anthropic] GenerateText: completed in %v response_len=%d", time.Since(startTime), len(out))
	return out, nil
}

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

const openaiDefaultBaseURL = "https://api.openai.com/v1"

// minRequestGap spaces consecutive requests to the same backend.
const minRequestGap = 100 * time.Millisecond

func init() {
	Register("openai", func(apiKey string) Client { return NewOpenAIClient(apiKey) })
}

// OpenAIClient calls the OpenAI chat completions API.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client

	mu          sync.Mutex
	lastRequest time.Time
}

func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		apiKey:  apiKey,
		baseURL: openaiDefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// SetBaseURL overrides the API endpoint, used by tests and proxies.
func (c *OpenAIClient) SetBaseURL(url string) { c.baseURL = strings.TrimRight(url, "/") }

func (c *OpenAIClient) Name() string         { return "openai" }
func (c *OpenAIClient) DefaultModel() string { return "gpt-4o" }

func (c *OpenAIClient) SupportedModels() []string {
	return []string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo", "gpt-3.5-turbo"}
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateText sends the prompt as a single user message and returns the
// completion text with code fences removed.
func (c *OpenAIClient) GenerateText(ctx context.Context, prompt string, opts Options) (string, error) {
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
	logging.ProviderDebug("[OpenAI] GenerateText: model=%s prompt_len=%d", model, len(prompt))

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

	reqBody := openaiRequest{
		Model: model,
		Messages: []openaiMessage{
			{Role: "user", Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: opts.Temperature,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", &BackendError{Provider: c.Name(), Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", &BackendError{Provider: c.Name(), Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

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

	var parsed openaiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &BackendError{Provider: c.Name(), Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	if parsed.Error != nil {
		return "", &BackendError{Provider: c.Name(), Err: fmt.Errorf("API error: %s", parsed.Error.Message)}
	}
	if len(parsed.Choices) == 0 {
		return "", &BackendError{Provider: c.Name(), Err: fmt.Errorf("no completion returned")}
	}

	out := ExtractCode(parsed.Choices[0].Message.Content)
	logging.Provider("[OpenAI] GenerateText: completed in %v response_len=%d", time.Since(startTime), len(out))
	return out, nil
}

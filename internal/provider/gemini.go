package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	genai "google.golang.org/genai"

	"github.com/skeehn/testpilot/internal/logging"
)

func init() {
	Register("gemini", func(apiKey string) Client { return NewGeminiClient(apiKey) })
}

// GeminiClient wraps the official genai SDK. The underlying client is built
// lazily on the first call because construction needs a context.
type GeminiClient struct {
	apiKey string

	initOnce sync.Once
	cli      *genai.Client
	initErr  error
}

func NewGeminiClient(apiKey string) *GeminiClient {
	return &GeminiClient{apiKey: apiKey}
}

func (c *GeminiClient) Name() string         { return "gemini" }
func (c *GeminiClient) DefaultModel() string { return "gemini-2.0-flash" }

func (c *GeminiClient) SupportedModels() []string {
	return []string{"gemini-2.0-flash", "gemini-2.5-flash", "gemini-2.5-pro", "gemini-1.5-pro"}
}

func (c *GeminiClient) client(ctx context.Context) (*genai.Client, error) {
	c.initOnce.Do(func() {
		c.cli, c.initErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  c.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	return c.cli, c.initErr
}

// GenerateText sends the prompt and returns the model output with code
// fences removed.
func (c *GeminiClient) GenerateText(ctx context.Context, prompt string, opts Options) (string, error) {
	if c.apiKey == "" {
		return "", &BackendError{Provider: c.Name(), Err: fmt.Errorf("API key not configured")}
	}
	model, err := resolveModel(c, opts.Model)
	if err != nil {
		return "", err
	}

	cli, err := c.client(ctx)
	if err != nil {
		return "", &BackendError{Provider: c.Name(), Err: fmt.Errorf("client init failed: %w", err)}
	}

	// Auto-apply timeout if context has no deadline
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
	}

	startTime := time.Now()
	logging.ProviderDebug("[Gemini] GenerateText: model=%s prompt_len=%d", model, len(prompt))

	cfg := &genai.GenerateContentConfig{}
	if opts.Temperature != 0 {
		temp := float32(opts.Temperature)
		cfg.Temperature = &temp
	}
	if opts.MaxTokens != 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}

	resp, err := cli.Models.GenerateContent(ctx, model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}},
		cfg,
	)
	if err != nil {
		return "", &BackendError{Provider: c.Name(), Err: fmt.Errorf("request failed: %w", err)}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", &BackendError{Provider: c.Name(), Err: fmt.Errorf("no completion returned")}
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", &BackendError{Provider: c.Name(), Err: fmt.Errorf("empty completion returned")}
	}

	out := ExtractCode(text.String())
	logging.Provider("[Gemini] GenerateText: completed in %v response_len=%d", time.Since(startTime), len(out))
	return out, nil
}

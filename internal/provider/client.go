// Package provider hosts the LLM backend clients used for test generation.
// Backends register themselves by name; callers resolve them through the
// Registry so new providers need no changes at the call sites.
package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Options tune a single generation call. Zero values mean provider defaults.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Client is a text-generation backend.
type Client interface {
	// GenerateText sends the rendered prompt and returns the raw model output.
	GenerateText(ctx context.Context, prompt string, opts Options) (string, error)
	// Name returns the registry name of the backend.
	Name() string
	// DefaultModel returns the model used when Options.Model is empty.
	DefaultModel() string
	// SupportedModels lists the models this backend accepts.
	SupportedModels() []string
}

// BackendError reports a failed backend call. Transient and fatal failures
// are both wrapped in it; the orchestrator decides whether to retry.
type BackendError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s backend: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s backend: %v", e.Provider, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Factory builds a client from an API key.
type Factory func(apiKey string) Client

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds a backend factory under a name. Later registrations for the
// same name win, which lets tests swap in fakes.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New resolves a registered backend by name.
func New(name, apiKey string) (Client, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (available: %s)", name, strings.Join(List(), ", "))
	}
	return f(apiKey), nil
}

// List returns the registered backend names in sorted order.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resolveModel applies the default model and rejects models the backend does
// not support.
func resolveModel(c Client, requested string) (string, error) {
	if requested == "" {
		return c.DefaultModel(), nil
	}
	for _, m := range c.SupportedModels() {
		if m == requested {
			return requested, nil
		}
	}
	return "", &BackendError{
		Provider: c.Name(),
		Err:      fmt.Errorf("unsupported model %q (supported: %s)", requested, strings.Join(c.SupportedModels(), ", ")),
	}
}

// ExtractCode strips markdown code fences from model output. Models usually
// wrap generated tests in ```python blocks; the fence markers must not reach
// the validator or the output file.
func ExtractCode(response string) string {
	trimmed := strings.TrimSpace(response)

	for _, marker := range []string{"```python\n", "```py\n", "```\n"} {
		start := strings.Index(trimmed, marker)
		if start < 0 {
			continue
		}
		body := trimmed[start+len(marker):]
		if end := strings.Index(body, "```"); end >= 0 {
			body = body[:end]
		}
		return strings.TrimSpace(body)
	}
	return trimmed
}

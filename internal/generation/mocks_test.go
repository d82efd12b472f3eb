package generation

import (
	"context"
	"sync"

	"github.com/skeehn/testpilot/internal/analysis"
	"github.com/skeehn/testpilot/internal/provider"
	"github.com/skeehn/testpilot/internal/validation"
)

// mockBackend records prompts and delegates to a per-test function. The
// mutex keeps it safe under batch concurrency.
type mockBackend struct {
	mu           sync.Mutex
	generateFunc func(ctx context.Context, prompt string, opts provider.Options) (string, error)
	prompts      []string
	calls        int
}

func (m *mockBackend) GenerateText(ctx context.Context, prompt string, opts provider.Options) (string, error) {
	m.mu.Lock()
	m.calls++
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	return m.generateFunc(ctx, prompt, opts)
}

func (m *mockBackend) Name() string         { return "mock" }
func (m *mockBackend) DefaultModel() string { return "mock-model" }

// mockValidator returns canned results per call.
type mockValidator struct {
	validateFunc func(code string) *validation.Result
	executeFunc  func(code string) validation.ExecutionResult
}

func (m *mockValidator) Validate(_ context.Context, code string, _ *analysis.SourceAnalysis) *validation.Result {
	return m.validateFunc(code)
}

func (m *mockValidator) ExecuteCandidate(_ context.Context, code string) validation.ExecutionResult {
	if m.executeFunc == nil {
		return validation.ExecutionResult{Succeeded: true}
	}
	return m.executeFunc(code)
}

// resultWithScore builds a validation result whose aggregate equals score.
func resultWithScore(score float64) *validation.Result {
	return &validation.Result{
		SyntaxValid:    true,
		Execution:      validation.ExecutionResult{Succeeded: score >= 0.7},
		Coverage:       validation.CoverageResult{Score: score},
		AggregateScore: score,
	}
}

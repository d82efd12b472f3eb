package generation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"github.com/skeehn/testpilot/internal/analysis"
	"github.com/skeehn/testpilot/internal/cache"
	"github.com/skeehn/testpilot/internal/prompt"
	"github.com/skeehn/testpilot/internal/provider"
	"github.com/skeehn/testpilot/internal/validation"
)

const testSource = "def add(a, b):\n    return a + b\n"

func newTestOrchestrator(backend *mockBackend, validator *mockValidator) *Orchestrator {
	return NewOrchestrator(backend, validator, prompt.NewComposer(), nil)
}

func TestGenerateFirstAttemptAccepted(t *testing.T) {
	backend := &mockBackend{
		generateFunc: func(_ context.Context, _ string, _ provider.Options) (string, error) {
			return "def test_add():\n    assert add(1, 2) == 3\n", nil
		},
	}
	validator := &mockValidator{
		validateFunc: func(string) *validation.Result { return resultWithScore(0.9) },
	}

	o := newTestOrchestrator(backend, validator)
	outcome, err := o.Generate(context.Background(), testSource, nil, nil, Options{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !outcome.Accepted {
		t.Error("outcome not accepted")
	}
	if outcome.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", outcome.Attempts)
	}
	if backend.calls != 1 {
		t.Errorf("backend called %d times, want exactly 1", backend.calls)
	}
}

func TestGenerateRetryAppendsFeedback(t *testing.T) {
	backend := &mockBackend{
		generateFunc: func(_ context.Context, _ string, _ provider.Options) (string, error) {
			return "candidate", nil
		},
	}
	scores := []float64{0.5, 0.9}
	call := 0
	validator := &mockValidator{
		validateFunc: func(string) *validation.Result {
			r := resultWithScore(scores[call])
			call++
			return r
		},
	}

	o := newTestOrchestrator(backend, validator)
	outcome, err := o.Generate(context.Background(), testSource, nil, nil, Options{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if outcome.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", outcome.Attempts)
	}
	if len(backend.prompts) != 2 {
		t.Fatalf("backend saw %d prompts", len(backend.prompts))
	}
	if len(backend.prompts[1]) <= len(backend.prompts[0]) {
		t.Error("second prompt should be strictly longer than the first")
	}
	if !strings.Contains(backend.prompts[1], "Previous attempt had issues:") {
		t.Error("second prompt missing feedback marker")
	}
	if !strings.Contains(backend.prompts[1], "Please fix these issues in the next generation.") {
		t.Error("second prompt missing fix instruction")
	}
}

func TestGenerateFeedbackAccumulates(t *testing.T) {
	backend := &mockBackend{
		generateFunc: func(_ context.Context, _ string, _ provider.Options) (string, error) {
			return "candidate", nil
		},
	}
	validator := &mockValidator{
		validateFunc: func(string) *validation.Result { return resultWithScore(0.1) },
	}

	o := newTestOrchestrator(backend, validator)
	if _, err := o.Generate(context.Background(), testSource, nil, nil, Options{}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	// Third prompt carries the feedback of both earlier attempts.
	if got := strings.Count(backend.prompts[2], "Previous attempt had issues:"); got != 2 {
		t.Errorf("third prompt has %d feedback blocks, want 2", got)
	}
}

func TestGenerateLowCoverageResendsSamePrompt(t *testing.T) {
	backend := &mockBackend{
		generateFunc: func(_ context.Context, _ string, _ provider.Options) (string, error) {
			return "candidate", nil
		},
	}
	// Parses and runs, only coverage drags the aggregate under threshold.
	validator := &mockValidator{
		validateFunc: func(string) *validation.Result {
			return &validation.Result{
				SyntaxValid:    true,
				Execution:      validation.ExecutionResult{Succeeded: true},
				Coverage:       validation.CoverageResult{Score: 0.2},
				AggregateScore: 0.76,
			}
		},
	}

	o := newTestOrchestrator(backend, validator)
	if _, err := o.Generate(context.Background(), testSource, nil, nil, Options{}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(backend.prompts) != DefaultMaxAttempts {
		t.Fatalf("backend saw %d prompts", len(backend.prompts))
	}
	for i, p := range backend.prompts {
		if p != backend.prompts[0] {
			t.Errorf("prompt %d diverged from the first", i+1)
		}
		if strings.Contains(p, "Previous attempt had issues:") {
			t.Errorf("prompt %d carries feedback for a candidate that ran cleanly", i+1)
		}
	}
}

func TestGenerateValidationDisabledSkipsValidator(t *testing.T) {
	backend := &mockBackend{
		generateFunc: func(_ context.Context, _ string, _ provider.Options) (string, error) {
			return "candidate", nil
		},
	}
	validator := &mockValidator{
		validateFunc: func(string) *validation.Result {
			t.Error("validator should not run")
			return nil
		},
		executeFunc: func(string) validation.ExecutionResult {
			t.Error("candidate should not execute")
			return validation.ExecutionResult{}
		},
	}

	o := newTestOrchestrator(backend, validator)
	outcome, err := o.Generate(context.Background(), testSource, nil, nil, Options{ValidationDisabled: true})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !outcome.Accepted || outcome.Attempts != 1 || outcome.TestCode != "candidate" {
		t.Errorf("outcome = %+v", outcome)
	}
	if outcome.Validation != nil {
		t.Error("unvalidated outcome should carry no validation result")
	}
	if backend.calls != 1 {
		t.Errorf("backend called %d times, want 1", backend.calls)
	}
}

func TestGenerateReturnsBestCandidate(t *testing.T) {
	codes := []string{"first", "second", "third"}
	scores := []float64{0.6, 0.3, 0.5}
	call := 0
	backend := &mockBackend{
		generateFunc: func(_ context.Context, _ string, _ provider.Options) (string, error) {
			code := codes[call]
			return code, nil
		},
	}
	validator := &mockValidator{
		validateFunc: func(string) *validation.Result {
			r := resultWithScore(scores[call])
			call++
			return r
		},
	}

	o := newTestOrchestrator(backend, validator)
	outcome, err := o.Generate(context.Background(), testSource, nil, nil, Options{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if outcome.Accepted {
		t.Error("below-threshold outcome marked accepted")
	}
	if outcome.TestCode != "first" {
		t.Errorf("TestCode = %q, want best candidate %q", outcome.TestCode, "first")
	}
	if outcome.Score != 0.6 {
		t.Errorf("Score = %v, want 0.6", outcome.Score)
	}
}

func TestGenerateTieKeepsEarliest(t *testing.T) {
	codes := []string{"first", "second", "third"}
	call := 0
	backend := &mockBackend{
		generateFunc: func(_ context.Context, _ string, _ provider.Options) (string, error) {
			code := codes[call]
			return code, nil
		},
	}
	validator := &mockValidator{
		validateFunc: func(string) *validation.Result {
			call++
			return resultWithScore(0.5)
		},
	}

	o := newTestOrchestrator(backend, validator)
	outcome, err := o.Generate(context.Background(), testSource, nil, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.TestCode != "first" {
		t.Errorf("tie should keep earliest candidate, got %q", outcome.TestCode)
	}
}

func TestGenerateBackendErrorsConsumeAttempts(t *testing.T) {
	backend := &mockBackend{
		generateFunc: func(_ context.Context, _ string, _ provider.Options) (string, error) {
			return "", &provider.BackendError{Provider: "mock", Err: errors.New("unreachable")}
		},
	}
	validator := &mockValidator{
		validateFunc: func(string) *validation.Result { t.Fatal("validator should not run"); return nil },
	}

	o := newTestOrchestrator(backend, validator)
	_, err := o.Generate(context.Background(), testSource, nil, nil, Options{})
	if err == nil {
		t.Fatal("expected error when every attempt fails")
	}
	var berr *provider.BackendError
	if !errors.As(err, &berr) {
		t.Errorf("expected wrapped *BackendError, got %v", err)
	}
	if backend.calls != DefaultMaxAttempts {
		t.Errorf("backend called %d times, want %d", backend.calls, DefaultMaxAttempts)
	}
}

func TestGenerateTransientBackendErrorRecovers(t *testing.T) {
	call := 0
	backend := &mockBackend{
		generateFunc: func(_ context.Context, _ string, _ provider.Options) (string, error) {
			call++
			if call == 1 {
				return "", errors.New("transient")
			}
			return "recovered", nil
		},
	}
	validator := &mockValidator{
		validateFunc: func(string) *validation.Result { return resultWithScore(0.95) },
	}

	o := newTestOrchestrator(backend, validator)
	outcome, err := o.Generate(context.Background(), testSource, nil, nil, Options{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if outcome.TestCode != "recovered" || outcome.Attempts != 2 {
		t.Errorf("outcome = %+v", outcome)
	}
}

func TestGenerateCacheHit(t *testing.T) {
	store, err := cache.NewStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	backend := &mockBackend{
		generateFunc: func(_ context.Context, _ string, _ provider.Options) (string, error) {
			return "generated", nil
		},
	}
	validator := &mockValidator{
		validateFunc: func(string) *validation.Result { return resultWithScore(0.9) },
	}

	o := NewOrchestrator(backend, validator, prompt.NewComposer(), store)

	first, err := o.Generate(context.Background(), testSource, nil, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if first.FromCache {
		t.Fatal("first run should not be cached")
	}

	second, err := o.Generate(context.Background(), testSource, nil, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !second.FromCache {
		t.Error("second run should hit the cache")
	}
	if backend.calls != 1 {
		t.Errorf("backend called %d times, want 1", backend.calls)
	}
}

func TestGenerateUntilExecutableRetriesOnCrash(t *testing.T) {
	call := 0
	backend := &mockBackend{
		generateFunc: func(_ context.Context, _ string, _ provider.Options) (string, error) {
			call++
			return fmt.Sprintf("candidate-%d", call), nil
		},
	}
	validator := &mockValidator{
		validateFunc: func(string) *validation.Result { t.Fatal("scoring path should not run"); return nil },
		executeFunc: func(code string) validation.ExecutionResult {
			if code == "candidate-1" {
				return validation.ExecutionResult{Succeeded: false, Stderr: "ImportError: no module named foo", ExitStatus: 1}
			}
			return validation.ExecutionResult{Succeeded: true}
		},
	}

	o := newTestOrchestrator(backend, validator)
	outcome, err := o.GenerateUntilExecutable(context.Background(), testSource, nil, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.TestCode != "candidate-2" || !outcome.Accepted {
		t.Errorf("outcome = %+v", outcome)
	}
}

func TestGenerateUntilExecutableAcceptsLogicalFailure(t *testing.T) {
	backend := &mockBackend{
		generateFunc: func(_ context.Context, _ string, _ provider.Options) (string, error) {
			return "candidate", nil
		},
	}
	validator := &mockValidator{
		validateFunc: func(string) *validation.Result { return nil },
		executeFunc: func(string) validation.ExecutionResult {
			return validation.ExecutionResult{Succeeded: false, Stdout: "FAILED test_add - AssertionError", ExitStatus: 1}
		},
	}

	o := newTestOrchestrator(backend, validator)
	outcome, err := o.GenerateUntilExecutable(context.Background(), testSource, nil, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if backend.calls != 1 {
		t.Errorf("logical failure should not be retried, backend called %d times", backend.calls)
	}
	if !outcome.Accepted {
		t.Error("logical failure should be accepted")
	}
}

func TestGenerateUntilExecutableExhaustedReturnsLast(t *testing.T) {
	call := 0
	backend := &mockBackend{
		generateFunc: func(_ context.Context, _ string, _ provider.Options) (string, error) {
			call++
			return fmt.Sprintf("candidate-%d", call), nil
		},
	}
	validator := &mockValidator{
		validateFunc: func(string) *validation.Result { return nil },
		executeFunc: func(string) validation.ExecutionResult {
			return validation.ExecutionResult{Succeeded: false, Stderr: "SyntaxError: invalid syntax", ExitStatus: 1}
		},
	}

	o := newTestOrchestrator(backend, validator)
	outcome, err := o.GenerateUntilExecutable(context.Background(), testSource, nil, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.TestCode != fmt.Sprintf("candidate-%d", DefaultMaxAttempts) {
		t.Errorf("TestCode = %q, want last candidate", outcome.TestCode)
	}
	if outcome.Accepted {
		t.Error("exhausted crash loop should not be accepted")
	}
}

func TestAnalyzeSourceUsesContextCache(t *testing.T) {
	store, err := cache.NewStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	o := NewOrchestrator(&mockBackend{}, &mockValidator{}, prompt.NewComposer(), store)
	content := []byte("def add(a, b):\n    return a + b\n")

	first := o.AnalyzeSource(analysis.NewAnalyzer(), "/proj/mod.py", content)
	if got := first.FunctionNames(); len(got) != 1 || got[0] != "add" {
		t.Fatalf("functions = %v", got)
	}
	stats, err := store.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.ContextEntries != 1 {
		t.Fatalf("ContextEntries = %d, want 1", stats.ContextEntries)
	}

	// A fresh analyzer has an empty in-process cache; the stored analysis
	// still serves an unchanged file.
	second := o.AnalyzeSource(analysis.NewAnalyzer(), "/proj/mod.py", content)
	if got := second.FunctionNames(); len(got) != 1 || got[0] != "add" {
		t.Errorf("cached analysis functions = %v", got)
	}

	// Changed content invalidates the stored entry.
	third := o.AnalyzeSource(analysis.NewAnalyzer(), "/proj/mod.py", []byte("def mul(a, b):\n    return a * b\n"))
	if got := third.FunctionNames(); len(got) != 1 || got[0] != "mul" {
		t.Errorf("reanalyzed functions = %v", got)
	}
}

func TestGenerateBatch(t *testing.T) {
	// go.opencensus.io, pulled in through the gemini SDK, starts a stats
	// worker at init that outlives every test.
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	dir := t.TempDir()
	var paths []string
	for i := 0; i < 3; i++ {
		path := filepath.Join(dir, fmt.Sprintf("mod%d.py", i))
		if err := os.WriteFile(path, []byte("def f():\n    pass\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, path)
	}
	// A missing file must fail alone without sinking the batch.
	paths = append(paths, filepath.Join(dir, "absent.py"))

	backend := &mockBackend{
		generateFunc: func(_ context.Context, _ string, _ provider.Options) (string, error) {
			return "def test_f():\n    pass\n", nil
		},
	}
	validator := &mockValidator{
		validateFunc: func(string) *validation.Result { return resultWithScore(0.9) },
	}

	o := newTestOrchestrator(backend, validator)
	results, err := o.GenerateBatch(context.Background(), analysis.NewAnalyzer(), paths, 2, Options{})
	if err != nil {
		t.Fatalf("GenerateBatch: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("got %d results", len(results))
	}
	for i := 0; i < 3; i++ {
		if results[i].Err != nil {
			t.Errorf("file %d: %v", i, results[i].Err)
		}
		if results[i].Path != paths[i] {
			t.Errorf("result order broken at %d", i)
		}
	}
	if results[3].Err == nil {
		t.Error("missing file should carry an error")
	}
}

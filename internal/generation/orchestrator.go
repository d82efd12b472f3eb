// Package generation drives the generate-validate-retry loop that turns a
// source file into an accepted test file.
package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/skeehn/testpilot/internal/analysis"
	"github.com/skeehn/testpilot/internal/cache"
	"github.com/skeehn/testpilot/internal/logging"
	"github.com/skeehn/testpilot/internal/prompt"
	"github.com/skeehn/testpilot/internal/provider"
	"github.com/skeehn/testpilot/internal/validation"
)

// DefaultMaxAttempts bounds the retry loop.
const DefaultMaxAttempts = 3

// Backend is the slice of a provider client the orchestrator needs.
type Backend interface {
	GenerateText(ctx context.Context, prompt string, opts provider.Options) (string, error)
	Name() string
	DefaultModel() string
}

// Validator scores and executes candidates.
type Validator interface {
	Validate(ctx context.Context, code string, an *analysis.SourceAnalysis) *validation.Result
	ExecuteCandidate(ctx context.Context, code string) validation.ExecutionResult
}

// Options configure one generation run.
type Options struct {
	Model            string
	Temperature      float64
	MaxTokens        int
	MaxAttempts      int
	QualityThreshold float64
	UseContext       bool
	TemplatePath     string
	TemplateName     string
	SkipCache        bool

	// ValidationDisabled returns the first candidate as-is, without
	// writing or executing anything.
	ValidationDisabled bool
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.QualityThreshold <= 0 {
		o.QualityThreshold = validation.AcceptThreshold
	}
	return o
}

// Outcome is the result of a generation run. When no candidate clears the
// threshold, the best-scoring one is returned with Accepted false.
type Outcome struct {
	TestCode    string
	Score       float64
	Attempts    int
	Accepted    bool
	FromCache   bool
	Validation  *validation.Result
	Diagnostics []string
}

// Orchestrator wires the backend, validator, composer and cache together.
// The cache may be nil, all other collaborators are required.
type Orchestrator struct {
	backend   Backend
	validator Validator
	composer  *prompt.Composer
	store     *cache.Store
	logger    *logging.Logger
}

func NewOrchestrator(backend Backend, validator Validator, composer *prompt.Composer, store *cache.Store) *Orchestrator {
	return &Orchestrator{
		backend:   backend,
		validator: validator,
		composer:  composer,
		store:     store,
		logger:    logging.Get(logging.CategoryGeneration),
	}
}

// Generate runs the bounded generate-validate loop. A candidate at or above
// the quality threshold is accepted immediately. A candidate that fails to
// parse or execute has its issues appended to the prompt for the next
// attempt; the best candidate seen is tracked, ties keeping the earliest.
// Backend failures consume attempts and are only returned as an error when
// no candidate was produced at all.
func (o *Orchestrator) Generate(ctx context.Context, source string, an *analysis.SourceAnalysis, conv *analysis.ProjectConventions, opts Options) (*Outcome, error) {
	opts = opts.withDefaults()

	req, err := o.composer.Compose(source, an, conv, prompt.ComposeOptions{
		TemplatePath: opts.TemplatePath,
		TemplateName: opts.TemplateName,
		UseContext:   opts.UseContext,
	})
	if err != nil {
		return nil, err
	}

	model := opts.Model
	if model == "" {
		model = o.backend.DefaultModel()
	}
	sourceHash := cache.Hash(source)
	promptHash := cache.Hash(req.RenderedPrompt)

	if o.store != nil && !opts.SkipCache {
		if entry, ok := o.store.GetTest(sourceHash, promptHash, o.backend.Name(), model); ok && entry.QualityScore >= opts.QualityThreshold {
			o.logger.Info("cache hit, skipping generation: score=%.2f", entry.QualityScore)
			return &Outcome{
				TestCode:  entry.TestCode,
				Score:     entry.QualityScore,
				Accepted:  true,
				FromCache: true,
			}, nil
		}
	}

	providerOpts := provider.Options{
		Model:       opts.Model,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}

	currentPrompt := req.RenderedPrompt
	var best *Outcome
	var diagnostics []string
	var lastErr error

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		o.logger.Info("generation attempt %d/%d", attempt, opts.MaxAttempts)

		code, err := o.backend.GenerateText(ctx, currentPrompt, providerOpts)
		if err != nil {
			lastErr = err
			diagnostics = append(diagnostics, fmt.Sprintf("attempt %d: backend error: %v", attempt, err))
			o.logger.Warn("attempt %d backend error: %v", attempt, err)
			continue
		}

		if opts.ValidationDisabled {
			o.logger.Info("attempt %d accepted without validation", attempt)
			return &Outcome{
				TestCode:    code,
				Attempts:    attempt,
				Accepted:    true,
				Diagnostics: diagnostics,
			}, nil
		}

		result := o.validator.Validate(ctx, code, an)
		if result.AggregateScore >= opts.QualityThreshold {
			o.logger.Info("attempt %d accepted: score=%.2f", attempt, result.AggregateScore)
			outcome := &Outcome{
				TestCode:    code,
				Score:       result.AggregateScore,
				Attempts:    attempt,
				Accepted:    true,
				Validation:  result,
				Diagnostics: diagnostics,
			}
			o.storeResult(sourceHash, promptHash, model, outcome)
			return outcome, nil
		}

		// Strictly greater keeps the earliest candidate on ties.
		if best == nil || result.AggregateScore > best.Score {
			best = &Outcome{
				TestCode:   code,
				Score:      result.AggregateScore,
				Attempts:   attempt,
				Validation: result,
			}
		}

		issues := strings.Join(result.Issues(), "; ")
		diagnostics = append(diagnostics, fmt.Sprintf("attempt %d: score=%.2f issues=%s", attempt, result.AggregateScore, issues))

		// A candidate that parses and runs but scores low on coverage is
		// regenerated from the unchanged prompt.
		if !result.SyntaxValid || !result.Execution.Succeeded {
			currentPrompt = currentPrompt + "\n\nPrevious attempt had issues: " + issues +
				"\nPlease fix these issues in the next generation."
		}
	}

	if best == nil {
		if lastErr == nil {
			lastErr = fmt.Errorf("no candidate produced")
		}
		return nil, fmt.Errorf("generation failed after %d attempts: %w", opts.MaxAttempts, lastErr)
	}

	o.logger.Warn("no candidate reached threshold %.2f, returning best score=%.2f from attempt %d",
		opts.QualityThreshold, best.Score, best.Attempts)
	best.Diagnostics = diagnostics
	o.storeResult(sourceHash, promptHash, model, best)
	return best, nil
}

// GenerateUntilExecutable retries only on crashes the model can plausibly
// fix: SyntaxError and ImportError in the pytest trace. A passing run
// returns immediately. A logical test failure is accepted as-is, since a
// failing assertion may be telling the truth about the code under test.
// When the attempt budget runs out the last candidate is returned.
func (o *Orchestrator) GenerateUntilExecutable(ctx context.Context, source string, an *analysis.SourceAnalysis, conv *analysis.ProjectConventions, opts Options) (*Outcome, error) {
	opts = opts.withDefaults()

	req, err := o.composer.Compose(source, an, conv, prompt.ComposeOptions{
		TemplatePath: opts.TemplatePath,
		TemplateName: opts.TemplateName,
		UseContext:   opts.UseContext,
	})
	if err != nil {
		return nil, err
	}

	providerOpts := provider.Options{
		Model:       opts.Model,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}

	currentPrompt := req.RenderedPrompt
	var last *Outcome
	var diagnostics []string
	var lastErr error

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		o.logger.Info("executable generation attempt %d/%d", attempt, opts.MaxAttempts)

		code, err := o.backend.GenerateText(ctx, currentPrompt, providerOpts)
		if err != nil {
			lastErr = err
			diagnostics = append(diagnostics, fmt.Sprintf("attempt %d: backend error: %v", attempt, err))
			continue
		}

		exec := o.validator.ExecuteCandidate(ctx, code)
		last = &Outcome{
			TestCode: code,
			Attempts: attempt,
			Accepted: exec.Succeeded,
			Validation: &validation.Result{
				SyntaxValid: true,
				Execution:   exec,
			},
			Diagnostics: diagnostics,
		}

		if exec.Succeeded {
			o.logger.Info("attempt %d executable", attempt)
			return last, nil
		}

		trace := exec.Stderr + "\n" + exec.Stdout
		if !strings.Contains(trace, "SyntaxError") && !strings.Contains(trace, "ImportError") {
			// Tests ran and failed on assertions. That is a usable result.
			o.logger.Info("attempt %d failed logically, accepting candidate", attempt)
			last.Accepted = true
			return last, nil
		}

		diagnostics = append(diagnostics, fmt.Sprintf("attempt %d: crash in generated tests", attempt))
		currentPrompt = currentPrompt + "\n\nPrevious attempt had issues: " + summarizeTrace(trace) +
			"\nPlease fix these issues in the next generation."
	}

	if last == nil {
		if lastErr == nil {
			lastErr = fmt.Errorf("no candidate produced")
		}
		return nil, fmt.Errorf("generation failed after %d attempts: %w", opts.MaxAttempts, lastErr)
	}
	last.Diagnostics = diagnostics
	return last, nil
}

func (o *Orchestrator) storeResult(sourceHash, promptHash, model string, outcome *Outcome) {
	if o.store == nil || outcome.TestCode == "" {
		return
	}
	err := o.store.PutTest(cache.Entry{
		SourceHash:   sourceHash,
		PromptHash:   promptHash,
		Provider:     o.backend.Name(),
		Model:        model,
		TestCode:     outcome.TestCode,
		QualityScore: outcome.Score,
	})
	if err != nil {
		o.logger.Warn("failed to cache result: %v", err)
	}
}

// summarizeTrace keeps the error-bearing tail of a pytest trace so repeated
// feedback rounds do not balloon the prompt.
func summarizeTrace(trace string) string {
	trace = strings.TrimSpace(trace)
	const limit = 1000
	if len(trace) <= limit {
		return trace
	}
	return trace[len(trace)-limit:]
}

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skeehn/testpilot/internal/analysis"
	"github.com/skeehn/testpilot/internal/cache"
	"github.com/skeehn/testpilot/internal/generation"
	"github.com/skeehn/testpilot/internal/prompt"
	"github.com/skeehn/testpilot/internal/provider"
	"github.com/skeehn/testpilot/internal/validation"
)

var (
	genProvider     string
	genModel        string
	genAPIKey       string
	genTemperature  float64
	genMaxTokens    int
	genMaxAttempts  int
	genThreshold    float64
	genUseContext   bool
	genValidate     bool
	genOutput       string
	genOverwrite    bool
	genAppend       bool
	genQuiet        bool
	genRunMode      bool
	genPromptFile   string
	genPromptName   string
	genShowAnalysis bool
	genShowScores   bool
	genNoCache      bool
)

var generateCmd = &cobra.Command{
	Use:   "generate [source.py]",
	Short: "Generate pytest tests for a Python source file",
	Long: `Analyzes the source file, composes a prompt with optional project
context, and generates tests through the configured LLM backend. Candidates
are validated and regenerated until one clears the quality threshold or the
attempt budget runs out.

With --run, validation switches to execution-only mode: candidates are
regenerated only when they crash with SyntaxError or ImportError, and a
logically failing suite is kept as-is.`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVar(&genProvider, "provider", "", "LLM backend (openai, anthropic, gemini)")
	generateCmd.Flags().StringVar(&genModel, "model", "", "model override for the backend")
	generateCmd.Flags().StringVar(&genAPIKey, "api-key", "", "API key override")
	generateCmd.Flags().Float64Var(&genTemperature, "temperature", 0, "sampling temperature")
	generateCmd.Flags().IntVar(&genMaxTokens, "max-tokens", 0, "completion token budget")
	generateCmd.Flags().IntVar(&genMaxAttempts, "max-attempts", 0, "regeneration attempt budget")
	generateCmd.Flags().Float64Var(&genThreshold, "quality-threshold", 0, "aggregate score required for acceptance")
	generateCmd.Flags().BoolVar(&genUseContext, "use-context", false, "enrich the prompt with project analysis")
	generateCmd.Flags().BoolVar(&genValidate, "validate", true, "validate and retry generated tests")
	generateCmd.Flags().StringVarP(&genOutput, "output", "o", "", "output file (default test_<name>.py beside the source)")
	generateCmd.Flags().BoolVar(&genOverwrite, "overwrite", false, "replace an existing output file")
	generateCmd.Flags().BoolVar(&genAppend, "append", false, "append to an existing output file")
	generateCmd.Flags().BoolVar(&genQuiet, "quiet", false, "suppress progress output")
	generateCmd.Flags().BoolVar(&genRunMode, "run", false, "regenerate until the tests execute, then keep the result")
	generateCmd.Flags().StringVar(&genPromptFile, "prompt-file", "", "custom template file")
	generateCmd.Flags().StringVar(&genPromptName, "prompt-name", "", "named template inside the template file")
	generateCmd.Flags().BoolVar(&genShowAnalysis, "show-analysis", false, "print the source analysis")
	generateCmd.Flags().BoolVar(&genShowScores, "show-validation", false, "print validation scores")
	generateCmd.Flags().BoolVar(&genNoCache, "no-cache", false, "bypass the result cache")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	sourcePath := args[0]
	source, err := os.ReadFile(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", sourcePath, err)
	}

	outputPath := genOutput
	if outputPath == "" {
		outputPath = defaultOutputPath(sourcePath)
	}
	if err := checkOutputTarget(outputPath); err != nil {
		return err
	}

	backend, err := buildBackend()
	if err != nil {
		return err
	}

	orchestrator := generation.NewOrchestrator(backend, buildValidator(), prompt.NewComposer(), openStore())

	analyzer := analysis.NewAnalyzer()
	an := orchestrator.AnalyzeSource(analyzer, sourcePath, source)
	if genShowAnalysis {
		printAnalysis(sourcePath, an)
	}
	if an.Failed() && !genQuiet {
		fmt.Printf("Warning: %s\n", an.Diagnostic)
	}

	var conv *analysis.ProjectConventions
	if genUseContext {
		conv = analyzer.DetectConventions(filepath.Dir(sourcePath))
	}

	opts := generationOptions()

	var outcome *generation.Outcome
	if genRunMode {
		outcome, err = orchestrator.GenerateUntilExecutable(cmd.Context(), string(source), an, conv, opts)
	} else {
		outcome, err = orchestrator.Generate(cmd.Context(), string(source), an, conv, opts)
	}
	if err != nil {
		return err
	}

	if err := writeOutput(outputPath, outcome.TestCode); err != nil {
		return err
	}

	logger.Info("tests generated",
		zap.String("source", sourcePath),
		zap.String("output", outputPath),
		zap.Float64("score", outcome.Score),
		zap.Int("attempts", outcome.Attempts),
		zap.Bool("accepted", outcome.Accepted),
		zap.Bool("from_cache", outcome.FromCache))

	if !genQuiet {
		printOutcome(outputPath, outcome)
	}
	if genShowScores && outcome.Validation != nil {
		printValidation(outcome.Validation)
	}
	return nil
}

func generationOptions() generation.Options {
	opts := generation.Options{
		Model:            genModel,
		Temperature:      genTemperature,
		MaxTokens:        genMaxTokens,
		MaxAttempts:      genMaxAttempts,
		QualityThreshold: genThreshold,
		UseContext:       genUseContext,
		TemplatePath:     genPromptFile,
		TemplateName:     genPromptName,
		SkipCache:        genNoCache,
	}
	if opts.Model == "" {
		opts.Model = cfg.Model
	}
	if opts.Temperature == 0 {
		opts.Temperature = cfg.Temperature
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = cfg.MaxTokens
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = cfg.MaxAttempts
	}
	if opts.QualityThreshold == 0 {
		opts.QualityThreshold = cfg.QualityThreshold
	}
	if !genValidate {
		// Single shot, accept whatever comes back without running it.
		opts.ValidationDisabled = true
	}
	return opts
}

func buildBackend() (provider.Client, error) {
	name := genProvider
	if name == "" {
		name = cfg.Provider
	}

	key := genAPIKey
	if name != "" && key == "" {
		key = cfg.APIKeyFor(name)
	}
	if name == "" {
		detected, detectedKey, err := cfg.DetectProvider()
		if err != nil {
			return nil, err
		}
		name, key = detected, detectedKey
	}
	if key == "" {
		return nil, fmt.Errorf("no API key for provider %q", name)
	}
	return provider.New(name, key)
}

func buildValidator() *validation.Validator {
	return validation.NewValidator(
		validation.WithPythonBinary(cfg.PythonBinary),
		validation.WithTimeout(cfg.ExecutionTimeout()),
	)
}

func openStore() *cache.Store {
	if !cfg.CacheEnabled {
		return nil
	}
	path := cfg.CachePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(workspace, path)
	}
	store, err := cache.NewStore(path)
	if err != nil {
		logger.Warn("cache unavailable, continuing without it", zap.Error(err))
		return nil
	}
	return store
}

func defaultOutputPath(sourcePath string) string {
	dir := filepath.Dir(sourcePath)
	stem := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	return filepath.Join(dir, "test_"+stem+".py")
}

func checkOutputTarget(path string) error {
	if genOverwrite || genAppend {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists; use --overwrite to replace it or --append to extend it", path)
	}
	return nil
}

func writeOutput(path, code string) error {
	if genAppend {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		if _, err := f.WriteString("\n\n" + code + "\n"); err != nil {
			return fmt.Errorf("failed to append to %s: %w", path, err)
		}
		return nil
	}
	if err := os.WriteFile(path, []byte(code+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func printAnalysis(path string, an *analysis.SourceAnalysis) {
	fmt.Printf("Analysis of %s:\n", path)
	fmt.Printf("  Functions: %s\n", strings.Join(an.FunctionNames(), ", "))
	fmt.Printf("  Classes: %s\n", strings.Join(an.ClassNames(), ", "))
	fmt.Printf("  Imports: %s\n", strings.Join(an.DependencyList(0), ", "))
	fmt.Printf("  Dependencies: %s\n", strings.Join(an.DependencyNames(), ", "))
	if an.HasAsyncFunctions() {
		fmt.Println("  Contains async functions")
	}
}

func printOutcome(outputPath string, outcome *generation.Outcome) {
	switch {
	case outcome.FromCache:
		fmt.Printf("Tests restored from cache -> %s (score %.2f)\n", outputPath, outcome.Score)
	case outcome.Accepted:
		fmt.Printf("Tests written to %s (score %.2f, %d attempt(s))\n", outputPath, outcome.Score, outcome.Attempts)
	default:
		fmt.Printf("Best candidate written to %s (score %.2f below threshold)\n", outputPath, outcome.Score)
		for _, d := range outcome.Diagnostics {
			fmt.Printf("  %s\n", d)
		}
	}
}

func printValidation(result *validation.Result) {
	fmt.Printf("Validation:\n")
	fmt.Printf("  Syntax valid: %v\n", result.SyntaxValid)
	fmt.Printf("  Execution succeeded: %v\n", result.Execution.Succeeded)
	fmt.Printf("  Coverage: %.2f (%s)\n", result.Coverage.Score, strings.Join(result.Coverage.FunctionsReferenced, ", "))
	fmt.Printf("  Aggregate: %.2f\n", result.AggregateScore)
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skeehn/testpilot/internal/analysis"
	"github.com/skeehn/testpilot/internal/generation"
	"github.com/skeehn/testpilot/internal/prompt"
)

var batchConcurrency int

var batchCmd = &cobra.Command{
	Use:   "batch [source.py...]",
	Short: "Generate tests for several files concurrently",
	Long: `Runs the generation pipeline over every listed file with a bounded
worker pool. A failure on one file is reported at the end and does not stop
the others. The generate flags for provider, model, context and validation
apply to every file.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", generation.DefaultConcurrency, "parallel generation limit")
	batchCmd.Flags().StringVar(&genProvider, "provider", "", "LLM backend (openai, anthropic, gemini)")
	batchCmd.Flags().StringVar(&genModel, "model", "", "model override for the backend")
	batchCmd.Flags().StringVar(&genAPIKey, "api-key", "", "API key override")
	batchCmd.Flags().BoolVar(&genUseContext, "use-context", false, "enrich prompts with project analysis")
	batchCmd.Flags().Float64Var(&genThreshold, "quality-threshold", 0, "aggregate score required for acceptance")
	batchCmd.Flags().BoolVar(&genOverwrite, "overwrite", false, "replace existing output files")
	batchCmd.Flags().BoolVar(&genNoCache, "no-cache", false, "bypass the result cache")
}

func runBatch(cmd *cobra.Command, args []string) error {
	backend, err := buildBackend()
	if err != nil {
		return err
	}

	// Overwrite guard runs up front so a long batch never dies halfway
	// through on a pre-existing file.
	outputs := make(map[string]string, len(args))
	for _, path := range args {
		out := defaultOutputPath(path)
		if err := checkOutputTarget(out); err != nil {
			return err
		}
		outputs[path] = out
	}

	orchestrator := generation.NewOrchestrator(backend, buildValidator(), prompt.NewComposer(), openStore())
	results, err := orchestrator.GenerateBatch(cmd.Context(), analysis.NewAnalyzer(), args, batchConcurrency, generationOptions())
	if err != nil {
		return err
	}

	var failures int
	for _, r := range results {
		if r.Err != nil {
			failures++
			fmt.Printf("FAIL %s: %v\n", r.Path, r.Err)
			continue
		}
		out := outputs[r.Path]
		if err := writeOutput(out, r.Outcome.TestCode); err != nil {
			failures++
			fmt.Printf("FAIL %s: %v\n", r.Path, err)
			continue
		}
		fmt.Printf("OK   %s -> %s (score %.2f)\n", r.Path, out, r.Outcome.Score)
	}

	logger.Info("batch complete",
		zap.Int("files", len(args)),
		zap.Int("failures", failures))

	if failures > 0 {
		return fmt.Errorf("%d of %d files failed", failures, len(args))
	}
	return nil
}

package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/skeehn/testpilot/internal/analysis"
	"github.com/skeehn/testpilot/internal/cache"
	"github.com/skeehn/testpilot/internal/logging"
)

// DefaultConcurrency bounds parallel backend calls in batch mode.
const DefaultConcurrency = 4

// FileResult is the per-file outcome of a batch run.
type FileResult struct {
	Path    string
	Outcome *Outcome
	Err     error
}

// GenerateBatch generates tests for several files concurrently. Per-file
// failures are recorded in the result slice rather than aborting the batch;
// only context cancellation stops the whole run early. Results preserve the
// input order.
func (o *Orchestrator) GenerateBatch(ctx context.Context, analyzer *analysis.Analyzer, paths []string, concurrency int, opts Options) ([]FileResult, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	logger := logging.Get(logging.CategoryGeneration)
	logger.Info("batch generation: %d files, concurrency=%d", len(paths), concurrency)

	results := make([]FileResult, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = FileResult{Path: path, Err: err}
				return err
			}
			results[i] = o.generateOne(ctx, analyzer, path, opts)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (o *Orchestrator) generateOne(ctx context.Context, analyzer *analysis.Analyzer, path string, opts Options) FileResult {
	content, err := os.ReadFile(path)
	if err != nil {
		return FileResult{Path: path, Err: fmt.Errorf("failed to read %s: %w", path, err)}
	}

	an := o.AnalyzeSource(analyzer, path, content)
	var conv *analysis.ProjectConventions
	if opts.UseContext {
		conv = analyzer.DetectConventions(projectRootOf(path))
	}

	outcome, err := o.Generate(ctx, string(content), an, conv, opts)
	return FileResult{Path: path, Outcome: outcome, Err: err}
}

// AnalyzeSource analyzes content, reusing a stored analysis when the cache
// holds one for the same path and unchanged content. Fresh analyses of
// healthy files are stored for later runs.
func (o *Orchestrator) AnalyzeSource(analyzer *analysis.Analyzer, path string, content []byte) *analysis.SourceAnalysis {
	if o.store == nil {
		return analyzer.Analyze(content)
	}

	hash := cache.Hash(string(content))
	if data, ok := o.store.GetContext(path, hash); ok {
		var an analysis.SourceAnalysis
		if err := json.Unmarshal([]byte(data), &an); err == nil {
			return &an
		}
		o.logger.Warn("discarding unreadable context cache entry for %s", path)
	}

	an := analyzer.Analyze(content)
	if an.Failed() {
		return an
	}
	if data, err := json.Marshal(an); err == nil {
		if err := o.store.PutContext(path, hash, string(data)); err != nil {
			o.logger.Warn("failed to cache analysis context: %v", err)
		}
	}
	return an
}

// projectRootOf approximates the project root as the file's directory.
// Convention detection walks test directories from there.
func projectRootOf(path string) string {
	return filepath.Dir(path)
}

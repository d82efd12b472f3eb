package validation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/skeehn/testpilot/internal/analysis"
	"github.com/skeehn/testpilot/internal/logging"
)

// DefaultTimeout bounds one pytest run of a candidate file.
const DefaultTimeout = 30 * time.Second

// Validator scores candidate test code. The tree-sitter parser is not safe
// for concurrent use, so calls serialize on the mutex.
type Validator struct {
	mu     sync.Mutex
	parser *sitter.Parser

	pythonBinary string
	timeout      time.Duration
	logger       *logging.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithPythonBinary overrides the interpreter used to run pytest.
func WithPythonBinary(bin string) Option {
	return func(v *Validator) {
		if bin != "" {
			v.pythonBinary = bin
		}
	}
}

// WithTimeout overrides the per-run execution timeout.
func WithTimeout(d time.Duration) Option {
	return func(v *Validator) {
		if d > 0 {
			v.timeout = d
		}
	}
}

func NewValidator(opts ...Option) *Validator {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	v := &Validator{
		parser:       parser,
		pythonBinary: "python",
		timeout:      DefaultTimeout,
		logger:       logging.Get(logging.CategoryValidation),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs all three checks against a candidate and returns the scored
// verdict. It never returns an error: every failure mode is folded into the
// result so callers always have something to score.
func (v *Validator) Validate(ctx context.Context, testCode string, an *analysis.SourceAnalysis) *Result {
	timer := logging.StartTimer(logging.CategoryValidation, "candidate validation")
	defer timer.Stop()

	result := &Result{}
	result.SyntaxValid, result.SyntaxDetail = v.checkSyntax(ctx, testCode)

	if result.SyntaxValid {
		result.Execution = v.execute(ctx, testCode)
		result.Coverage = v.measureCoverage(ctx, testCode, an)
	} else {
		// Unparseable candidates execute nothing and cover nothing.
		result.Execution = ExecutionResult{
			Succeeded:  false,
			Stderr:     result.SyntaxDetail,
			ExitStatus: -1,
		}
		v.logger.Debug("skipping execution: %s", result.SyntaxDetail)
	}
	result.score()

	v.logger.Info("validation: syntax=%v exec=%v coverage=%.2f aggregate=%.2f",
		result.SyntaxValid, result.Execution.Succeeded, result.Coverage.Score, result.AggregateScore)
	return result
}

// checkSyntax parses the candidate and reports the first error location.
func (v *Validator) checkSyntax(ctx context.Context, code string) (bool, string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	tree, err := v.parser.ParseCtx(ctx, nil, []byte(code))
	if err != nil {
		return false, fmt.Sprintf("parse failed: %v", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return true, ""
	}
	if node := firstErrorNode(root); node != nil {
		pt := node.StartPoint()
		return false, fmt.Sprintf("syntax error at line %d, column %d", pt.Row+1, pt.Column+1)
	}
	return false, "syntax error"
}

func firstErrorNode(node *sitter.Node) *sitter.Node {
	if node.Type() == "ERROR" || node.IsMissing() {
		return node
	}
	if !node.HasError() {
		return nil
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if found := firstErrorNode(node.Child(i)); found != nil {
			return found
		}
	}
	return nil
}

// ExecuteCandidate runs a candidate under pytest without scoring it. Used
// when only the pass or fail outcome matters.
func (v *Validator) ExecuteCandidate(ctx context.Context, code string) ExecutionResult {
	return v.execute(ctx, code)
}

// execute writes the candidate to a throwaway pytest file and runs it.
func (v *Validator) execute(ctx context.Context, code string) ExecutionResult {
	dir, err := os.MkdirTemp("", "testpilot-validate-")
	if err != nil {
		return ExecutionResult{
			Succeeded:  false,
			Stderr:     fmt.Sprintf("failed to create temp dir: %v", err),
			ExitStatus: -1,
		}
	}
	defer os.RemoveAll(dir)

	name := "test_" + strings.ReplaceAll(uuid.New().String(), "-", "") + ".py"
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		return ExecutionResult{
			Succeeded:  false,
			Stderr:     fmt.Sprintf("failed to write candidate file: %v", err),
			ExitStatus: -1,
		}
	}

	return RunPytest(ctx, v.pythonBinary, path, v.timeout)
}

// measureCoverage walks the candidate's call sites and matches plain callee
// names against the functions the source declares. Attribute calls like
// obj.method() are skipped on purpose; only bare identifiers count.
func (v *Validator) measureCoverage(ctx context.Context, code string, an *analysis.SourceAnalysis) CoverageResult {
	if an == nil || len(an.Functions) == 0 {
		return CoverageResult{Score: 0}
	}

	callees := v.collectCallees(ctx, code)

	referenced := map[string]bool{}
	for _, fn := range an.Functions {
		for callee := range callees {
			if strings.Contains(callee, fn.Name) || strings.Contains(fn.Name, callee) {
				referenced[fn.Name] = true
				break
			}
		}
	}

	names := make([]string, 0, len(referenced))
	for name := range referenced {
		names = append(names, name)
	}
	sort.Strings(names)

	return CoverageResult{
		FunctionsReferenced: names,
		Score:               float64(len(referenced)) / float64(len(an.Functions)),
	}
}

func (v *Validator) collectCallees(ctx context.Context, code string) map[string]bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	callees := map[string]bool{}
	tree, err := v.parser.ParseCtx(ctx, nil, []byte(code))
	if err != nil {
		return callees
	}
	defer tree.Close()

	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		if node.Type() == "call" {
			if fn := node.ChildByFieldName("function"); fn != nil && fn.Type() == "identifier" {
				callees[fn.Content([]byte(code))] = true
			}
		}
		for i := 0; i < int(node.NamedChildCount()); i++ {
			walk(node.NamedChild(i))
		}
	}
	walk(tree.RootNode())
	return callees
}

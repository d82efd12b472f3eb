// Package validation scores generated test code on three axes: syntactic
// validity, executability under pytest, and coverage of the functions the
// source declares.
package validation

// Weights for the aggregate score. They sum to 1.0.
const (
	syntaxWeight    = 0.3
	executionWeight = 0.4
	coverageWeight  = 0.3
)

// AcceptThreshold is the aggregate score at which a candidate is accepted
// without further retries.
const AcceptThreshold = 0.8

// ExecutionResult captures one pytest run of a candidate file.
type ExecutionResult struct {
	Succeeded  bool   `json:"succeeded"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitStatus int    `json:"exit_status"`
	TimedOut   bool   `json:"timed_out"`
}

// CoverageResult reports which declared functions the candidate references.
type CoverageResult struct {
	FunctionsReferenced []string `json:"functions_referenced"`
	Score               float64  `json:"score"`
}

// Result is a full validation verdict for one candidate.
type Result struct {
	SyntaxValid    bool            `json:"syntax_valid"`
	SyntaxDetail   string          `json:"syntax_detail,omitempty"`
	Execution      ExecutionResult `json:"execution"`
	Coverage       CoverageResult  `json:"coverage"`
	AggregateScore float64         `json:"aggregate_score"`
}

// Issues flattens the verdict into human-readable problem descriptions,
// suitable for feeding back into a regeneration prompt.
func (r *Result) Issues() []string {
	var issues []string
	if !r.SyntaxValid {
		detail := r.SyntaxDetail
		if detail == "" {
			detail = "generated code has invalid syntax"
		}
		issues = append(issues, detail)
	}
	if !r.Execution.Succeeded {
		msg := r.Execution.Stderr
		if msg == "" {
			msg = r.Execution.Stdout
		}
		if msg == "" {
			msg = "test execution failed"
		}
		issues = append(issues, msg)
	}
	if r.Coverage.Score < 1.0 {
		issues = append(issues, "generated tests do not cover all declared functions")
	}
	return issues
}

// Passed reports whether the candidate clears the acceptance threshold.
func (r *Result) Passed() bool {
	return r.AggregateScore >= AcceptThreshold
}

// score recomputes the aggregate from the component results. Each run
// recomputes from scratch so stale partial results never leak through.
func (r *Result) score() {
	var syntax, execution float64
	if r.SyntaxValid {
		syntax = 1.0
	}
	if r.Execution.Succeeded {
		execution = 1.0
	}
	r.AggregateScore = syntaxWeight*syntax + executionWeight*execution + coverageWeight*r.Coverage.Score
}

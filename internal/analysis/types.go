package analysis

import "sort"

// FunctionInfo describes a single Python function or method definition.
type FunctionInfo struct {
	Name          string   `json:"name"`
	Params        []string `json:"params"`
	Returns       string   `json:"returns,omitempty"`
	Docstring     string   `json:"docstring,omitempty"`
	IsAsync       bool     `json:"is_async"`
	HasDecorators bool     `json:"has_decorators"`
}

// ClassInfo describes a Python class definition.
type ClassInfo struct {
	Name      string   `json:"name"`
	Bases     []string `json:"bases"`
	Methods   []string `json:"methods"`
	Docstring string   `json:"docstring,omitempty"`
}

// SourceAnalysis is the normalized structural description of one source file.
// It is immutable once computed; a changed file produces a new analysis under
// a new content hash rather than an update to this one.
type SourceAnalysis struct {
	Functions    []FunctionInfo  `json:"functions"`
	Classes      []ClassInfo     `json:"classes"`
	Imports      []string        `json:"imports"`
	Constants    map[string]bool `json:"constants"`
	Dependencies map[string]bool `json:"dependencies"`

	// Structural signals consumed by the prompt composer.
	UsesExceptions bool `json:"uses_exceptions"`

	// Diagnostic is set only when parsing failed; all structural fields
	// are empty in that case.
	Diagnostic string `json:"diagnostic,omitempty"`
}

// Failed reports whether the analysis carries a parse diagnostic.
func (a *SourceAnalysis) Failed() bool {
	return a.Diagnostic != ""
}

// FunctionNames returns declared function names in declaration order.
func (a *SourceAnalysis) FunctionNames() []string {
	names := make([]string, 0, len(a.Functions))
	for _, f := range a.Functions {
		names = append(names, f.Name)
	}
	return names
}

// ClassNames returns declared class names in declaration order.
func (a *SourceAnalysis) ClassNames() []string {
	names := make([]string, 0, len(a.Classes))
	for _, c := range a.Classes {
		names = append(names, c.Name)
	}
	return names
}

// HasAsyncFunctions reports whether any declared function is asynchronous.
func (a *SourceAnalysis) HasAsyncFunctions() bool {
	for _, f := range a.Functions {
		if f.IsAsync {
			return true
		}
	}
	return false
}

// DependencyNames returns the bare module names the source imports, sorted.
// Unlike Imports this collapses "from x import y" and aliases to the module.
func (a *SourceAnalysis) DependencyNames() []string {
	names := make([]string, 0, len(a.Dependencies))
	for name := range a.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DependencyList returns up to limit import entries in source order,
// deduplicated. limit <= 0 means no limit.
func (a *SourceAnalysis) DependencyList(limit int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, imp := range a.Imports {
		if limit > 0 && len(out) >= limit {
			break
		}
		if seen[imp] {
			continue
		}
		seen[imp] = true
		out = append(out, imp)
	}
	return out
}

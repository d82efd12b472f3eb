// Package analysis extracts the static structure of Python source files and
// the testing conventions of the surrounding project. It uses Tree-sitter
// for accurate AST parsing.
package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/skeehn/testpilot/internal/logging"
)

const analysisCacheSize = 256

// Analyzer parses Python sources into SourceAnalysis values. Analyses are
// cached by content hash, so re-analyzing an unchanged file is free and a
// changed file supersedes the old entry under a new key.
type Analyzer struct {
	mu     sync.Mutex // tree-sitter parsers are not safe for concurrent use
	parser *sitter.Parser

	cache *lru.Cache[string, *SourceAnalysis]

	convMu      sync.Mutex
	conventions map[string]*ProjectConventions
}

// NewAnalyzer creates an analyzer with a fresh Tree-sitter Python parser.
func NewAnalyzer() *Analyzer {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	cache, _ := lru.New[string, *SourceAnalysis](analysisCacheSize)

	return &Analyzer{
		parser:      parser,
		cache:       cache,
		conventions: make(map[string]*ProjectConventions),
	}
}

// ContentHash returns the cache key for a source snapshot.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Analyze extracts functions, classes, imports and module-level constants
// from Python source text. It never returns an error: a parse failure is
// reported through the Diagnostic field with all structural fields empty.
func (a *Analyzer) Analyze(content []byte) *SourceAnalysis {
	timer := logging.StartTimer(logging.CategoryAnalysis, "Analyze")
	defer timer.Stop()

	key := ContentHash(content)
	if cached, ok := a.cache.Get(key); ok {
		logging.AnalysisDebug("Analyze: cache hit for %s", key[:12])
		return cached
	}

	result := a.analyze(content)
	a.cache.Add(key, result)
	return result
}

// AnalyzeFile reads and analyzes a file. A read failure is reported the same
// way as a parse failure: through the Diagnostic field.
func (a *Analyzer) AnalyzeFile(path string) *SourceAnalysis {
	content, err := os.ReadFile(path)
	if err != nil {
		return &SourceAnalysis{
			Diagnostic:   fmt.Sprintf("failed to read %s: %v", path, err),
			Constants:    make(map[string]bool),
			Dependencies: make(map[string]bool),
		}
	}
	return a.Analyze(content)
}

func (a *Analyzer) analyze(content []byte) *SourceAnalysis {
	a.mu.Lock()
	tree, err := a.parser.ParseCtx(context.Background(), nil, content)
	a.mu.Unlock()

	result := &SourceAnalysis{
		Constants:    make(map[string]bool),
		Dependencies: make(map[string]bool),
	}

	if err != nil {
		result.Diagnostic = fmt.Sprintf("parse failed: %v", err)
		return result
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		result.Diagnostic = describeSyntaxError(root)
		return result
	}

	a.walkNode(root, content, result)

	// Module-level constants only; nested assignments are not signals the
	// prompt composer cares about.
	collectModuleConstants(root, content, result)

	logging.AnalysisDebug("Analyze: %d functions, %d classes, %d imports",
		len(result.Functions), len(result.Classes), len(result.Imports))
	return result
}

// walkNode recursively classifies definition nodes into structural buckets.
// Every function_definition is recorded, including methods and nested defs,
// mirroring a full-tree walk.
func (a *Analyzer) walkNode(node *sitter.Node, content []byte, result *SourceAnalysis) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)

		switch child.Type() {
		case "import_statement":
			a.collectImport(child, content, result)
			continue

		case "import_from_statement":
			if module := child.ChildByFieldName("module_name"); module != nil {
				name := nodeText(module, content)
				result.Imports = append(result.Imports, "from "+name)
				result.Dependencies[name] = true
			}
			continue

		case "function_definition":
			result.Functions = append(result.Functions, a.parseFunction(child, content, false))

		case "class_definition":
			result.Classes = append(result.Classes, a.parseClass(child, content))

		case "decorated_definition":
			if def := child.ChildByFieldName("definition"); def != nil {
				switch def.Type() {
				case "function_definition":
					result.Functions = append(result.Functions, a.parseFunction(def, content, true))
				case "class_definition":
					result.Classes = append(result.Classes, a.parseClass(def, content))
				}
				a.walkNode(def, content, result)
			}
			continue

		case "raise_statement", "try_statement":
			result.UsesExceptions = true
		}

		a.walkNode(child, content, result)
	}
}

func (a *Analyzer) collectImport(node *sitter.Node, content []byte, result *SourceAnalysis) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		item := node.NamedChild(i)
		switch item.Type() {
		case "dotted_name":
			name := nodeText(item, content)
			result.Imports = append(result.Imports, name)
			result.Dependencies[name] = true
		case "aliased_import":
			if name := item.ChildByFieldName("name"); name != nil {
				text := nodeText(name, content)
				result.Imports = append(result.Imports, text)
				result.Dependencies[text] = true
			}
		}
	}
}

func (a *Analyzer) parseFunction(node *sitter.Node, content []byte, decorated bool) FunctionInfo {
	info := FunctionInfo{
		HasDecorators: decorated,
		IsAsync:       strings.HasPrefix(nodeText(node, content), "async "),
	}

	if name := node.ChildByFieldName("name"); name != nil {
		info.Name = nodeText(name, content)
	}
	if ret := node.ChildByFieldName("return_type"); ret != nil {
		info.Returns = nodeText(ret, content)
	}
	if params := node.ChildByFieldName("parameters"); params != nil {
		info.Params = parameterNames(params, content)
	}
	if body := node.ChildByFieldName("body"); body != nil {
		info.Docstring = docstring(body, content)
	}

	return info
}

func (a *Analyzer) parseClass(node *sitter.Node, content []byte) ClassInfo {
	info := ClassInfo{}

	if name := node.ChildByFieldName("name"); name != nil {
		info.Name = nodeText(name, content)
	}
	if supers := node.ChildByFieldName("superclasses"); supers != nil {
		for i := 0; i < int(supers.NamedChildCount()); i++ {
			info.Bases = append(info.Bases, nodeText(supers.NamedChild(i), content))
		}
	}
	if body := node.ChildByFieldName("body"); body != nil {
		info.Docstring = docstring(body, content)
		for i := 0; i < int(body.NamedChildCount()); i++ {
			item := body.NamedChild(i)
			switch item.Type() {
			case "function_definition":
				if name := item.ChildByFieldName("name"); name != nil {
					info.Methods = append(info.Methods, nodeText(name, content))
				}
			case "decorated_definition":
				if def := item.ChildByFieldName("definition"); def != nil && def.Type() == "function_definition" {
					if name := def.ChildByFieldName("name"); name != nil {
						info.Methods = append(info.Methods, nodeText(name, content))
					}
				}
			}
		}
	}

	return info
}

// parameterNames extracts parameter identifiers in declaration order. The
// source's declared order is authoritative; duplicate names are kept as-is.
func parameterNames(params *sitter.Node, content []byte) []string {
	var names []string
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		switch p.Type() {
		case "identifier":
			names = append(names, nodeText(p, content))
		case "typed_parameter", "list_splat_pattern", "dictionary_splat_pattern":
			// First identifier child carries the name.
			for j := 0; j < int(p.NamedChildCount()); j++ {
				if inner := p.NamedChild(j); inner.Type() == "identifier" {
					names = append(names, nodeText(inner, content))
					break
				}
			}
		case "default_parameter", "typed_default_parameter":
			if name := p.ChildByFieldName("name"); name != nil {
				names = append(names, nodeText(name, content))
			}
		}
	}
	return names
}

// docstring returns the leading string literal of a block, unquoted.
func docstring(body *sitter.Node, content []byte) string {
	if body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	str := first.NamedChild(0)
	if str.Type() != "string" {
		return ""
	}
	return stripStringQuotes(nodeText(str, content))
}

func stripStringQuotes(s string) string {
	for _, prefix := range []string{"r", "b", "u", "f", "R", "B", "U", "F"} {
		s = strings.TrimPrefix(s, prefix)
	}
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2*len(q) {
			return strings.TrimSpace(s[len(q) : len(s)-len(q)])
		}
	}
	return strings.TrimSpace(s)
}

// collectModuleConstants records names assigned at module scope.
func collectModuleConstants(root *sitter.Node, content []byte, result *SourceAnalysis) {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		stmt := root.NamedChild(i)
		if stmt.Type() != "expression_statement" {
			continue
		}
		for j := 0; j < int(stmt.NamedChildCount()); j++ {
			assign := stmt.NamedChild(j)
			if assign.Type() != "assignment" {
				continue
			}
			left := assign.ChildByFieldName("left")
			if left == nil {
				continue
			}
			switch left.Type() {
			case "identifier":
				result.Constants[nodeText(left, content)] = true
			case "pattern_list", "tuple_pattern":
				for k := 0; k < int(left.NamedChildCount()); k++ {
					if id := left.NamedChild(k); id.Type() == "identifier" {
						result.Constants[nodeText(id, content)] = true
					}
				}
			}
		}
	}
}

// describeSyntaxError locates the first ERROR node for a readable diagnostic.
func describeSyntaxError(root *sitter.Node) string {
	if errNode := findErrorNode(root); errNode != nil {
		return fmt.Sprintf("syntax error at line %d, column %d",
			errNode.StartPoint().Row+1, errNode.StartPoint().Column+1)
	}
	return "syntax error"
}

func findErrorNode(node *sitter.Node) *sitter.Node {
	if node.Type() == "ERROR" || node.IsMissing() {
		return node
	}
	if !node.HasError() {
		return nil
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if found := findErrorNode(node.Child(i)); found != nil {
			return found
		}
	}
	return node
}

func nodeText(node *sitter.Node, content []byte) string {
	return string(content[node.StartByte():node.EndByte()])
}

package prompt

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/skeehn/testpilot/internal/analysis"
)

func TestLoadTemplateDefault(t *testing.T) {
	tmpl, err := LoadTemplate("", "")
	if err != nil {
		t.Fatalf("LoadTemplate: %v", err)
	}
	if !strings.Contains(tmpl, "$source_code") {
		t.Error("default template missing $source_code placeholder")
	}
}

func TestLoadTemplateNamedEntry(t *testing.T) {
	tmpl, err := LoadTemplate("", "minimal")
	if err != nil {
		t.Fatalf("LoadTemplate: %v", err)
	}
	if !strings.Contains(tmpl, "$source_code") {
		t.Error("minimal template missing placeholder")
	}
}

func TestLoadTemplateMissingName(t *testing.T) {
	_, err := LoadTemplate("", "no_such_template")
	if err == nil {
		t.Fatal("expected error for unknown template name")
	}
	var terr *TemplateError
	if !errors.As(err, &terr) {
		t.Fatalf("expected *TemplateError, got %T", err)
	}
}

func TestLoadTemplateBareStringFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tpl.txt")
	content := "Write tests for this:\n\n$source_code\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	tmpl, err := LoadTemplate(path, "")
	if err != nil {
		t.Fatalf("LoadTemplate: %v", err)
	}
	if !strings.Contains(tmpl, "$source_code") {
		t.Errorf("placeholder lost: %q", tmpl)
	}
}

func TestLoadTemplateMissingFile(t *testing.T) {
	_, err := LoadTemplate(filepath.Join(t.TempDir(), "absent.yaml"), "")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSubstituteSinglePass(t *testing.T) {
	// Inserted source containing placeholder-like text must survive verbatim.
	source := "x = \"$source_code\"\ny = \"${source_code}\"\n"
	out := substitute("before\n$source_code\nafter", source)
	if !strings.Contains(out, source) {
		t.Errorf("inserted text was rewritten:\n%s", out)
	}
	if strings.Count(out, "$source_code") != 1 || strings.Count(out, "${source_code}") != 1 {
		t.Errorf("placeholder occurrences inside source changed:\n%s", out)
	}
}

func TestSubstituteBracedForm(t *testing.T) {
	out := substitute("a ${source_code} b", "SRC")
	if out != "a SRC b" {
		t.Errorf("got %q", out)
	}
}

func TestSubstituteLeavesOtherNames(t *testing.T) {
	out := substitute("$other and $source_code_extra stay; $source_code goes", "X")
	if !strings.Contains(out, "$other") {
		t.Error("$other was rewritten")
	}
	if !strings.Contains(out, "$source_code_extra") {
		t.Error("longer identifier was treated as the placeholder")
	}
	if !strings.Contains(out, "X goes") {
		t.Errorf("placeholder not replaced: %q", out)
	}
}

func TestComposeWithContext(t *testing.T) {
	an := &analysis.SourceAnalysis{
		Functions: []analysis.FunctionInfo{{Name: "add"}, {Name: "fetch", IsAsync: true}},
		Classes:   []analysis.ClassInfo{{Name: "Calculator"}},
		Imports:   []string{"os", "json"},
	}
	conv := &analysis.ProjectConventions{
		CommonImports:   map[string]bool{"pytest": true},
		AssertionStyles: map[string]bool{"assert": true},
	}

	c := NewComposer()
	req, err := c.Compose("def add(a, b):\n    return a + b\n", an, conv, ComposeOptions{UseContext: true})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	p := req.RenderedPrompt
	for _, want := range []string{
		"Project Context:",
		"Functions to test: add, fetch",
		"Classes to test: Calculator",
		"Key dependencies: os, json",
		"Project uses: pytest",
		"Assertion style: assert",
		"pytest-asyncio",
		"def add(a, b):",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestComposeWithoutContext(t *testing.T) {
	c := NewComposer()
	req, err := c.Compose("def f():\n    pass\n", nil, nil, ComposeOptions{})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if strings.Contains(req.RenderedPrompt, "Project Context:") {
		t.Error("context block present without UseContext")
	}
}

func TestContextBlockEmpty(t *testing.T) {
	got := ContextBlock(&analysis.SourceAnalysis{}, &analysis.ProjectConventions{})
	if got != "No additional context available." {
		t.Errorf("got %q", got)
	}
}

func TestComposeRejectsPlaceholderlessTemplate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.txt")
	if err := os.WriteFile(path, []byte("no placeholder here"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := NewComposer()
	_, err := c.Compose("src", nil, nil, ComposeOptions{TemplatePath: path})
	if err == nil {
		t.Fatal("expected error for template without placeholder")
	}
}

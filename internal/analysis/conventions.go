package analysis

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/skeehn/testpilot/internal/logging"
)

// recognizedConfigFiles are the test-configuration filenames checked at the
// project root. The exact set is a policy knob, not a structural requirement.
var recognizedConfigFiles = []string{"pytest.ini", "tox.ini", "setup.cfg", "pyproject.toml"}

// conventionalTestDirs are directory names that mark a dedicated test tree.
var conventionalTestDirs = []string{"tests", "test", "testing"}

// ProjectConventions captures the testing idioms observed in a project.
// All pattern fields are best-effort: presence in any one test file is
// enough for set membership.
type ProjectConventions struct {
	HasTestDir      bool            `json:"has_test_dir"`
	ConfigFiles     []string        `json:"config_files"`
	CommonImports   map[string]bool `json:"common_imports"`
	AssertionStyles map[string]bool `json:"assertion_styles"`
	FixturePatterns []string        `json:"fixture_patterns"`
}

// FrameworkList returns the detected framework imports in a stable order.
func (c *ProjectConventions) FrameworkList() []string {
	return sortedKeys(c.CommonImports)
}

// AssertionStyleList returns the detected assertion idioms in a stable order.
func (c *ProjectConventions) AssertionStyleList() []string {
	return sortedKeys(c.AssertionStyles)
}

func sortedKeys(set map[string]bool) []string {
	// Stable fixed order for the styles we detect, so prompts render
	// deterministically.
	known := []string{"pytest", "unittest", "mock", "assert"}
	var out []string
	for _, k := range known {
		if set[k] {
			out = append(out, k)
		}
	}
	for k := range set {
		if !containsString(out, k) {
			out = append(out, k)
		}
	}
	return out
}

// DetectConventions scans a project root for existing test files and
// extracts framework, assertion, and fixture idioms via substring checks.
// Per-file read errors are swallowed and the file skipped; this never
// returns an error. Results are cached per analyzer instance.
func (a *Analyzer) DetectConventions(projectRoot string) *ProjectConventions {
	a.convMu.Lock()
	if cached, ok := a.conventions[projectRoot]; ok {
		a.convMu.Unlock()
		logging.Get(logging.CategoryConventions).Debug("DetectConventions: cache hit for %s", projectRoot)
		return cached
	}
	a.convMu.Unlock()

	timer := logging.StartTimer(logging.CategoryConventions, "DetectConventions")
	defer timer.Stop()

	conv := &ProjectConventions{
		CommonImports:   make(map[string]bool),
		AssertionStyles: make(map[string]bool),
	}

	// Root-level checks are non-recursive.
	for _, dir := range conventionalTestDirs {
		if info, err := os.Stat(filepath.Join(projectRoot, dir)); err == nil && info.IsDir() {
			conv.HasTestDir = true
			break
		}
	}
	for _, name := range recognizedConfigFiles {
		if info, err := os.Stat(filepath.Join(projectRoot, name)); err == nil && !info.IsDir() {
			conv.ConfigFiles = append(conv.ConfigFiles, name)
		}
	}

	// Recursive scan for test files.
	_ = filepath.WalkDir(projectRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree: skip, never fail
		}
		if d.IsDir() || !strings.HasPrefix(d.Name(), "test_") || !strings.HasSuffix(d.Name(), ".py") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		a.scanTestFile(string(data), conv)
		return nil
	})

	a.convMu.Lock()
	a.conventions[projectRoot] = conv
	a.convMu.Unlock()

	logging.Get(logging.CategoryConventions).Info(
		"DetectConventions: root=%s frameworks=%v styles=%v fixtures=%d",
		projectRoot, conv.FrameworkList(), conv.AssertionStyleList(), len(conv.FixturePatterns))
	return conv
}

// scanTestFile applies substring-level checks to one test file's content.
// This is intentionally not a full parse: a heuristic survey of idioms is
// all the prompt composer needs.
func (a *Analyzer) scanTestFile(content string, conv *ProjectConventions) {
	if strings.Contains(content, "import pytest") {
		conv.CommonImports["pytest"] = true
	}
	if strings.Contains(content, "from unittest") {
		conv.CommonImports["unittest"] = true
	}
	if strings.Contains(content, "import mock") || strings.Contains(content, "from mock") {
		conv.CommonImports["mock"] = true
	}

	if strings.Contains(content, "@pytest.fixture") && !containsString(conv.FixturePatterns, "pytest_fixtures") {
		conv.FixturePatterns = append(conv.FixturePatterns, "pytest_fixtures")
	}

	if strings.Contains(content, "assert ") {
		conv.AssertionStyles["assert"] = true
	}
	if strings.Contains(content, "self.assert") {
		conv.AssertionStyles["unittest"] = true
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

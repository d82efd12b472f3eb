package prompt

import (
	"fmt"
	"strings"

	"github.com/skeehn/testpilot/internal/analysis"
	"github.com/skeehn/testpilot/internal/logging"
)

// sourceExcerptLimit bounds the source preview carried on a request for
// logging and diagnostics.
const sourceExcerptLimit = 200

// GenerationRequest is a fully rendered prompt ready to send to a backend.
type GenerationRequest struct {
	RenderedPrompt string
	SourceExcerpt  string
}

// ComposeOptions control template selection and context enrichment.
type ComposeOptions struct {
	TemplatePath string
	TemplateName string
	UseContext   bool
}

// Composer renders templates against source code and analysis results.
type Composer struct {
	logger *logging.Logger
}

func NewComposer() *Composer {
	return &Composer{logger: logging.Get(logging.CategoryPrompt)}
}

// Compose resolves the template, optionally injects a project-context block
// ahead of the source placeholder, and substitutes the source code in a
// single pass. Analysis and conventions may be nil when context is off.
func (c *Composer) Compose(source string, an *analysis.SourceAnalysis, conv *analysis.ProjectConventions, opts ComposeOptions) (*GenerationRequest, error) {
	tmpl, err := LoadTemplate(opts.TemplatePath, opts.TemplateName)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(tmpl, "$"+Placeholder) && !strings.Contains(tmpl, "${"+Placeholder+"}") {
		name := opts.TemplateName
		if name == "" {
			name = DefaultTemplateName
		}
		return nil, &TemplateError{Path: opts.TemplatePath, Name: name, Err: fmt.Errorf("template has no $%s placeholder", Placeholder)}
	}

	if opts.UseContext {
		block := ContextBlock(an, conv)
		tmpl = strings.Replace(tmpl, "$"+Placeholder, "$"+Placeholder+"\n\nProject Context:\n"+block, 1)
		c.logger.Debug("context block attached (%d bytes)", len(block))
	}

	rendered := substitute(tmpl, source)
	c.logger.Debug("prompt rendered: template=%q context=%v size=%d", opts.TemplateName, opts.UseContext, len(rendered))

	return &GenerationRequest{
		RenderedPrompt: rendered,
		SourceExcerpt:  excerpt(source),
	}, nil
}

// ContextBlock summarizes analysis and conventions as a fixed-order list of
// lines. Empty sections are skipped; with nothing to say it returns a
// placeholder sentence so the prompt never carries an empty header.
func ContextBlock(an *analysis.SourceAnalysis, conv *analysis.ProjectConventions) string {
	var lines []string

	if an != nil {
		if names := an.FunctionNames(); len(names) > 0 {
			lines = append(lines, "Functions to test: "+strings.Join(names, ", "))
		}
		if names := an.ClassNames(); len(names) > 0 {
			lines = append(lines, "Classes to test: "+strings.Join(names, ", "))
		}
		if deps := an.DependencyList(5); len(deps) > 0 {
			lines = append(lines, "Key dependencies: "+strings.Join(deps, ", "))
		}
	}
	if conv != nil {
		if fw := conv.FrameworkList(); len(fw) > 0 {
			lines = append(lines, "Project uses: "+strings.Join(fw, ", "))
		}
		if st := conv.AssertionStyleList(); len(st) > 0 {
			lines = append(lines, "Assertion style: "+strings.Join(st, ", "))
		}
	}
	if an != nil && an.HasAsyncFunctions() {
		lines = append(lines, "Note: source contains async functions, use pytest-asyncio for async tests")
	}

	if len(lines) == 0 {
		return "No additional context available."
	}
	return strings.Join(lines, "\n")
}

func excerpt(source string) string {
	if len(source) <= sourceExcerptLimit {
		return source
	}
	return source[:sourceExcerptLimit] + "..."
}

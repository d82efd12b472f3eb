// Package prompt loads generation templates and composes them with source
// code and project context into a single generation request.
package prompt

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Placeholder is the single substitution point every template must contain.
const Placeholder = "source_code"

// DefaultTemplateName selects the entry used when a template file maps
// several names to templates and no explicit name is given.
const DefaultTemplateName = "default"

// defaultTemplates is the built-in template resource, baked into the binary
// so the tool has no filesystem dependency for its default prompt.
//
//go:embed prompt.yaml
var defaultTemplates string

// TemplateError reports a failed template resolution. It is fatal to the
// generation pipeline and always surfaced to the caller.
type TemplateError struct {
	Path string
	Name string
	Err  error
}

func (e *TemplateError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("template %q from %s: %v", e.Name, e.Path, e.Err)
	}
	return fmt.Sprintf("template %q: %v", e.Name, e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }

// LoadTemplate resolves a template string. An empty path loads the built-in
// resource. The file content may be either a bare template string or a YAML
// mapping of name to template; for a mapping, name selects the entry
// (DefaultTemplateName when empty) and a missing name is an error. Content
// that does not parse as YAML is treated as a plain-text template.
func LoadTemplate(path, name string) (string, error) {
	raw := defaultTemplates
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", &TemplateError{Path: path, Name: name, Err: err}
		}
		raw = string(data)
	}

	var asString string
	if err := yaml.Unmarshal([]byte(raw), &asString); err == nil {
		return asString, nil
	}

	var asMap map[string]string
	if err := yaml.Unmarshal([]byte(raw), &asMap); err != nil {
		// Not valid YAML at all: fall back to raw text.
		return raw, nil
	}

	key := name
	if key == "" {
		key = DefaultTemplateName
	}
	tmpl, ok := asMap[key]
	if !ok {
		return "", &TemplateError{Path: path, Name: key, Err: fmt.Errorf("name not found in template file")}
	}
	return tmpl, nil
}

// substitute replaces $source_code / ${source_code} with value in a single
// literal pass. The inserted value is never rescanned, so placeholder-like
// text inside the source survives verbatim. Unknown $names are left alone.
func substitute(template, value string) string {
	var b strings.Builder
	b.Grow(len(template) + len(value))

	for i := 0; i < len(template); {
		c := template[i]
		if c != '$' {
			b.WriteByte(c)
			i++
			continue
		}
		rest := template[i+1:]
		switch {
		case strings.HasPrefix(rest, "{"+Placeholder+"}"):
			b.WriteString(value)
			i += 1 + len(Placeholder) + 2
		case strings.HasPrefix(rest, Placeholder) && !identifierContinues(rest, len(Placeholder)):
			b.WriteString(value)
			i += 1 + len(Placeholder)
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// identifierContinues reports whether rest[pos] extends an identifier, in
// which case the placeholder name was only a prefix of a longer name.
func identifierContinues(rest string, pos int) bool {
	if pos >= len(rest) {
		return false
	}
	c := rest[pos]
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

package ouroboros

import (
	"strings"
	"text/template"
)

// Render returns a sync step that fills a text/template with its input map.
// A template that fails to parse, or a missing variable at execution time,
// yields a validation error rather than an empty string.
func Render(name, tmpl string) Step[map[string]any, string] {
	parsed, parseErr := template.New(name).Option("missingkey=error").Parse(tmpl)
	return Do(name, func(vars map[string]any) (string, error) {
		if parseErr != nil {
			return "", Validation("template %q: %v", name, parseErr)
		}
		var b strings.Builder
		if err := parsed.Execute(&b, vars); err != nil {
			return "", Validation("template %q: %v", name, err)
		}
		return b.String(), nil
	})
}

// Package template renders an action's or task-action's value templates
// against a merged field map, per spec.md §4.F step 6.
//
// Grounded on the teacher's internal/engine/template.go
// (ExpandConfigTemplates' whole-string-vs-substitution dichotomy and its
// recursive walk over map/slice/scalar values) and
// original_source/tasks/actions/template.rs's apply_field, which this
// package follows for the exact substitution rule: unlike the teacher,
// a bare "{{field}}" token is *always* stringified, even as the entire
// value; only the "{{/field}}" form returns the field's raw JSON value
// unstringified. Field lookups are flat (no dot-paths or JSONPath), since
// the merged values map spec.md §4.F builds is itself flat.
package template

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dimfeld/ergo/internal/domain"
)

// Render walks tmpl (already-decoded JSON: map[string]any, []any, or a
// scalar) and returns a new value with every string containing "{{...}}"
// tokens substituted against values. A bare "{{field}}" token missing from
// values stringifies to the empty string, matching the original's
// permissive substitution for partial strings; a whole-token "{{/field}}"
// raw reference missing from values instead returns
// domain.MissingFieldError, matching apply_field's TemplateError::MissingValue
// (original_source/tasks/actions/template.rs) -- a raw reference asks for
// the field's value outright, so there is nothing sensible to substitute.
func Render(tmpl any, values map[string]any) (any, error) {
	switch v := tmpl.(type) {
	case string:
		return renderString(v, values)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			rendered, err := Render(val, values)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			rendered, err := Render(val, values)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}

// RenderEntries renders an ordered TemplateEntry list into a field map,
// later entries overwriting earlier ones with the same field name (the
// original's Vec<(String, Value)> shadowing semantics).
func RenderEntries(entries []Entry, values map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(entries))
	for _, e := range entries {
		rendered, err := Render(e.Value, values)
		if err != nil {
			return nil, err
		}
		out[e.Field] = rendered
	}
	return out, nil
}

// Entry is one (field, value-template) pair, matching
// domain.TemplateEntry's shape without importing domain (this package
// renders generic JSON values; domain.ScriptOrTemplate.Template is
// converted to []Entry by the caller).
type Entry struct {
	Field string
	Value any
}

func isWholeRawToken(s string) (field string, ok bool) {
	t := s
	if !strings.HasPrefix(t, "{{/") || !strings.HasSuffix(t, "}}") {
		return "", false
	}
	return t[3 : len(t)-2], true
}

func renderString(s string, values map[string]any) (any, error) {
	if field, ok := isWholeRawToken(s); ok {
		v, present := values[field]
		if !present {
			return nil, domain.MissingFieldError{Field: field}
		}
		return v, nil
	}

	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "{{")
		if start == -1 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end == -1 {
			b.WriteString(rest)
			break
		}
		end += start + 2

		b.WriteString(rest[:start])
		field := strings.TrimSpace(rest[start+2 : end-2])
		b.WriteString(stringify(values[field]))
		rest = rest[end:]
	}
	return b.String(), nil
}

// stringify renders a substituted value for embedding inside a larger
// string: strings pass through unquoted, everything else becomes its
// JSON representation, matching the original's "convert non-string
// values to JSON" rule.
func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

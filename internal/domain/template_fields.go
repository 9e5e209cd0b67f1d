package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// TemplateFieldFormat is the declared shape of a template field, grounded
// on tasks/actions/template.rs's TemplateFieldFormat enum. Choice carries
// its own min/max cardinality so a field can require "exactly one of" or
// "one to three of" a fixed set, matching the original's use for fields
// like HTTP method.
type TemplateFieldFormat struct {
	Type    string   `json:"type"` // string | string_array | integer | float | boolean | object | choice
	Nested  bool     `json:"nested,omitempty"`
	Choices []string `json:"choices,omitempty"`
	Min     *int     `json:"min,omitempty"`
	Max     *int     `json:"max,omitempty"`
}

const (
	FormatString      = "string"
	FormatStringArray = "string_array"
	FormatInteger     = "integer"
	FormatFloat       = "float"
	FormatBoolean     = "boolean"
	FormatObject      = "object"
	FormatChoice      = "choice"
)

// TemplateField is one entry in an Action's or Executor's template_fields
// map: format, whether it's required, and a human description.
type TemplateField struct {
	Format      TemplateFieldFormat `json:"format"`
	Optional    bool                `json:"optional"`
	Description string              `json:"description,omitempty"`
}

// TemplateFields is the ordered set of fields an action or executor
// declares. Stored as a map keyed by field name; ordering for rendering
// purposes is not significant, matching spec.md's "field-name ->
// {format, required, description}" description.
type TemplateFields map[string]TemplateField

// Validate checks value against the field's declared format, following
// tasks/actions/template.rs's TemplateFieldFormat::validate. A string
// value that is itself a whole payload-template token (see
// isPayloadTemplate) is accepted unconditionally, since its real type
// will only be known after rendering.
func (f TemplateFieldFormat) Validate(fieldName string, value any) error {
	switch v := value.(type) {
	case string:
		if isPayloadTemplate(v) {
			return nil
		}
		switch f.Type {
		case FormatString:
			return nil
		case FormatInteger:
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				return FieldFormatError{Field: fieldName, Expected: "integer"}
			}
			return nil
		case FormatFloat:
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				return FieldFormatError{Field: fieldName, Expected: "number"}
			}
			return nil
		case FormatBoolean:
			if _, err := strconv.ParseBool(v); err != nil {
				return FieldFormatError{Field: fieldName, Expected: "boolean"}
			}
			return nil
		case FormatChoice:
			if f.Min != nil && *f.Min > 1 {
				return FieldFormatError{Field: fieldName, Expected: f.describeChoice()}
			}
			for _, c := range f.Choices {
				if c == v {
					return nil
				}
			}
			return FieldFormatError{Field: fieldName, Expected: f.describeChoice()}
		default:
			return FieldFormatError{Field: fieldName, Expected: f.describeChoice()}
		}
	case []any:
		switch f.Type {
		case FormatStringArray:
			return nil
		case FormatChoice:
			if f.Min != nil && len(v) < *f.Min {
				return FieldFormatError{Field: fieldName, Expected: f.describeChoice()}
			}
			if f.Max != nil && len(v) > *f.Max {
				return FieldFormatError{Field: fieldName, Expected: f.describeChoice()}
			}
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return FieldFormatError{Field: fieldName, Expected: f.describeChoice()}
				}
				found := false
				for _, c := range f.Choices {
					if c == s {
						found = true
						break
					}
				}
				if !found {
					return FieldFormatError{Field: fieldName, Expected: f.describeChoice()}
				}
			}
			return nil
		default:
			return FieldFormatError{Field: fieldName, Expected: f.describeChoice()}
		}
	case bool:
		if f.Type == FormatString || f.Type == FormatBoolean {
			return nil
		}
		return FieldFormatError{Field: fieldName, Expected: f.describeChoice()}
	case float64:
		switch f.Type {
		case FormatString, FormatFloat:
			return nil
		case FormatInteger:
			if v != float64(int64(v)) {
				return FieldFormatError{Field: fieldName, Expected: "integer"}
			}
			return nil
		default:
			return FieldFormatError{Field: fieldName, Expected: f.describeChoice()}
		}
	case map[string]any:
		if f.Type == FormatObject {
			return nil
		}
		return FieldFormatError{Field: fieldName, Expected: f.describeChoice()}
	case nil:
		return FieldFormatError{Field: fieldName, Expected: f.describeChoice()}
	default:
		return FieldFormatError{Field: fieldName, Expected: f.describeChoice()}
	}
}

func (f TemplateFieldFormat) describeChoice() string {
	if f.Type != FormatChoice {
		return f.Type
	}
	choices := strings.Join(f.Choices, ", ")
	min, max := 0, 0
	if f.Min != nil {
		min = *f.Min
	}
	if f.Max != nil {
		max = *f.Max
	}
	switch {
	case min == 1 && max == 1:
		return "one of " + choices
	case min > 0 || max > 0:
		return fmt.Sprintf("%d to %d of %s", min, max, choices)
	default:
		return "one of " + choices
	}
}

// isPayloadTemplate reports whether s, trimmed, is exactly one
// "{{...}}" or "{{/...}}" token with nothing else around it — i.e. a
// value that will be replaced wholesale by the renderer rather than
// interpolated into a larger string, per spec.md §4.F step 6.
func isPayloadTemplate(s string) bool {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "{{") || !strings.HasSuffix(t, "}}") {
		return false
	}
	inner := t[2 : len(t)-2]
	return !strings.Contains(inner, "{{") && !strings.Contains(inner, "}}")
}

// Validate checks every declared field in fields is satisfiable
// from values (required fields must be present; optional fields may be
// absent) and that present values validate against their format. It does
// not itself perform template rendering — callers render first, then
// call this on the rendered payload, per spec.md §4.F steps 5 and 7.
func (fields TemplateFields) Validate(values map[string]any) error {
	for name, field := range fields {
		value, present := values[name]
		if !present {
			if !field.Optional {
				return MissingFieldError{Field: name}
			}
			continue
		}
		if err := field.Format.Validate(name, value); err != nil {
			return err
		}
	}
	return nil
}

// ScriptOrTemplate is an Action's executor_template: either a fixed set
// of template entries or a script whose return value becomes the
// executor payload directly, matching original_source's ScriptOrTemplate
// enum (`#[serde(tag = "t", content = "c")]`).
type ScriptOrTemplate struct {
	Template []TemplateEntry `json:"template,omitempty"`
	Script   string          `json:"script,omitempty"`
}

// TemplateEntry is one (field, value-template) pair. A slice of pairs
// rather than a map preserves the original's Vec<(String, Value)>
// ordering, which matters because later entries may shadow earlier ones
// when merged into the payload.
type TemplateEntry struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

func (s ScriptOrTemplate) IsScript() bool { return s.Script != "" }

// MarshalTemplateEntries is a convenience for building a ScriptOrTemplate
// from a plain map, for tests and seed data.
func MarshalTemplateEntries(m map[string]any) []TemplateEntry {
	entries := make([]TemplateEntry, 0, len(m))
	for k, v := range m {
		entries = append(entries, TemplateEntry{Field: k, Value: v})
	}
	return entries
}

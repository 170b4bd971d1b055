package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FieldType names the JSON type a field must carry.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeBoolean FieldType = "boolean"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
)

// Field describes one expected response field with its constraints.
type Field struct {
	Name        string
	Type        FieldType
	Description string
	Required    bool
	Min         *float64 // numeric lower bound, inclusive
	Max         *float64 // numeric upper bound, inclusive
	Enum        []string // allowed values for string fields
}

// Schema is a caller-supplied field/constraint mapping. It is rendered
// into the instruction text and used to validate the parsed response.
type Schema struct {
	Name   string
	Fields []Field
}

// Bounds is a convenience constructor for a min/max pair.
func Bounds(min, max float64) (*float64, *float64) {
	return &min, &max
}

// Render produces the textual contract embedded in the prompt.
func (s Schema) Render() string {
	var sb strings.Builder
	sb.WriteString("Respond with ONLY a JSON object, no markdown fences or prose, with these fields:\n")
	for _, f := range s.Fields {
		sb.WriteString(fmt.Sprintf("- %q (%s", f.Name, f.Type))
		if !f.Required {
			sb.WriteString(", optional")
		}
		sb.WriteString(")")
		var constraints []string
		if f.Min != nil && f.Max != nil {
			constraints = append(constraints, fmt.Sprintf("between %g and %g", *f.Min, *f.Max))
		} else if f.Min != nil {
			constraints = append(constraints, fmt.Sprintf("at least %g", *f.Min))
		} else if f.Max != nil {
			constraints = append(constraints, fmt.Sprintf("at most %g", *f.Max))
		}
		if len(f.Enum) > 0 {
			constraints = append(constraints, "one of: "+strings.Join(f.Enum, ", "))
		}
		if len(constraints) > 0 {
			sb.WriteString(": " + strings.Join(constraints, "; "))
		}
		if f.Description != "" {
			sb.WriteString(": " + f.Description)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Validate checks a parsed payload field-by-field against the schema.
func (s Schema) Validate(payload map[string]any) error {
	var problems []string
	for _, f := range s.Fields {
		value, ok := payload[f.Name]
		if !ok || value == nil {
			if f.Required {
				problems = append(problems, fmt.Sprintf("missing required field %q", f.Name))
			}
			continue
		}
		if err := validateValue(f, value); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("schema %s: %s", s.Name, strings.Join(problems, "; "))
	}
	return nil
}

func validateValue(f Field, value any) error {
	switch f.Type {
	case TypeString:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("field %q: expected string, got %T", f.Name, value)
		}
		if len(f.Enum) > 0 && !containsFold(f.Enum, str) {
			return fmt.Errorf("field %q: %q not one of %s", f.Name, str, strings.Join(f.Enum, ", "))
		}
	case TypeNumber, TypeInteger:
		num, ok := asNumber(value)
		if !ok {
			return fmt.Errorf("field %q: expected %s, got %T", f.Name, f.Type, value)
		}
		if f.Type == TypeInteger && num != float64(int64(num)) {
			return fmt.Errorf("field %q: expected integer, got %v", f.Name, num)
		}
		if f.Min != nil && num < *f.Min {
			return fmt.Errorf("field %q: %g below minimum %g", f.Name, num, *f.Min)
		}
		if f.Max != nil && num > *f.Max {
			return fmt.Errorf("field %q: %g above maximum %g", f.Name, num, *f.Max)
		}
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("field %q: expected boolean, got %T", f.Name, value)
		}
	case TypeArray:
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("field %q: expected array, got %T", f.Name, value)
		}
	case TypeObject:
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("field %q: expected object, got %T", f.Name, value)
		}
	}
	return nil
}

// Number reads a numeric payload field, tolerating integer JSON tokens.
func Number(payload map[string]any, name string) (float64, bool) {
	value, ok := payload[name]
	if !ok {
		return 0, false
	}
	return asNumber(value)
}

// Text reads a string payload field.
func Text(payload map[string]any, name string) (string, bool) {
	value, ok := payload[name]
	if !ok {
		return "", false
	}
	str, ok := value.(string)
	return str, ok
}

// Flag reads a boolean payload field.
func Flag(payload map[string]any, name string) (bool, bool) {
	value, ok := payload[name]
	if !ok {
		return false, false
	}
	b, ok := value.(bool)
	return b, ok
}

func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func containsFold(values []string, s string) bool {
	for _, v := range values {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Decode converts a validated payload into a typed struct and runs
// struct-tag validation, so typed consumers get a second boundary check.
func Decode[T any](payload map[string]any) (T, error) {
	var out T
	data, err := json.Marshal(payload)
	if err != nil {
		return out, fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode payload: %w", err)
	}
	if err := structValidator.Struct(&out); err != nil {
		return out, fmt.Errorf("payload constraints: %w", err)
	}
	return out, nil
}

// Package payload validates keyword arguments against a declared schema
// before a request is built.
package payload

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/example/clientfactory/internal/errs"
)

// Validator validates and normalizes a raw keyword mapping.
type Validator interface {
	Validate(data map[string]any) (map[string]any, error)
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(data map[string]any) (map[string]any, error)

// Validate calls f(data).
func (f ValidatorFunc) Validate(data map[string]any) (map[string]any, error) { return f(data) }

// Field declares one payload field.
type Field struct {
	// Rules uses validator tag syntax, e.g. "required,gt=0".
	Rules string `yaml:"rules,omitempty" json:"rules,omitempty"`
	// Default is applied when the field is absent.
	Default any `yaml:"default,omitempty" json:"default,omitempty"`
	// Target renames the field in the validated output.
	Target string `yaml:"target,omitempty" json:"target,omitempty"`
}

// Schema is a Validator backed by go-playground/validator.
//
// Thread Safety: Safe for concurrent use.
type Schema struct {
	fields   map[string]Field
	strict   bool
	allowed  map[string]bool
	validate *validator.Validate
}

// Option configures a Schema.
type Option func(*Schema)

// Strict rejects keys that are neither declared fields nor listed in allowed.
// Path parameters are typically passed as allowed.
func Strict(allowed ...string) Option {
	return func(s *Schema) {
		s.strict = true
		for _, a := range allowed {
			s.allowed[a] = true
		}
	}
}

// NewSchema creates a schema for the given fields.
func NewSchema(fields map[string]Field, opts ...Option) *Schema {
	s := &Schema{
		fields:   maps.Clone(fields),
		allowed:  make(map[string]bool),
		validate: validator.New(),
	}
	if s.fields == nil {
		s.fields = make(map[string]Field)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FieldNames returns the declared field names, sorted.
func (s *Schema) FieldNames() []string {
	return slices.Sorted(maps.Keys(s.fields))
}

// Validate applies defaults, checks rules, and renames fields. Undeclared
// keys pass through unchanged unless the schema is strict.
func (s *Schema) Validate(data map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(data)+len(s.fields))
	maps.Copy(out, data)

	if s.strict {
		var unknown []string
		for k := range out {
			if _, ok := s.fields[k]; !ok && !s.allowed[k] {
				unknown = append(unknown, k)
			}
		}
		if len(unknown) > 0 {
			slices.Sort(unknown)
			return nil, errs.Validation("payload.validate", "unknown fields: %s", strings.Join(unknown, ", "))
		}
	}

	rules := make(map[string]any, len(s.fields))
	for name, f := range s.fields {
		if _, ok := out[name]; !ok && f.Default != nil {
			out[name] = f.Default
		}
		if f.Rules != "" {
			rules[name] = f.Rules
		}
	}

	if failures := s.validate.ValidateMap(out, rules); len(failures) > 0 {
		return nil, errs.Validation("payload.validate", "%s", describe(failures))
	}

	for name, f := range s.fields {
		if f.Target == "" || f.Target == name {
			continue
		}
		if v, ok := out[name]; ok {
			delete(out, name)
			out[f.Target] = v
		}
	}
	return out, nil
}

func describe(failures map[string]any) string {
	names := slices.Sorted(maps.Keys(failures))
	msgs := make([]string, 0, len(names))
	for _, name := range names {
		msgs = append(msgs, fmt.Sprintf("%s: %s", name, message(failures[name])))
	}
	return strings.Join(msgs, "; ")
}

func message(failure any) string {
	err, ok := failure.(error)
	if !ok {
		return "invalid value"
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err.Error()
	}
	return fieldMessage(fieldErrs[0])
}

// fieldMessage returns a human-readable validation message.
func fieldMessage(e validator.FieldError) string {
	isString := e.Type() != nil && e.Type().Kind() == reflect.String
	switch e.Tag() {
	case "required":
		return "field is required"
	case "email":
		return "invalid email format"
	case "min":
		if isString {
			return "must be at least " + e.Param() + " characters"
		}
		return "must be at least " + e.Param()
	case "max":
		if isString {
			return "must be at most " + e.Param() + " characters"
		}
		return "must be at most " + e.Param()
	case "oneof":
		return "must be one of: " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "lte":
		return "must be less than or equal to " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	case "lt":
		return "must be less than " + e.Param()
	case "url":
		return "invalid URL format"
	case "uuid":
		return "invalid UUID format"
	default:
		return "failed " + e.Tag() + " rule"
	}
}

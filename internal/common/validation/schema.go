// Package validation checks job variables against JSON Schemas before a worker acts on them.
package validation

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Schema is a compiled JSON Schema. Compile once per worker and share.
type Schema struct {
	raw string

	once     sync.Once
	compiled *gojsonschema.Schema
	err      error
}

func NewSchema(raw string) *Schema { return &Schema{raw: raw} }

// Compile reports a schema syntax error. Validate calls it lazily.
func (s *Schema) Compile() error {
	s.once.Do(func() {
		s.compiled, s.err = gojsonschema.NewSchema(gojsonschema.NewStringLoader(s.raw))
		if s.err != nil {
			s.err = fmt.Errorf("compile schema: %w", s.err)
		}
	})
	return s.err
}

// ValidateInput validates decoded job variables. Errors are sorted by field so messages
// are stable across runs.
func ValidateInput(input map[string]interface{}, schema *Schema) *ValidationResult {
	if err := schema.Compile(); err != nil {
		return &ValidationResult{Errors: []ValidationError{{Field: "(schema)", Message: err.Error(), Code: "SCHEMA_INVALID"}}}
	}

	res, err := schema.compiled.Validate(gojsonschema.NewGoLoader(input))
	if err != nil {
		return &ValidationResult{Errors: []ValidationError{{Field: "(root)", Message: err.Error(), Code: "INPUT_UNREADABLE"}}}
	}

	out := &ValidationResult{Valid: res.Valid()}
	for _, e := range res.Errors() {
		out.Errors = append(out.Errors, ValidationError{
			Field:   e.Field(),
			Message: e.Description(),
			Code:    e.Type(),
		})
	}
	sort.SliceStable(out.Errors, func(i, j int) bool { return out.Errors[i].Field < out.Errors[j].Field })
	return out
}

func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, 0, len(vr.Errors))
	for _, err := range vr.Errors {
		messages = append(messages, fmt.Sprintf("%s: %s", err.Field, err.Message))
	}
	return messages
}

func (vr *ValidationResult) HasErrors(field string) bool {
	for _, err := range vr.Errors {
		if err.Field == field {
			return true
		}
	}
	return false
}

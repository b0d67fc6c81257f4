// Package validation wraps a shared go-playground validator.
//
// Failures are returned as *Error, which unwraps to fault.ErrValidation so
// callers can map them without importing the validator.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"fieldquest/cmd/internal/fault"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// FieldError is one failed rule.
type FieldError struct {
	Field string
	Tag   string
	Param string
}

// Error collects field failures.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, message(f))
	}
	return strings.Join(parts, "; ")
}

func (e *Error) Unwrap() error { return fault.ErrValidation }

// Validator returns the shared instance; it caches struct metadata.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(jsonName)
	})
	return validate
}

// Struct validates s against its `validate` tags.
func Struct(s any) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return &Error{Fields: []FieldError{{Field: "unknown", Tag: err.Error()}}}
	}
	out := &Error{Fields: make([]FieldError, 0, len(ves))}
	for _, fe := range ves {
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Tag: fe.Tag(), Param: fe.Param()})
	}
	return out
}

func message(f FieldError) string {
	switch f.Tag {
	case "required":
		return fmt.Sprintf("%s is required", f.Field)
	case "max":
		return fmt.Sprintf("%s must be at most %s long", f.Field, f.Param)
	case "min":
		return fmt.Sprintf("%s must be at least %s long", f.Field, f.Param)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", f.Field, f.Param)
	case "gte", "lte", "gt", "lt":
		return fmt.Sprintf("%s is out of range", f.Field)
	default:
		return fmt.Sprintf("%s is invalid", f.Field)
	}
}

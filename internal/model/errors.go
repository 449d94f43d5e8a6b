package model

import (
	"errors"
	"fmt"
)

// ErrInvalidDocument is returned when a payload fails decoding or validation.
var ErrInvalidDocument = errors.New("invalid document")

// FieldError names the key that made a document invalid.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrInvalidDocument) match any FieldError.
func (e *FieldError) Is(target error) bool {
	return target == ErrInvalidDocument
}

func missing(field string) error {
	return &FieldError{Field: field, Reason: "is required"}
}

func invalid(field string, format string, args ...any) error {
	return &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

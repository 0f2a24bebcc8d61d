// Package errs defines the error taxonomy shared across testpulse.
//
// ParseError and StorageError are recovered where they happen and logged;
// NotFoundError and ValidationError travel up to the API, which maps them to
// 404 and 400 responses.
package errs

import (
	"errors"
	"fmt"
)

// ParseError reports an input file that could not be recognised or decoded.
type ParseError struct {
	Path   string
	Parser string // parser that claimed the file, empty when none did
	Err    error
}

func (e *ParseError) Error() string {
	if e.Parser == "" {
		return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("parse %s (%s): %v", e.Path, e.Parser, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StorageError reports a failed read or write of persisted state.
type StorageError struct {
	Op   string // "load", "save", "append", ...
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NotFoundError reports a lookup of an unknown resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// ValidationError reports a bad request parameter.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Invalid is shorthand for a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

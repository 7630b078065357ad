// Package errs defines the error kinds surfaced to tool callers.
//
// Every failure that crosses the tool boundary is one of three kinds:
// ValidationError (bad input, rejected before any side effect),
// StorageError (driver-level database failure) or LLMUnavailableError
// (the LLM service timed out, refused the connection or answered garbage).
package errs

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Kind names returned by Kind.
const (
	KindValidation     = "ValidationError"
	KindStorage        = "StorageError"
	KindLLMUnavailable = "LLMUnavailableError"
	KindInternal       = "InternalError"
)

// ValidationError reports input rejected before touching the database or the LLM.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Msg)
	}
	return e.Msg
}

// StorageError wraps a database driver failure. The original message is kept.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// LLMUnavailableError reports that the LLM service could not produce an answer.
type LLMUnavailableError struct {
	Model string
	Err   error
}

func (e *LLMUnavailableError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("model %s: %v", e.Model, e.Err)
	}
	return e.Err.Error()
}

func (e *LLMUnavailableError) Unwrap() error { return e.Err }

// Validation builds a ValidationError without a field name.
func Validation(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// InvalidField builds a ValidationError attached to a named field.
func InvalidField(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Storage wraps err as a StorageError for op. A nil err returns nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// LLMUnavailable wraps err as an LLMUnavailableError. A nil err returns nil.
func LLMUnavailable(model string, err error) error {
	if err == nil {
		return nil
	}
	var ue *LLMUnavailableError
	if errors.As(err, &ue) {
		return err
	}
	return &LLMUnavailableError{Model: model, Err: err}
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsStorage reports whether err is, or wraps, a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsLLMUnavailable reports whether err is, or wraps, an LLMUnavailableError.
func IsLLMUnavailable(err error) bool {
	var ue *LLMUnavailableError
	return errors.As(err, &ue)
}

// Kind classifies err for caller-facing text.
func Kind(err error) string {
	switch {
	case IsValidation(err):
		return KindValidation
	case IsLLMUnavailable(err):
		return KindLLMUnavailable
	case IsStorage(err):
		return KindStorage
	default:
		return KindInternal
	}
}

// Text renders err as "<Kind>: <message>", the form returned to tool callers.
func Text(err error) string {
	return Kind(err) + ": " + err.Error()
}

// Package errs defines the error taxonomy shared by the request-execution core.
//
// Every error produced by the builder, the engines and the orchestrator
// belongs to exactly one Kind. Callers classify errors with errors.Is against
// the exported sentinels, or with the Is* helpers.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error.
type Kind string

// Error kinds.
const (
	KindValidation    Kind = "VALIDATION"
	KindTransport     Kind = "TRANSPORT"
	KindConfiguration Kind = "CONFIGURATION"
	KindRollback      Kind = "ROLLBACK"
)

// Sentinels for errors.Is. Any *Error of the matching kind is reported as
// equal to its sentinel.
var (
	ErrValidation    = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrTransport     = &Error{Kind: KindTransport, Message: "transport failed"}
	ErrConfiguration = &Error{Kind: KindConfiguration, Message: "invalid configuration"}
	ErrRollback      = &Error{Kind: KindRollback, Message: "rollback failed"}
)

// Error is a classified error. Op names the operation that failed, for
// example "request.build" or "bulk.execute".
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(strings.ToLower(string(e.Kind)))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Validation creates a validation error.
func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Configuration creates a configuration error.
func Configuration(op, format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsTransport reports whether err is a transport error.
func IsTransport(err error) bool { return errors.Is(err, ErrTransport) }

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }

// IsRollback reports whether err is a rollback error.
func IsRollback(err error) bool { return errors.Is(err, ErrRollback) }

// IsFatal reports whether err must never be retried or swallowed.
func IsFatal(err error) bool {
	return IsValidation(err) || IsConfiguration(err) || IsRollback(err)
}

// MissingPathParameterError is returned when a path placeholder has no
// positional or keyword binding.
type MissingPathParameterError struct {
	Name string
	Path string
}

func (e *MissingPathParameterError) Error() string {
	return fmt.Sprintf("request.build: missing path parameter %q for %q", e.Name, e.Path)
}

// Is classifies the error as a validation error.
func (e *MissingPathParameterError) Is(target error) bool {
	return target == ErrValidation
}

// RollbackError is returned when a rollback hook fails. Trigger is the error
// that caused the batch to stop.
//
// Unwrap exposes Trigger, so the kind checks also match the trigger's kind:
// IsTransport is true when a transport failure stopped the batch. Check
// IsRollback first when classifying errors by kind.
type RollbackError struct {
	Trigger error
	Err     error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("bulk.rollback: rollback failed: %v (triggered by: %v)", e.Err, e.Trigger)
}

// Unwrap exposes both the hook failure and the trigger.
func (e *RollbackError) Unwrap() []error {
	return []error{e.Err, e.Trigger}
}

// Is classifies the error as a rollback error.
func (e *RollbackError) Is(target error) bool {
	return target == ErrRollback
}

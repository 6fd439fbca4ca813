// Package qerr defines the error taxonomy shared by the relation engine and
// its collaborators.
//
// Every error surfaced by relq is one of three kinds:
//   - CONFIGURATION: an unknown column, table, association or entity type was
//     referenced, or an operation is incompatible with the entity type.
//   - EXECUTION: the query engine rejected or failed to run a finished query.
//   - TYPE_CAST: a value returned by the engine could not be cast to the
//     expected column type.
//
// Errors are never retried or swallowed; they propagate to the caller of the
// triggering operation.
package qerr

import (
	"errors"
	"fmt"
)

// Code categorizes an Error.
type Code string

const (
	// CodeConfiguration indicates a bad reference or an unsupported operation.
	CodeConfiguration Code = "CONFIGURATION"

	// CodeExecution indicates the query engine failed to run a query.
	CodeExecution Code = "EXECUTION"

	// CodeTypeCast indicates a value could not be cast to a column type.
	CodeTypeCast Code = "TYPE_CAST"
)

// Error is the structured error type returned by relq packages.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Ref names the offending reference (column, association, type).
	Ref string

	// Query holds the rendered SQL for execution errors.
	Query string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Ref != "" {
		msg = fmt.Sprintf("%s (ref=%s)", msg, e.Ref)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Configuration creates a CONFIGURATION error for the given reference.
func Configuration(ref, format string, args ...any) *Error {
	return &Error{
		Code:    CodeConfiguration,
		Message: fmt.Sprintf(format, args...),
		Ref:     ref,
	}
}

// Execution wraps an engine failure together with the query that caused it.
func Execution(query string, err error) *Error {
	return &Error{
		Code:    CodeExecution,
		Message: "query failed",
		Query:   query,
		Err:     err,
	}
}

// TypeCast creates a TYPE_CAST error for a value that could not become target.
func TypeCast(value any, target string, err error) *Error {
	return &Error{
		Code:    CodeTypeCast,
		Message: fmt.Sprintf("cannot cast %T(%v) to %s", value, value, target),
		Err:     err,
	}
}

// IsConfiguration reports whether err is a CONFIGURATION error.
// Uses errors.As to handle wrapped errors.
func IsConfiguration(err error) bool {
	return hasCode(err, CodeConfiguration)
}

// IsExecution reports whether err is an EXECUTION error.
func IsExecution(err error) bool {
	return hasCode(err, CodeExecution)
}

// IsTypeCast reports whether err is a TYPE_CAST error.
func IsTypeCast(err error) bool {
	return hasCode(err, CodeTypeCast)
}

func hasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

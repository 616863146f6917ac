// Package apperr carries stable error codes across the library, HTTP and
// CLI boundaries.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable failure code.
type Code string

const (
	// Validation indicates a malformed request or a document that failed validation.
	Validation Code = "VALIDATION_ERROR"
	// PathForbidden indicates a patch touched a denied path.
	PathForbidden Code = "PATCH_PATH_FORBIDDEN"
	// VersionConflict indicates the expected version is not the stored one.
	VersionConflict Code = "VERSION_CONFLICT"
	NotFound        Code = "NOT_FOUND"
	// NoColumns indicates neither metadata nor rows produced a column.
	NoColumns  Code = "NO_COLUMNS"
	BadRequest Code = "BAD_REQUEST"
	Internal   Code = "INTERNAL_ERROR"
)

// Error is an error with a code, a message and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

// New creates an Error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// WithDetails attaches details to the error.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or Internal.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return Internal
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Body is the error member of a failure envelope.
type Body struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// FailureEnvelope is the wire shape of every failed response.
type FailureEnvelope struct {
	OK    bool `json:"ok"`
	Error Body `json:"error"`
}

// Envelope renders err as a failure envelope. Errors without a code are
// reported as INTERNAL_ERROR with their message.
func Envelope(err error) FailureEnvelope {
	var ae *Error
	if errors.As(err, &ae) {
		return FailureEnvelope{Error: Body{Code: ae.Code, Message: ae.Message, Details: ae.Details}}
	}
	return FailureEnvelope{Error: Body{Code: Internal, Message: err.Error()}}
}

// HTTPStatus maps a code to its HTTP status.
func HTTPStatus(code Code) int {
	switch code {
	case Validation, BadRequest, NoColumns:
		return http.StatusBadRequest
	case PathForbidden:
		return http.StatusForbidden
	case VersionConflict:
		return http.StatusConflict
	case NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

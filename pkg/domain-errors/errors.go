// Package domainerrors carries coded errors across service boundaries.
//
// Stores return sentinel facts (see pkg/platform/sentinel); services translate
// them into a coded Error so transports can pick a status without string
// matching. A coded Error may wrap a more precise cause, which stays reachable
// through errors.Is.
package domainerrors

import "errors"

// Code classifies a failure for callers and transports.
type Code string

const (
	// CodeBadRequest is a malformed request that never reached domain validation.
	CodeBadRequest Code = "bad_request"
	// CodeValidation is well-formed input that violates a domain rule.
	CodeValidation Code = "validation_error"
	// CodeConflict is input that collides with existing state (duplicates).
	CodeConflict Code = "conflict"
	// CodeNotFound is an unknown id, number, or address.
	CodeNotFound Code = "not_found"
	// CodeInvalidState is an operation attempted against the wrong lifecycle state.
	CodeInvalidState Code = "invalid_state"
	// CodeForbidden is a caller lacking the capability an operation requires.
	CodeForbidden Code = "forbidden"
	// CodeUnauthorized is a request without a usable caller identity.
	CodeUnauthorized Code = "unauthorized"
	// CodePaused is an operation rejected by the circuit breaker; retry later.
	CodePaused Code = "paused"
	// CodeTimeout is an operation abandoned because its context ended.
	CodeTimeout Code = "timeout"
	// CodeInvariantViolation is a model constructor refusing inconsistent data.
	CodeInvariantViolation Code = "invariant_violation"
	// CodeInternal is everything else.
	CodeInternal Code = "internal_error"
)

// Error is a coded domain error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a coded error without a cause.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to err. A nil err yields a plain coded error.
func Wrap(err error, code Code, msg string) error {
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the outermost code in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether the outermost coded error in err's chain has code.
func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	var de *Error
	if !errors.As(err, &de) {
		return false
	}
	return de.Code == code
}

// Is is shorthand for HasCode.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// Retryable reports whether the failure may succeed later without any change
// to the request itself.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodePaused, CodeTimeout:
		return true
	default:
		return false
	}
}

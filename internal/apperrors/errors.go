package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for callers. Codes are stable strings that appear
// in API responses and audit metadata.
type Code string

const (
	ErrCodeValidation         Code = "validation"
	ErrCodeConflict           Code = "conflict"
	ErrCodeInsufficientCredit Code = "insufficient_credit"
	ErrCodeInconsistentLedger Code = "inconsistent_ledger"
	ErrCodeInvariantViolation Code = "invariant_violation"
	ErrCodeOutOfRange         Code = "out_of_range"
	ErrCodeUnauthorizedGroup  Code = "unauthorized_group"
	ErrCodeNotFound           Code = "not_found"
	ErrCodeInternal           Code = "internal"
)

// Error is a coded error. The cause, if any, is preserved for errors.Is/As.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound reports that a resource does not exist.
func NotFound(resource, id string) *Error {
	return Newf(ErrCodeNotFound, "%s '%s' not found", resource, id)
}

// InvalidInput reports a caller-correctable validation failure on one field.
func InvalidInput(field, message string) *Error {
	return Newf(ErrCodeValidation, "%s: %s", field, message)
}

// CodeOf extracts the code from an error chain. Uncoded errors map to internal.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps an error to the HTTP status the API surface should return.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeValidation, ErrCodeOutOfRange:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeUnauthorizedGroup:
		return http.StatusForbidden
	case ErrCodeInsufficientCredit:
		return http.StatusUnprocessableEntity
	case ErrCodeInconsistentLedger, ErrCodeInvariantViolation:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

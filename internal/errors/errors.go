package errors

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a class of failure
type ErrorCode string

// Error is an error carrying an ErrorCode
type Error interface {
	error
	Code() ErrorCode
	WithMessage(msg string) Error
	Unwrap() error
}

// Basic error check functions from standard library
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
)

const (
	ErrInternal          ErrorCode = "internal_error"
	ErrInvalidConfig     ErrorCode = "invalid_configuration"
	ErrTransientTimeout  ErrorCode = "transient_timeout"
	ErrAuthentication    ErrorCode = "authentication_failed"
	ErrSampleTimeout     ErrorCode = "sample_timeout"
	ErrMalformedPayload  ErrorCode = "malformed_payload"
	ErrDeviceHTTP        ErrorCode = "device_http_error"
	ErrDeviceUnreachable ErrorCode = "device_unreachable"
	ErrSinkWrite         ErrorCode = "sink_write_failed"
	ErrSinkQuery         ErrorCode = "sink_query_failed"
	ErrCacheAccess       ErrorCode = "cache_access_failed"
	ErrIdentityHTTP      ErrorCode = "identity_http_error"
	ErrNotImplemented    ErrorCode = "not_implemented"
	ErrResourceNotFound  ErrorCode = "resource_not_found"
	ErrOperationCanceled ErrorCode = "operation_canceled"
)

var errorMessages = map[ErrorCode]string{
	ErrInternal:          "Internal error occurred",
	ErrInvalidConfig:     "Invalid configuration",
	ErrTransientTimeout:  "Request timed out",
	ErrAuthentication:    "Authentication failed",
	ErrSampleTimeout:     "Sample collection timed out.",
	ErrMalformedPayload:  "Malformed payload",
	ErrDeviceHTTP:        "Gateway returned an error status",
	ErrDeviceUnreachable: "Gateway unreachable",
	ErrSinkWrite:         "Failed to write records",
	ErrSinkQuery:         "Failed to query aggregate",
	ErrCacheAccess:       "Failed to access token cache",
	ErrIdentityHTTP:      "Identity provider returned an error status",
	ErrNotImplemented:    "Operation not implemented",
	ErrResourceNotFound:  "Resource not found",
	ErrOperationCanceled: "Operation canceled",
}

// GetErrorMessage returns the default message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}

type appError struct {
	code    ErrorCode
	message string
	err     error
}

func (e *appError) Error() string {
	msg := e.message
	if msg == "" {
		msg = GetErrorMessage(e.code)
	}

	if e.err != nil {
		return fmt.Sprintf("%s: %v", msg, e.err)
	}

	return msg
}

func (e *appError) Code() ErrorCode {
	return e.code
}

func (e *appError) WithMessage(msg string) Error {
	return &appError{
		code:    e.code,
		message: msg,
		err:     e.err,
	}
}

func (e *appError) Unwrap() error {
	return e.err
}

// New creates an error with the default message of code
func New(code ErrorCode) Error {
	return &appError{code: code}
}

// Newf creates an error with a formatted message
func Newf(code ErrorCode, format string, args ...any) Error {
	return &appError{code: code, message: fmt.Sprintf(format, args...)}
}

// Wrap attaches code to err
func Wrap(code ErrorCode, err error) Error {
	return &appError{code: code, err: err}
}

// CodeOf returns the code of the outermost coded error in err's chain, or
// the empty code when there is none.
func CodeOf(err error) ErrorCode {
	var e Error
	if errors.As(err, &e) {
		return e.Code()
	}
	return ""
}

// HasCode reports whether any error in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if e, ok := err.(Error); ok && e.Code() == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

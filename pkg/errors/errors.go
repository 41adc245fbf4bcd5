// Package errors provides the error taxonomy shared by the plant storage backends,
// the query analyzer and the tooling built around them.
package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Error codes.
const (
	CodeValidation       = "VALIDATION_FAILED"
	CodeInvalidArgument  = "INVALID_ARGUMENT"
	CodeUnknownAttribute = "UNKNOWN_ATTRIBUTE"
	CodeTypeMismatch     = "TYPE_MISMATCH"
	CodeConnectionFailed = "CONNECTION_FAILED"
	CodeParseFailed      = "PARSE_FAILED"
	CodeQueryFailed      = "QUERY_FAILED"
	CodeNotFound         = "NOT_FOUND"
	CodeInternal         = "INTERNAL_ERROR"
)

// Error carries a code, a message, optional details and the underlying cause.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetails replaces the error details.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// WithDetail adds a single detail to the error.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates an Error with the given code and message.
func New(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates an Error with a formatted message.
func Newf(code, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps err with a code and message. It returns nil for a nil err.
func Wrap(err error, code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps err with a formatted message.
func Wrapf(err error, code, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// WrapDB wraps a driver error. Connection-level failures become
// CONNECTION_FAILED, everything else QUERY_FAILED. Errors that already carry
// a code are returned unchanged.
func WrapDB(err error, message string) error {
	if err == nil {
		return nil
	}
	var coded *Error
	if errors.As(err, &coded) {
		return err
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.SafeToRetry(err) {
		return Wrap(err, CodeConnectionFailed, message)
	}
	return Wrap(err, CodeQueryFailed, message)
}

// GetCode extracts the error code, defaulting to CodeInternal.
func GetCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// GetMessage extracts the error message.
func GetMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

func hasCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool { return hasCode(err, CodeValidation) }

// IsInvalidArgument reports whether err is an InvalidArgument error.
func IsInvalidArgument(err error) bool { return hasCode(err, CodeInvalidArgument) }

// IsUnknownAttribute reports whether err is an UnknownAttribute error.
func IsUnknownAttribute(err error) bool { return hasCode(err, CodeUnknownAttribute) }

// IsTypeMismatch reports whether err is a TypeMismatch error.
func IsTypeMismatch(err error) bool { return hasCode(err, CodeTypeMismatch) }

// IsConnection reports whether err is a ConnectionError.
func IsConnection(err error) bool { return hasCode(err, CodeConnectionFailed) }

// IsParse reports whether err is a ParseError.
func IsParse(err error) bool { return hasCode(err, CodeParseFailed) }

// IsNotFound reports whether err is a not found error.
func IsNotFound(err error) bool { return hasCode(err, CodeNotFound) }

// Package errors provides coded application errors shared by the repository,
// service and transport layers.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies an AppError.
type ErrorCode string

const (
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeValidationRejected ErrorCode = "VALIDATION_REJECTED"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodePermissionDenied   ErrorCode = "PERMISSION_DENIED"
	ErrCodeUnavailable        ErrorCode = "UNAVAILABLE"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeInternal           ErrorCode = "INTERNAL"
)

// AppError is an error carrying a machine-readable code.
type AppError struct {
	Code    ErrorCode
	Message string
	Field   string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an AppError with the given code.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap annotates err with a code and message. A nil err yields nil.
func Wrap(err error, code ErrorCode, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource of the given kind.
func NotFound(kind, id string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s not found: %s", kind, id)}
}

// InvalidInput reports a malformed request field.
func InvalidInput(field, message string) *AppError {
	return &AppError{Code: ErrCodeInvalidInput, Message: fmt.Sprintf("invalid %s: %s", field, message), Field: field}
}

// Rejected reports a failed workflow precondition. The reason is shown to the actor.
func Rejected(reason string) *AppError {
	return &AppError{Code: ErrCodeValidationRejected, Message: reason}
}

// PermissionDenied reports a write refused by access rules.
func PermissionDenied(message string) *AppError {
	return &AppError{Code: ErrCodePermissionDenied, Message: message}
}

// Unavailable reports a transient infrastructure failure.
func Unavailable(err error, message string) error {
	return Wrap(err, ErrCodeUnavailable, message)
}

// CodeOf returns the code of the outermost AppError in err's chain,
// or ErrCodeInternal when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// As is re-exported so callers do not need both errors packages.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

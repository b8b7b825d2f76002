// Package errors defines the typed failures returned by the fulfillment core.
//
// Every failure carries a Code. Callers match on the code with Is against the
// exported sentinels (errors.Is(err, errors.ErrOverFulfillment)) or read it with
// CodeOf. Only ErrCodeLockContention is retryable.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code classifies an error.
type Code string

const (
	ErrCodeValidation        Code = "VALIDATION"
	ErrCodeInvalidQuantity   Code = "INVALID_QUANTITY"
	ErrCodeInvalidTransition Code = "INVALID_TRANSITION"
	ErrCodeAlreadyDecided    Code = "ALREADY_DECIDED"
	ErrCodeOverFulfillment   Code = "OVER_FULFILLMENT"
	ErrCodeUnderflow         Code = "UNDERFLOW"
	ErrCodeLockContention    Code = "LOCK_CONTENTION"
	ErrCodeNotFound          Code = "NOT_FOUND"
	ErrCodeInternal          Code = "INTERNAL"
)

// Sentinels for use with Is. They carry no message.
var (
	ErrValidation        = &Error{Code: ErrCodeValidation}
	ErrInvalidQuantity   = &Error{Code: ErrCodeInvalidQuantity}
	ErrInvalidTransition = &Error{Code: ErrCodeInvalidTransition}
	ErrAlreadyDecided    = &Error{Code: ErrCodeAlreadyDecided}
	ErrOverFulfillment   = &Error{Code: ErrCodeOverFulfillment}
	ErrUnderflow         = &Error{Code: ErrCodeUnderflow}
	ErrLockContention    = &Error{Code: ErrCodeLockContention}
	ErrNotFound          = &Error{Code: ErrCodeNotFound}
	ErrInternal          = &Error{Code: ErrCodeInternal}
)

// Error is the single error type of the service.
type Error struct {
	Code    Code
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on code. An invalid quantity is also a validation failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == e.Code {
		return true
	}
	return t.Code == ErrCodeValidation && e.Code == ErrCodeInvalidQuantity
}

// New creates an error with the given code and message
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// InvalidInput reports malformed input on a named field
func InvalidInput(field, message string) *Error {
	return &Error{Code: ErrCodeValidation, Field: field, Message: message}
}

// InvalidQuantity reports a non-positive or otherwise unusable quantity
func InvalidQuantity(field, message string) *Error {
	return &Error{Code: ErrCodeInvalidQuantity, Field: field, Message: message}
}

// NotFound reports an unknown resource id
func NotFound(resource, id string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

// LockContention reports a concurrent mutation of the same order
func LockContention(orderID string) *Error {
	return &Error{Code: ErrCodeLockContention, Message: fmt.Sprintf("order %q is being modified concurrently, retry", orderID)}
}

// Wrap attaches a code and message to an underlying error
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrCodeInternal for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// Retryable reports whether the caller should retry err with backoff.
func Retryable(err error) bool {
	return Is(err, ErrLockContention)
}

// Is is errors.Is from the standard library.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As is errors.As from the standard library.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a convo error code.
type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST" // 400
	ErrUnknownTag     ErrorCode = "UNKNOWN_TAG"     // 400
	ErrNotFound       ErrorCode = "NOT_FOUND"       // 404
	ErrInvalidMessage ErrorCode = "INVALID_MESSAGE" // 422
	ErrInternal       ErrorCode = "INTERNAL"        // 500
)

// ConvoError represents a structured error with code, status, and details.
type ConvoError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *ConvoError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *ConvoError {
	return &ConvoError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewUnknownTag creates a 400 error for a tag outside the enumerated set.
func NewUnknownTag(tag string) *ConvoError {
	return &ConvoError{
		Code:    ErrUnknownTag,
		Status:  400,
		Message: fmt.Sprintf("unknown message tag: %q", tag),
		Details: map[string]any{"tag": tag},
	}
}

// NewNotFound creates a 404 error for a missing message key or tracked file.
func NewNotFound(kind, identifier string) *ConvoError {
	return &ConvoError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewInvalidMessage creates a 422 error for a message payload that fails validation.
func NewInvalidMessage(reason string) *ConvoError {
	return &ConvoError{
		Code:    ErrInvalidMessage,
		Status:  422,
		Message: fmt.Sprintf("invalid message: %s", reason),
		Details: map[string]any{"reason": reason},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *ConvoError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &ConvoError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// As finds the first ConvoError in err's chain.
func As(err error) (*ConvoError, bool) {
	var cErr *ConvoError
	if stderrors.As(err, &cErr) {
		return cErr, true
	}
	return nil, false
}

// Is checks if an error, or any error it wraps, is a ConvoError with the
// given code.
func Is(err error, code ErrorCode) bool {
	if cErr, ok := As(err); ok {
		return cErr.Code == code
	}
	return false
}

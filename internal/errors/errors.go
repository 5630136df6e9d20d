package errors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Common error types that can be used across the application
var (
	ErrNotFound       = new(ErrCodeNotFound, "resource not found")
	ErrAlreadyExists  = new(ErrCodeAlreadyExists, "resource already exists")
	ErrValidation     = new(ErrCodeValidation, "validation error")
	ErrReconciliation = new(ErrCodeReconciliation, "reconciliation error")
	ErrHTTPClient     = new(ErrCodeHTTPClient, "http client error")
	ErrSystem         = new(ErrCodeSystemError, "system error")
)

const (
	ErrCodeHTTPClient     = "http_client_error"
	ErrCodeSystemError    = "system_error"
	ErrCodeNotFound       = "not_found"
	ErrCodeAlreadyExists  = "already_exists"
	ErrCodeValidation     = "validation_error"
	ErrCodeReconciliation = "reconciliation_error"
)

// InternalError represents a domain error
type InternalError struct {
	Code    string // Machine-readable error code
	Message string // Human-readable error message
	Err     error  // Underlying error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is implements error matching for wrapped errors
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}

	return e.Code == t.Code
}

func new(code string, message string) *InternalError {
	return &InternalError{
		Code:    code,
		Message: message,
	}
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func Is(err error, reference error) bool {
	return errors.Is(err, reference)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsReconciliation checks if an error is a reconciliation error
func IsReconciliation(err error) bool {
	return errors.Is(err, ErrReconciliation)
}

// IsHTTPClient checks if an error is an http client error
func IsHTTPClient(err error) bool {
	return errors.Is(err, ErrHTTPClient)
}

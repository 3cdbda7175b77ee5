package history

import (
	"errors"
	"fmt"
)

// ErrorCode classifies store failures for callers that need more than a
// message. Parse failures on individual legacy entries during migration are
// not represented here; those are recovered in place and only logged.
type ErrorCode string

const (
	ErrorInitFailed      ErrorCode = "INIT_FAILED"
	ErrorReadFailed      ErrorCode = "READ_FAILED"
	ErrorWriteFailed     ErrorCode = "WRITE_FAILED"
	ErrorMigrationFailed ErrorCode = "MIGRATION_FAILED"
	ErrorNotFound        ErrorCode = "NOT_FOUND"
)

// StoreError is the typed error every store operation surfaces. The store
// performs no retries; retry policy belongs to the caller.
type StoreError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

func newInitError(message string, cause error) *StoreError {
	return &StoreError{Code: ErrorInitFailed, Message: message, Cause: cause}
}

func newReadError(message string, cause error) *StoreError {
	return &StoreError{Code: ErrorReadFailed, Message: message, Cause: cause}
}

func newWriteError(message string, cause error) *StoreError {
	return &StoreError{Code: ErrorWriteFailed, Message: message, Cause: cause}
}

func newMigrationError(message string, cause error) *StoreError {
	return &StoreError{Code: ErrorMigrationFailed, Message: message, Cause: cause}
}

func newNotFoundError(id string) *StoreError {
	return &StoreError{Code: ErrorNotFound, Message: fmt.Sprintf("no result with id %q", id)}
}

// CodeOf extracts the ErrorCode from err, or "" when err is not a StoreError.
func CodeOf(err error) ErrorCode {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsNotFound reports whether err means the requested record does not exist.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrorNotFound
}

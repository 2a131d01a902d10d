package sync

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes delivery and run failures.
type ErrorCode string

const (
	// ErrCodeTransient indicates a network or remote-service failure.
	// Retryable; drives the retry counter.
	ErrCodeTransient ErrorCode = "TRANSIENT"

	// ErrCodeIntegrity indicates local state that contradicts itself, such
	// as a LOCAL file whose bytes are missing. Retrying the same path will
	// not help; operator remediation is required.
	ErrCodeIntegrity ErrorCode = "INTEGRITY"

	// ErrCodeConfig indicates missing or invalid external-system
	// configuration. Fails the whole run before any record is attempted.
	ErrCodeConfig ErrorCode = "CONFIG"
)

// SyncError is a categorized failure raised by a reconciliation strategy.
type SyncError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable delivery failure.
func Transient(message string, err error) *SyncError {
	return &SyncError{Code: ErrCodeTransient, Message: message, Err: err}
}

// Integrity reports a non-retryable local data inconsistency.
func Integrity(message string, err error) *SyncError {
	return &SyncError{Code: ErrCodeIntegrity, Message: message, Err: err}
}

// Config reports a run-aborting configuration problem.
func Config(message string, err error) *SyncError {
	return &SyncError{Code: ErrCodeConfig, Message: message, Err: err}
}

func codeOf(err error) ErrorCode {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	// Uncategorized errors are treated as transient so they stay retryable.
	return ErrCodeTransient
}

// IsConfig reports whether err is a configuration error.
func IsConfig(err error) bool {
	return codeOf(err) == ErrCodeConfig
}

// IsIntegrity reports whether err is a data integrity error.
func IsIntegrity(err error) bool {
	return codeOf(err) == ErrCodeIntegrity
}

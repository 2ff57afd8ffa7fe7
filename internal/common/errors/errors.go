// Package errors provides standardized error handling for the members service.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Token / magic-link errors
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"

	// Member repository errors
	ErrCodeEmailConflict  ErrorCode = "EMAIL_CONFLICT"
	ErrCodeMemberNotFound ErrorCode = "MEMBER_NOT_FOUND"

	// Webhook reconciliation errors
	ErrCodeWebhookAuthFailed ErrorCode = "WEBHOOK_AUTH_FAILED"

	// Infrastructure errors
	ErrCodeStorageError       ErrorCode = "STORAGE_ERROR"
	ErrCodeDependencyDegraded ErrorCode = "DEPENDENCY_DEGRADED"
	ErrCodeValidationFailed   ErrorCode = "VALIDATION_FAILED"
	ErrCodeInternalError      ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// AsStandard extracts a StandardError from err, wrapping unknown errors as
// INTERNAL_ERROR so callers always have a code to map.
func AsStandard(err error) *StandardError {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr
	}
	return &StandardError{
		Code:      ErrCodeInternalError,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code == code
	}
	return false
}

// ==========================
// 2. Error Constructors
// ==========================

// NewInvalidTokenError creates a non-retryable token verification error.
// Covers bad signatures, expired tokens, wrong purpose and consumed links.
func NewInvalidTokenError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidToken,
		Message:   "Token is invalid or expired",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewEmailConflictError creates a non-retryable uniqueness violation error.
func NewEmailConflictError(email string) *StandardError {
	return &StandardError{
		Code:      ErrCodeEmailConflict,
		Message:   "Email is already taken by another member",
		Details:   fmt.Sprintf("email: %s", email),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewMemberNotFoundError creates a non-retryable lookup error.
func NewMemberNotFoundError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMemberNotFound,
		Message:   "Member not found",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewWebhookAuthFailedError creates a non-retryable signature verification error.
// The payload must never be processed after this.
func NewWebhookAuthFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeWebhookAuthFailed,
		Message:   "Webhook signature verification failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewStorageError creates a retryable storage-layer error. Surfacing it as a
// 5xx lets the billing processor re-deliver the same event id, which is safe
// because application is idempotent.
func NewStorageError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStorageError,
		Message:   "Storage operation failed",
		Details:   fmt.Sprintf("op: %s, error: %s", op, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDependencyDegradedError creates an error for best-effort collaborators
// (geolocation, mail). Callers log it and proceed.
func NewDependencyDegradedError(dependency string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDependencyDegraded,
		Message:   "Best-effort dependency unavailable",
		Details:   fmt.Sprintf("dependency: %s, error: %s", dependency, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewValidationFailedError creates a non-retryable input validation error.
func NewValidationFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Request validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

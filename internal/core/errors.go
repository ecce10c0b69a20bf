package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid input
	ErrCatNotFound   ErrorCategory = "not_found"  // Resource not found
	ErrCatConflict   ErrorCategory = "conflict"   // Concurrent modification or duplicate
	ErrCatAuth       ErrorCategory = "auth"       // Authentication failure
	ErrCatTimeout    ErrorCategory = "timeout"    // Operation timed out
	ErrCatNetwork    ErrorCategory = "network"    // Upstream unreachable
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category: ErrCatValidation,
		Code:     code,
		Message:  message,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category: ErrCatNotFound,
		Code:     "NOT_FOUND",
		Message:  fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// ErrConflict creates a conflict error.
func ErrConflict(code, message string) *DomainError {
	return &DomainError{
		Category: ErrCatConflict,
		Code:     code,
		Message:  message,
	}
}

// ErrAuth creates an authentication error.
func ErrAuth(message string) *DomainError {
	return &DomainError{
		Category: ErrCatAuth,
		Code:     "AUTH_FAILED",
		Message:  message,
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      "TIMEOUT",
		Message:   message,
		Retryable: true,
	}
}

// ErrNetwork creates an upstream-unreachable error.
func ErrNetwork(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatNetwork,
		Code:      "UPSTREAM_UNREACHABLE",
		Message:   message,
		Retryable: true,
	}
}

// ErrInternal creates an internal error.
func ErrInternal(message string, cause error) *DomainError {
	return &DomainError{
		Category: ErrCatInternal,
		Code:     "INTERNAL",
		Message:  message,
		Cause:    cause,
	}
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// Predefined error codes.
const (
	CodeProjectNotFound   = "PROJECT_NOT_FOUND"
	CodeTaskNotFound      = "TASK_NOT_FOUND"
	CodeRunNotFound       = "RUN_NOT_FOUND"
	CodeColumnNotFound    = "COLUMN_NOT_FOUND"
	CodeColumnOccupied    = "COLUMN_OCCUPIED"
	CodeWIPLimitReached   = "WIP_LIMIT_REACHED"
	CodeNoColumns         = "NO_COLUMNS_CONFIGURED"
	CodeUnknownStatus     = "UNKNOWN_STATUS"
	CodeNotClaimable      = "NOT_CLAIMABLE"
	CodeClaimedByOther    = "CLAIMED_BY_OTHER_AGENT"
	CodeSelfDependency    = "SELF_DEPENDENCY"
	CodeDuplicateEdge     = "DUPLICATE_DEPENDENCY"
	CodeDependencyCycle   = "DEPENDENCY_CYCLE"
	CodeCrossProjectEdge  = "CROSS_PROJECT_DEPENDENCY"
	CodeStageSkipped      = "STAGE_NOT_IN_WORKFLOW"
	CodeWorktreeTimeout   = "WORKTREE_TIMEOUT"
	CodeMergeRejected     = "MERGE_REJECTED"
	CodeNoInstallation    = "NO_APP_INSTALLATION"
	CodeImportUnknownTask = "IMPORT_UNKNOWN_TASK"
)

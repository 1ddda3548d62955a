// Package errors provides a structured error system for statdash with error codes, categories, and context.
package errors

import (
	stderr "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a structured error code for statdash operations.
type ErrorCode string

const (
	// Configuration errors
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Cache errors
	ErrCodeCacheDeserialize ErrorCode = "CACHE_DESERIALIZE"
	ErrCodeCachePersist     ErrorCode = "CACHE_PERSIST"
	ErrCodeCacheKeyInvalid  ErrorCode = "CACHE_KEY_INVALID"
	ErrCodePreloadRejected  ErrorCode = "PRELOAD_REJECTED"
	ErrCodePreloadUnknown   ErrorCode = "PRELOAD_UNKNOWN_JOB"

	// Source errors
	ErrCodeSourceNotFound    ErrorCode = "SOURCE_NOT_FOUND"
	ErrCodeSourceRead        ErrorCode = "SOURCE_READ"
	ErrCodeSourceUnavailable ErrorCode = "SOURCE_UNAVAILABLE"

	// Catalog errors
	ErrCodeCatalogInvalid  ErrorCode = "CATALOG_INVALID"
	ErrCodeCatalogNotFound ErrorCode = "CATALOG_NOT_FOUND"

	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryCache         ErrorCategory = "cache"
	CategorySource        ErrorCategory = "source"
	CategoryCatalog       ErrorCategory = "catalog"
	CategoryInternal      ErrorCategory = "internal"
)

// Error is a structured error carrying a code and the component that raised it.
type Error struct {
	Code      ErrorCode
	Category  ErrorCategory
	Message   string
	Component string
	Operation string
	Key       string
	Retryable bool
	Cause     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	if e.Component != "" {
		sb.WriteString("[")
		sb.WriteString(e.Component)
		if e.Operation != "" {
			sb.WriteString(":")
			sb.WriteString(e.Operation)
		}
		sb.WriteString("] ")
	}
	sb.WriteString(string(e.Code))
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Key != "" {
		fmt.Fprintf(&sb, " (key=%q)", e.Key)
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if stderr.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// New creates an error with defaults derived from the code.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Retryable: IsRetryableByDefault(code),
	}
}

// Wrap creates an error with the given cause.
func Wrap(cause error, code ErrorCode, message string) *Error {
	return New(code, message).WithCause(cause)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	s := string(code)
	switch {
	case strings.HasPrefix(s, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(s, "CACHE_"), strings.HasPrefix(s, "PRELOAD_"):
		return CategoryCache
	case strings.HasPrefix(s, "SOURCE_"):
		return CategorySource
	case strings.HasPrefix(s, "CATALOG_"):
		return CategoryCatalog
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeSourceUnavailable, ErrCodeInternalError:
		return true
	default:
		return false
	}
}

// WithComponent sets the component for an error
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithKey records the cache or source key involved.
func (e *Error) WithKey(key string) *Error {
	e.Key = key
	return e
}

// WithCause sets the underlying cause
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable overrides the default retry hint.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderr.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err's chain contains an *Error with the given code.
func HasCode(err error, code ErrorCode) bool {
	return stderr.Is(err, &Error{Code: code})
}

// IsRetryable reports whether err's chain carries a retryable *Error.
func IsRetryable(err error) bool {
	var e *Error
	if stderr.As(err, &e) {
		return e.Retryable
	}
	return false
}

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents internal error codes for log store operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Client errors (4xx equivalent)
	ErrCodeInvalidArgument ErrorCode = 1000
	ErrCodeInvalidLevel    ErrorCode = 1001

	// Server errors (5xx equivalent)
	ErrCodeInternal      ErrorCode = 2000
	ErrCodeConfiguration ErrorCode = 2001
	ErrCodeConnection    ErrorCode = 2002
	ErrCodeWriteFailed   ErrorCode = 2003
	ErrCodeQueryFailed   ErrorCode = 2004
	ErrCodeClosed        ErrorCode = 2005
)

// String returns the wire name of the code
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "OK"
	case ErrCodeInvalidArgument:
		return "INVALID_REQUEST"
	case ErrCodeInvalidLevel:
		return "INVALID_LEVEL"
	case ErrCodeConfiguration:
		return "CONFIGURATION_ERROR"
	case ErrCodeConnection:
		return "CONNECTION_ERROR"
	case ErrCodeWriteFailed:
		return "STORAGE_WRITE_ERROR"
	case ErrCodeQueryFailed:
		return "STORAGE_QUERY_ERROR"
	case ErrCodeClosed:
		return "STORE_CLOSED"
	default:
		return "INTERNAL_ERROR"
	}
}

// StorageError represents a structured error with code and context
type StorageError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps internal error codes to HTTP status codes
func (e *StorageError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeOK:
		return http.StatusOK
	case ErrCodeInvalidArgument, ErrCodeInvalidLevel:
		return http.StatusBadRequest
	case ErrCodeConnection, ErrCodeClosed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewStorageError creates a new StorageError
func NewStorageError(code ErrorCode, message string, cause error) *StorageError {
	return &StorageError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *StorageError) WithDetail(key string, value interface{}) *StorageError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeInvalidArgument, message, cause)
}

func InvalidLevel(level, reason string) *StorageError {
	return NewStorageError(ErrCodeInvalidLevel, fmt.Sprintf("invalid level '%s': %s", level, reason), nil).
		WithDetail("level", level).
		WithDetail("reason", reason)
}

func Configuration(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeConfiguration, message, cause)
}

func Connection(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeConnection, message, cause)
}

func StorageWrite(collection string, cause error) *StorageError {
	return NewStorageError(ErrCodeWriteFailed, fmt.Sprintf("write to collection %s failed", collection), cause).
		WithDetail("collection", collection)
}

func StorageQuery(collection string, cause error) *StorageError {
	return NewStorageError(ErrCodeQueryFailed, fmt.Sprintf("query on collection %s failed", collection), cause).
		WithDetail("collection", collection)
}

func Closed(operation string) *StorageError {
	return NewStorageError(ErrCodeClosed, fmt.Sprintf("%s: store is closed", operation), nil).
		WithDetail("operation", operation)
}

// IsStorageError checks if an error is, or wraps, a StorageError
func IsStorageError(err error) bool {
	var se *StorageError
	return stderrors.As(err, &se)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var se *StorageError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code
func Is(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

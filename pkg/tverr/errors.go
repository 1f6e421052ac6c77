// Package tverr provides error codes and error types shared across the
// engine. It is a leaf package with no internal dependencies, designed to be
// imported by the store backends, the downloader, and the region manager
// without causing circular imports.
package tverr

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred.
type ErrorCode int

const (
	// ErrNotFound indicates the requested resource or region does not exist.
	ErrNotFound ErrorCode = iota + 1

	// ErrNetwork indicates a fetch failed after exhausting retries, or was
	// rejected by the origin.
	ErrNetwork

	// ErrQuotaExceeded indicates the global offline tile-count limit was hit.
	ErrQuotaExceeded

	// ErrInvalidRegionDefinition indicates a region definition failed validation.
	ErrInvalidRegionDefinition

	// ErrRegionNotFound indicates the referenced offline region does not exist.
	ErrRegionNotFound

	// ErrRegionState indicates an operation is not allowed in the region's
	// current state, such as deleting an active region.
	ErrRegionState

	// ErrStorageCorruption indicates the persistent store was corrupt and has
	// been reset to empty.
	ErrStorageCorruption

	// ErrCanceled indicates the operation was canceled before completion.
	ErrCanceled

	// ErrIO indicates an I/O failure in the persistent store.
	ErrIO

	// ErrInvalidArgument indicates an invalid argument was provided.
	ErrInvalidArgument
)

// String returns a human-readable name for the error code.
func (e ErrorCode) String() string {
	switch e {
	case ErrNotFound:
		return "NotFound"
	case ErrNetwork:
		return "Network"
	case ErrQuotaExceeded:
		return "QuotaExceeded"
	case ErrInvalidRegionDefinition:
		return "InvalidRegionDefinition"
	case ErrRegionNotFound:
		return "RegionNotFound"
	case ErrRegionState:
		return "RegionState"
	case ErrStorageCorruption:
		return "StorageCorruption"
	case ErrCanceled:
		return "Canceled"
	case ErrIO:
		return "IO"
	case ErrInvalidArgument:
		return "InvalidArgument"
	default:
		return fmt.Sprintf("Unknown(%d)", int(e))
	}
}

// Error represents an engine error with an error code. Key carries the
// affected resource key or region reference when one exists.
type Error struct {
	Code    ErrorCode
	Message string
	Key     string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: %s (key: %s)", e.Code, e.Message, e.Key)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeOf returns the error code carried by err, or 0 when err is not an
// engine error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// NewNotFoundError creates a NotFound error for a resource key.
func NewNotFoundError(key string) *Error {
	return &Error{
		Code:    ErrNotFound,
		Message: "resource not found",
		Key:     key,
	}
}

// NewNetworkError creates a Network error. The cause is folded into the
// message so callers match on the code, not on wrapped sentinels.
func NewNetworkError(key string, cause error) *Error {
	msg := "network failure"
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Code:    ErrNetwork,
		Message: msg,
		Key:     key,
	}
}

// NewQuotaExceededError creates a QuotaExceeded error for the configured
// tile-count limit.
func NewQuotaExceededError(limit int64) *Error {
	return &Error{
		Code:    ErrQuotaExceeded,
		Message: fmt.Sprintf("offline tile count limit reached (max: %d)", limit),
	}
}

// NewInvalidRegionDefinitionError creates an InvalidRegionDefinition error.
func NewInvalidRegionDefinitionError(message string) *Error {
	return &Error{
		Code:    ErrInvalidRegionDefinition,
		Message: message,
	}
}

// NewRegionNotFoundError creates a RegionNotFound error.
func NewRegionNotFoundError(id int64) *Error {
	return &Error{
		Code:    ErrRegionNotFound,
		Message: "offline region not found",
		Key:     fmt.Sprintf("region/%d", id),
	}
}

// NewRegionStateError creates a RegionState error.
func NewRegionStateError(id int64, message string) *Error {
	return &Error{
		Code:    ErrRegionState,
		Message: message,
		Key:     fmt.Sprintf("region/%d", id),
	}
}

// NewStorageCorruptionError creates a StorageCorruption error.
func NewStorageCorruptionError(path string, cause error) *Error {
	msg := "storage corrupt, reset to empty"
	if cause != nil {
		msg = fmt.Sprintf("storage corrupt, reset to empty: %v", cause)
	}
	return &Error{
		Code:    ErrStorageCorruption,
		Message: msg,
		Key:     path,
	}
}

// NewCanceledError creates a Canceled error.
func NewCanceledError(key string) *Error {
	return &Error{
		Code:    ErrCanceled,
		Message: "operation canceled",
		Key:     key,
	}
}

// NewIOError creates an IO error.
func NewIOError(message string, cause error) *Error {
	if cause != nil {
		message = fmt.Sprintf("%s: %v", message, cause)
	}
	return &Error{
		Code:    ErrIO,
		Message: message,
	}
}

// NewInvalidArgumentError creates an InvalidArgument error.
func NewInvalidArgumentError(message string) *Error {
	return &Error{
		Code:    ErrInvalidArgument,
		Message: message,
	}
}

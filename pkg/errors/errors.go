// Package errors defines unified error types for the cache subsystem.
// Every failure that can come out of the entry store, the connection
// manager, or the file cache is mapped to one of these types so the
// orchestration layer can collapse them to a miss in a single place.
package errors

import (
	"errors"
	"fmt"
)

// CacheError represents a classified failure inside the cache subsystem.
type CacheError struct {
	Type      string `json:"type"`
	Op        string `json:"op"`      // operation that failed (get, put, dial, sweep, ...)
	Key       string `json:"key"`     // cache key involved, if any
	Message   string `json:"message"`
	Retryable bool   `json:"-"`
	Err       error  `json:"-"` // wrapped cause
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("[%s] %s: %s (key=%s)", e.Type, e.Op, e.Message, e.Key)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Op, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *CacheError) Unwrap() error {
	return e.Err
}

// Error types as constants for consistency.
const (
	TypeConfiguration = "configuration_error"
	TypeConnection    = "connection_error"
	TypeStore         = "store_error"
	TypeSerialization = "serialization_error"
	TypeFilesystem    = "filesystem_error"
)

// NewConfigurationError reports missing or invalid configuration.
// This is the only variant that is fatal at startup.
func NewConfigurationError(op, message string) *CacheError {
	return &CacheError{
		Type:      TypeConfiguration,
		Op:        op,
		Message:   message,
		Retryable: false,
	}
}

// NewConnectionError reports a failure to reach the backing store.
func NewConnectionError(op string, err error) *CacheError {
	return &CacheError{
		Type:      TypeConnection,
		Op:        op,
		Message:   err.Error(),
		Retryable: true,
		Err:       err,
	}
}

// NewStoreError reports a per-operation store failure after a connection
// was already established.
func NewStoreError(op, key string, err error) *CacheError {
	return &CacheError{
		Type:      TypeStore,
		Op:        op,
		Key:       key,
		Message:   err.Error(),
		Retryable: true,
		Err:       err,
	}
}

// NewSerializationError reports a payload that could not be encoded or a
// stored value that could not be decoded.
func NewSerializationError(op, key string, err error) *CacheError {
	return &CacheError{
		Type:      TypeSerialization,
		Op:        op,
		Key:       key,
		Message:   err.Error(),
		Retryable: false,
		Err:       err,
	}
}

// NewFilesystemError reports a file-cache failure.
func NewFilesystemError(op, path string, err error) *CacheError {
	return &CacheError{
		Type:      TypeFilesystem,
		Op:        op,
		Key:       path,
		Message:   err.Error(),
		Retryable: false,
		Err:       err,
	}
}

// IsType reports whether err is a *CacheError of the given type.
func IsType(err error, errType string) bool {
	var ce *CacheError
	if errors.As(err, &ce) {
		return ce.Type == errType
	}
	return false
}

// IsFatal reports whether err should abort startup rather than degrade to
// cache-miss behavior. Only configuration errors qualify.
func IsFatal(err error) bool {
	return IsType(err, TypeConfiguration)
}

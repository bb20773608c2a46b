package history

import (
	"errors"
	"fmt"
)

// ErrInvalidQuery is returned for queries with unknown status values or
// negative pagination.
var ErrInvalidQuery = errors.New("invalid history query")

// StorageError represents an error from a history storage backend.
type StorageError struct {
	Backend   string // "sqlite" or "memory"
	Operation string // "store", "query", "delete", ...
	Cause     error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("history storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{Backend: backend, Operation: operation, Cause: cause}
}

// RetentionError represents an error during history pruning.
type RetentionError struct {
	RetentionDays int
	Cause         error
}

// Error implements the error interface.
func (e *RetentionError) Error() string {
	return fmt.Sprintf("retention error [retention_days=%d]: %v", e.RetentionDays, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *RetentionError) Unwrap() error {
	return e.Cause
}

func validateQuery(q *Query) error {
	if q.Limit < 0 || q.Offset < 0 {
		return fmt.Errorf("%w: limit and offset must be non-negative", ErrInvalidQuery)
	}
	switch q.Status {
	case "", "success", "error":
		return nil
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidQuery, q.Status)
	}
}

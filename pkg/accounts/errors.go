package accounts

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	// ErrNotFound is returned when no account matches the lookup.
	ErrNotFound = errors.New("account not found")

	// ErrDuplicateName is returned when creating an account whose name is
	// already taken.
	ErrDuplicateName = errors.New("account name already exists")

	// ErrInvalidAccount is returned when an account fails validation.
	ErrInvalidAccount = errors.New("invalid account")
)

// StoreError represents a failure inside a store backend.
type StoreError struct {
	Backend   string // "sqlite" or "memory"
	Operation string // "list", "create", "update", ...
	Cause     error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("account store error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// NewStoreError creates a new StoreError.
func NewStoreError(backend, operation string, cause error) *StoreError {
	return &StoreError{
		Backend:   backend,
		Operation: operation,
		Cause:     cause,
	}
}

// validate checks the fields every stored account needs.
func validate(a *Account) error {
	if a.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidAccount)
	}
	if strings.IndexFunc(a.Name, unicode.IsControl) >= 0 {
		return fmt.Errorf("%w: name %q contains control characters", ErrInvalidAccount, a.Name)
	}
	if a.APIKey == "" && a.RefreshToken == "" && a.AccessToken == "" {
		return fmt.Errorf("%w: account %q has no credentials", ErrInvalidAccount, a.Name)
	}
	return nil
}

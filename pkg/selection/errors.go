package selection

import (
	"errors"
	"fmt"
)

// ErrInvalidStrategy is returned when an unknown strategy is configured.
var ErrInvalidStrategy = errors.New("invalid selection strategy")

// SelectionError wraps a failure to load or order accounts.
type SelectionError struct {
	Strategy string
	Cause    error
}

// Error implements the error interface.
func (e *SelectionError) Error() string {
	return fmt.Sprintf("account selection failed [strategy=%s]: %v", e.Strategy, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *SelectionError) Unwrap() error {
	return e.Cause
}

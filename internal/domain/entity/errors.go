package entity

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by repositories for unknown ids.
var ErrNotFound = errors.New("entity not found")

// ValidationError reports an invalid field of a domain value. It is never
// retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// FailureKind implements the failure.Kinded contract.
func (e *ValidationError) FailureKind() FailureKind {
	return FailureValidation
}

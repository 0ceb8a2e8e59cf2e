package entity

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError(t *testing.T) {
	err := &ValidationError{Field: "jurisdiction", Message: "jurisdiction is required"}
	assert.Equal(t, "invalid jurisdiction: jurisdiction is required", err.Error())
	assert.Equal(t, FailureValidation, err.FailureKind())

	wrapped := fmt.Errorf("load source BAFIN: %w", err)
	var verr *ValidationError
	require.True(t, errors.As(wrapped, &verr))
	assert.Equal(t, "jurisdiction", verr.Field)
}

func TestSentinelErrors(t *testing.T) {
	assert.False(t, errors.Is(ErrNotFound, ErrInvalidTransition))
	assert.True(t, errors.Is(fmt.Errorf("Get EBA: %w", ErrNotFound), ErrNotFound))
}

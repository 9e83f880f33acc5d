package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromErrorKeepsTypedErrors(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", Clone(ErrOutOfRange, "you are 56m away"))
	appErr := FromError(wrapped)
	assert.Equal(t, ErrOutOfRange.Code, appErr.Code)
	assert.Equal(t, http.StatusForbidden, appErr.Status)
	assert.Equal(t, "you are 56m away", appErr.Message)
}

func TestFromErrorDefaultsToInternal(t *testing.T) {
	appErr := FromError(errors.New("boom"))
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Nil(t, FromError(nil))
}

func TestCloneDoesNotMutateOriginal(t *testing.T) {
	clone := Clone(ErrSessionConflict, "busy")
	assert.Equal(t, "busy", clone.Message)
	assert.Equal(t, "an active session already exists", ErrSessionConflict.Message)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(Wrap(errors.New("dial"), ErrInfrastructure.Code, ErrInfrastructure.Status, "db down")))
	assert.False(t, Retryable(ErrValidation))
	assert.False(t, Retryable(errors.New("plain")))
}

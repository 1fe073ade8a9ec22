package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainError_TypeChecks(t *testing.T) {
	tests := []struct {
		err   error
		check func(error) bool
	}{
		{NewValidationError("bad input", nil), IsValidationError},
		{NewNotFoundError("missing", nil), IsNotFoundError},
		{NewConflictError("duplicate", nil), IsConflictError},
		{NewTemplateError("token mismatch", nil), IsTemplateError},
		{NewProcessError("spawn failed", nil), IsProcessError},
		{NewTimeoutError("too slow", nil), IsTimeoutError},
		{NewIOError("disk trouble", nil), IsIOError},
		{NewCancelledError("gave up", nil), IsCancelledError},
	}

	for _, tt := range tests {
		assert.True(t, tt.check(tt.err), "%v", tt.err)
		assert.False(t, IsValidationError(stderrors.New("plain")), "plain errors match nothing")
	}

	// Checks distinguish types.
	assert.False(t, IsNotFoundError(NewConflictError("duplicate", nil)))
}

func TestDomainError_WrappedCause(t *testing.T) {
	cause := stderrors.New("root cause")
	err := NewIOError("failed to read unit file", cause)

	assert.True(t, stderrors.Is(err, cause))
	assert.Contains(t, err.Error(), "failed to read unit file")
	assert.Contains(t, err.Error(), "root cause")

	// Type checks survive wrapping with %w.
	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, IsIOError(wrapped))
}

func TestDomainError_WithContext(t *testing.T) {
	err := NewNotFoundError("instance not found", nil).
		WithContext("instance", "tty@ttyS0").
		WithContext("pid", 42)

	require.NotNil(t, err.Context)
	assert.Equal(t, "tty@ttyS0", err.Context["instance"])
	assert.Equal(t, 42, err.Context["pid"])
}

func TestErrorCollection(t *testing.T) {
	collection := NewErrorCollection()
	assert.False(t, collection.HasErrors())
	assert.NoError(t, collection.ToError())

	collection.Add(nil) // nil is ignored
	assert.False(t, collection.HasErrors())

	collection.Add(NewProcessError("one", nil))
	collection.Add(NewProcessError("two", nil))

	assert.True(t, collection.HasErrors())
	assert.Len(t, collection.Errors, 2)
	require.Error(t, collection.ToError())
	assert.Contains(t, collection.ToError().Error(), "2 errors")
}

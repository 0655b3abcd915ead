package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errCause = errors.New("amount exceeds remaining capacity")

func TestWrapKeepsCauseReachable(t *testing.T) {
	err := Wrap(errCause, CodeValidation, "invest 9000 into pool 1")

	require.Error(t, err)
	assert.ErrorIs(t, err, errCause)
	assert.True(t, HasCode(err, CodeValidation))
	assert.Equal(t, "invest 9000 into pool 1: amount exceeds remaining capacity", err.Error())
}

func TestCodeOf(t *testing.T) {
	t.Run("coded error", func(t *testing.T) {
		assert.Equal(t, CodeNotFound, CodeOf(New(CodeNotFound, "pool not found")))
	})
	t.Run("coded error wrapped by fmt", func(t *testing.T) {
		err := fmt.Errorf("handler: %w", New(CodePaused, "paused"))
		assert.Equal(t, CodePaused, CodeOf(err))
		assert.True(t, Is(err, CodePaused))
	})
	t.Run("plain error defaults to internal", func(t *testing.T) {
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
	})
	t.Run("nil", func(t *testing.T) {
		assert.False(t, HasCode(nil, CodeNotFound))
	})
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(CodePaused, "paused")))
	assert.True(t, Retryable(New(CodeTimeout, "ctx done")))
	assert.False(t, Retryable(New(CodeConflict, "invoice already exists")))
	assert.False(t, Retryable(New(CodeInvalidState, "pool not filled")))
}

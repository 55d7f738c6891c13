package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	base := errors.New("connection refused")

	t.Run("matches outer code", func(t *testing.T) {
		err := Wrap(base, CodeUnavailable, "store down")
		assert.True(t, HasCode(err, CodeUnavailable))
		assert.False(t, HasCode(err, CodeInternal))
	})

	t.Run("matches nested code through fmt wrapping", func(t *testing.T) {
		inner := New(CodeNotFound, "employee not found")
		err := Wrap(fmt.Errorf("lookup: %w", inner), CodeInternal, "resolve failed")
		assert.True(t, HasCode(err, CodeNotFound))
		assert.True(t, HasCode(err, CodeInternal))
	})

	t.Run("plain errors carry no code", func(t *testing.T) {
		assert.False(t, HasCode(base, CodeInternal))
		assert.False(t, Is(base))
		assert.Equal(t, CodeInternal, CodeOf(base))
	})
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, CodeInternal, "noop"))

	base := errors.New("boom")
	err := Wrap(base, CodeConflict, "insert failed")
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "insert failed: boom", err.Error())
	assert.Equal(t, CodeConflict, CodeOf(err))
}

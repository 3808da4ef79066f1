package auth

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	base := errors.New("connection refused")
	err := fmt.Errorf("sign in: %w", Wrap(CodeUnavailable, "backend down", base))

	assert.Equal(t, CodeUnavailable, CodeOf(err))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, Code(""), CodeOf(base))
}

func TestError_Message(t *testing.T) {
	err := NewError(CodeWeakSecret, "password too short")
	assert.Equal(t, "auth: weak-secret: password too short", err.Error())
}

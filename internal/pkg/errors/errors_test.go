package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetailErrors(t *testing.T) {
	err := Invalid("model not allowed", map[string]interface{}{"allowed_models": []string{"a"}})
	require.True(t, IsInvalid(err))
	require.False(t, IsNotFound(err))
	require.Equal(t, "model not allowed", err.Error())

	wrapped := fmt.Errorf("chat: %w", err)
	require.True(t, IsInvalid(wrapped))
	require.Equal(t, []string{"a"}, Extra(wrapped)["allowed_models"])

	require.True(t, IsNotFound(NotFound("no such document")))
	require.True(t, errors.Is(MethodNotAllowed("PATCH"), ErrMethodNotAllowed))
	require.Nil(t, Extra(errors.New("plain")))
}

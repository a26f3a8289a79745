package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryError_ErrorIncludesContext(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := NewTierUnavailable(TierCache, "get", cause).WithRecord("conv-1", "agent-a")

	msg := err.Error()
	assert.Contains(t, msg, KindTierUnavailable)
	assert.Contains(t, msg, TierCache)
	assert.Contains(t, msg, "get")
	assert.Contains(t, msg, "conv-1")
	assert.Contains(t, msg, "agent-a")
	assert.Contains(t, msg, "connection refused")
}

func TestMemoryError_Unwrap(t *testing.T) {
	cause := stderrors.New("timeout")
	err := NewTierUnavailable(TierDurable, "set", cause)

	require.ErrorIs(t, err, cause)
	require.ErrorIs(t, fmt.Errorf("wrapped: %w", err), cause)
}

func TestIsTierUnavailable(t *testing.T) {
	err := NewTierUnavailable(TierCache, "get", stderrors.New("down"))
	assert.True(t, IsTierUnavailable(err))
	assert.False(t, IsSerializationFault(err))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, IsTierUnavailable(wrapped))
}

func TestIsSerializationFault(t *testing.T) {
	err := NewSerializationFault(TierDurable, "get", stderrors.New("bad json"))
	assert.True(t, IsSerializationFault(err))
	assert.False(t, IsTierUnavailable(err))

	assert.False(t, IsSerializationFault(stderrors.New("plain")))
	assert.False(t, IsTierUnavailable(nil))
}

package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletionError_Unwrap(t *testing.T) {
	upstream := &UpstreamHTTPError{Status: 503, Body: "busy"}
	err := &CompletionError{
		ProviderID: "openrouter",
		Cause:      &TransportExhaustedError{Attempts: 4, Err: upstream},
	}
	var got *UpstreamHTTPError
	require.True(t, errors.As(err, &got))
	assert.Equal(t, 503, got.Status)
	assert.Contains(t, err.Error(), "openrouter")
	assert.Contains(t, err.Error(), "4 attempts")
}

func TestCancelledError_IsContextCanceled(t *testing.T) {
	err := fmt.Errorf("read: %w", &CancelledError{Cause: context.Canceled})
	assert.True(t, IsCancelled(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsCancelled(ErrIncompleteStream))
}

func TestRole_Valid(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleAssistant.Valid())
	assert.True(t, RoleSystem.Valid())
	assert.False(t, Role("tool").Valid())
}

func TestConversation_Copy(t *testing.T) {
	c := &Conversation{ID: "c1", Messages: []Message{{Role: RoleUser, Content: "hi"}}}
	q := c.Copy()
	q.Messages[0].Content = "changed"
	q.Messages = append(q.Messages, Message{Role: RoleAssistant})
	assert.Equal(t, "hi", c.Messages[0].Content)
	assert.Len(t, c.Messages, 1)
}

package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindDefinitions(t *testing.T) {
	t.Parallel()

	seen := make(map[string]Kind)

	for _, kind := range Kinds() {
		info, exists := GetKindInfo(kind)
		require.True(t, exists, "kind %s has no definition", kind)
		assert.Equal(t, kind, info.Kind)
		assert.NotEmpty(t, info.Message)
		assert.NotEmpty(t, info.Severity)

		prev, dup := seen[info.Code]
		assert.False(t, dup, "code %s used by %s and %s", info.Code, prev, kind)
		seen[info.Code] = kind
	}
}

func TestRetryableKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind      Kind
		retryable bool
	}{
		{KindInvalidLength, true},
		{KindBufferTooSmall, true},
		{KindInsufficientSpace, true},
		{KindNoMessage, true},
		{KindInterrupted, true},
		{KindBusy, true},
		{KindInvalidConfig, false},
		{KindNoSuchChannel, false},
		{KindAllocationFailure, false},
		{KindClosed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.retryable, IsRetryable(New(tt.kind)))
		})
	}
}

func TestErrorString(t *testing.T) {
	t.Parallel()

	err := New(KindNoMessage).WithComponent("channel").WithOperation("pop")
	assert.Equal(t, "[channel] pop: no message available", err.Error())

	wrapped := Wrap(fmt.Errorf("boom"), KindAllocationFailure, "allocate 12 bytes")
	assert.Equal(t, "allocate 12 bytes: boom", wrapped.Error())
}

func TestErrorsIsMatchesKind(t *testing.T) {
	t.Parallel()

	err := New(KindBufferTooSmall).WithChannel(3).WithContext("need", 5)
	wrapped := fmt.Errorf("read failed: %w", err)

	assert.ErrorIs(t, wrapped, ErrBufferTooSmall)
	assert.NotErrorIs(t, wrapped, ErrNoMessage)
	assert.Equal(t, KindBufferTooSmall, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindBufferTooSmall))
	assert.Equal(t, 3, err.Context["channel_id"])
}

func TestForeignErrors(t *testing.T) {
	t.Parallel()

	assert.Equal(t, KindInternal, KindOf(context.Canceled))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsKind(nil, KindBusy))
	assert.Nil(t, Wrap(nil, KindBusy, "nothing"))
}

func TestUnknownKindFallsBackToInternal(t *testing.T) {
	t.Parallel()

	err := New(Kind("NOPE"))
	assert.Equal(t, KindInternal, err.Kind)
	assert.Equal(t, SeverityCritical, err.Severity)
}

func TestWrapKeepsCause(t *testing.T) {
	t.Parallel()

	err := Wrap(context.Canceled, KindInterrupted, "wait cancelled")
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, ErrInterrupted)
}

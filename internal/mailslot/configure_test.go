package mailslot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mserrors "github.com/actual-software/mailslot/internal/errors"
)

func TestChannel_SetMaxMessageSize(t *testing.T) {
	t.Parallel()

	c := newTestChannel(t, 256, 64, Blocking)

	for _, n := range []int{0, -3, 257} {
		err := c.SetMaxMessageSize(n)
		require.ErrorIs(t, err, mserrors.ErrInvalidConfig, "size %d", n)
	}

	n, err := c.MaxMessageSize()
	require.NoError(t, err)
	assert.Equal(t, 64, n)

	require.NoError(t, c.SetMaxMessageSize(256))
	n, err = c.MaxMessageSize()
	require.NoError(t, err)
	assert.Equal(t, 256, n)

	require.NoError(t, c.SetMaxMessageSize(4))
	require.ErrorIs(t, c.Push(context.Background(), []byte("12345")), mserrors.ErrInvalidLength)
	require.NoError(t, c.Push(context.Background(), []byte("1234")))
}

func TestChannel_SetBlockingModeValidation(t *testing.T) {
	t.Parallel()

	c := newTestChannel(t, 64, 16, Blocking)

	require.ErrorIs(t, c.SetBlockingMode(Mode(2)), mserrors.ErrInvalidConfig)
	require.ErrorIs(t, c.SetBlockingMode(Mode(-1)), mserrors.ErrInvalidConfig)
	assert.Equal(t, Blocking, c.BlockingMode())
}

func TestChannel_SetBlockingModeIdempotent(t *testing.T) {
	t.Parallel()

	once := newTestChannel(t, 8, 8, Blocking)
	twice := newTestChannel(t, 8, 8, Blocking)

	require.NoError(t, once.SetBlockingMode(NonBlocking))
	require.NoError(t, twice.SetBlockingMode(NonBlocking))
	require.NoError(t, twice.SetBlockingMode(NonBlocking))

	for _, c := range []*Channel{once, twice} {
		assert.Equal(t, NonBlocking, c.BlockingMode())

		_, err := c.Pop(context.Background(), 8)
		require.ErrorIs(t, err, mserrors.ErrNoMessage)

		require.NoError(t, c.Push(context.Background(), []byte("12345678")))
		require.ErrorIs(t, c.Push(context.Background(), []byte("x")), mserrors.ErrInsufficientSpace)
	}

	assert.Equal(t, once.Stats(), twice.Stats())
}

func TestChannel_ConfigBusyWhenNonBlocking(t *testing.T) {
	t.Parallel()

	c := newTestChannel(t, 64, 16, NonBlocking)

	c.mu.Lock()

	require.ErrorIs(t, c.SetMaxMessageSize(32), mserrors.ErrBusy)
	require.ErrorIs(t, c.SetBlockingMode(Blocking), mserrors.ErrBusy)

	_, err := c.MaxMessageSize()
	require.ErrorIs(t, err, mserrors.ErrBusy)

	c.mu.Unlock()

	require.NoError(t, c.SetMaxMessageSize(32))

	n, err := c.MaxMessageSize()
	require.NoError(t, err)
	assert.Equal(t, 32, n)
}

func TestChannel_ConfigWaitingForLockFailsAfterSwitchToNonBlocking(t *testing.T) {
	t.Parallel()

	c := newTestChannel(t, 64, 16, Blocking)

	c.mu.Lock()

	done := make(chan error, 1)

	go func() {
		done <- c.SetMaxMessageSize(32)
	}()

	// Give the call time to block on the lock under the blocking mode.
	time.Sleep(20 * time.Millisecond)

	c.mode.Store(int32(NonBlocking))
	c.mu.Unlock()

	require.ErrorIs(t, receive(t, done), mserrors.ErrBusy)

	n, err := c.MaxMessageSize()
	require.NoError(t, err)
	assert.Equal(t, 16, n)
}

func TestChannel_SwitchToNonBlockingReleasesWaiters(t *testing.T) {
	t.Parallel()

	t.Run("reader", func(t *testing.T) {
		t.Parallel()

		c := newTestChannel(t, 8, 8, Blocking)

		done := popAsync(context.Background(), c, 8)
		waitForReaders(t, c, 1)

		require.NoError(t, c.SetBlockingMode(NonBlocking))

		res := receive(t, done)
		require.ErrorIs(t, res.err, mserrors.ErrNoMessage)
	})

	t.Run("writer", func(t *testing.T) {
		t.Parallel()

		c := newTestChannel(t, 8, 8, Blocking)
		require.NoError(t, c.Push(context.Background(), []byte("occupied")))

		done := pushAsync(context.Background(), c, []byte("late"))
		waitForWriters(t, c, 1)

		require.NoError(t, c.SetBlockingMode(NonBlocking))

		require.ErrorIs(t, receive(t, done), mserrors.ErrInsufficientSpace)
		assert.Equal(t, 1, c.Stats().Messages)
	})
}

func TestChannel_SwitchToBlockingKeepsWaitersAsleep(t *testing.T) {
	t.Parallel()

	c := newTestChannel(t, 8, 8, NonBlocking)
	require.NoError(t, c.SetBlockingMode(Blocking))

	done := popAsync(context.Background(), c, 8)
	waitForReaders(t, c, 1)

	require.NoError(t, c.SetBlockingMode(Blocking))
	assert.Equal(t, 1, c.Stats().Readers)

	require.NoError(t, c.Push(context.Background(), []byte("ok")))

	res := receive(t, done)
	require.NoError(t, res.err)
	assert.Equal(t, "ok", string(res.data))
}

func TestMode_TextRoundTrip(t *testing.T) {
	t.Parallel()

	text, err := NonBlocking.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "non-blocking", string(text))

	var m Mode
	require.NoError(t, m.UnmarshalText([]byte("blocking")))
	assert.Equal(t, Blocking, m)

	_, err = Mode(9).MarshalText()
	assert.Error(t, err)
}

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	mserrors "github.com/actual-software/mailslot/internal/errors"
)

func fastConfig() Config {
	return Config{
		MaxAttempts:     5,
		InitialInterval: time.Millisecond,
		MaxInterval:     4 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func TestTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"no message", mserrors.New(mserrors.KindNoMessage), true},
		{"insufficient space", mserrors.New(mserrors.KindInsufficientSpace), true},
		{"busy", mserrors.New(mserrors.KindBusy), true},
		{"invalid length", mserrors.New(mserrors.KindInvalidLength), false},
		{"buffer too small", mserrors.New(mserrors.KindBufferTooSmall), false},
		{"closed", mserrors.New(mserrors.KindClosed), false},
		{"foreign", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Transient(tt.err))
		})
	}
}

func TestExponentialBackoff_Intervals(t *testing.T) {
	t.Parallel()

	policy := NewExponentialBackoff(fastConfig())

	assert.Equal(t, time.Millisecond, policy.NextInterval(1))
	assert.Equal(t, 2*time.Millisecond, policy.NextInterval(2))
	assert.Equal(t, 4*time.Millisecond, policy.NextInterval(3))
	assert.Equal(t, 4*time.Millisecond, policy.NextInterval(10), "capped at max interval")
}

func TestExponentialBackoff_Jitter(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.RandomizeFactor = 0.5
	policy := NewExponentialBackoff(cfg)

	for range 20 {
		got := policy.NextInterval(2)
		assert.GreaterOrEqual(t, got, time.Millisecond)
		assert.LessOrEqual(t, got, 3*time.Millisecond)
	}
}

func TestExponentialBackoff_ShouldRetry(t *testing.T) {
	t.Parallel()

	policy := NewExponentialBackoff(fastConfig())
	empty := mserrors.New(mserrors.KindNoMessage)

	assert.True(t, policy.ShouldRetry(empty, 1))
	assert.True(t, policy.ShouldRetry(empty, 4))
	assert.False(t, policy.ShouldRetry(empty, 5))
	assert.False(t, policy.ShouldRetry(mserrors.New(mserrors.KindInvalidLength), 1))

	unbounded := NewExponentialBackoff(Config{InitialInterval: time.Millisecond, Multiplier: 1})
	assert.True(t, unbounded.ShouldRetry(empty, 1000))
}

func TestRetrier_SucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	r := New(NewExponentialBackoff(fastConfig()), zaptest.NewLogger(t))
	calls := 0

	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return mserrors.New(mserrors.KindInsufficientSpace)
		}

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrier_StopsOnPermanentError(t *testing.T) {
	t.Parallel()

	r := New(NewExponentialBackoff(fastConfig()), nil)
	calls := 0

	err := r.Do(context.Background(), func(context.Context) error {
		calls++

		return mserrors.New(mserrors.KindInvalidLength)
	})

	require.ErrorIs(t, err, mserrors.ErrInvalidLength)
	assert.Equal(t, 1, calls)
}

func TestRetrier_GivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	r := New(NewExponentialBackoff(fastConfig()), zaptest.NewLogger(t))
	calls := 0

	err := r.Do(context.Background(), func(context.Context) error {
		calls++

		return mserrors.New(mserrors.KindNoMessage)
	})

	require.ErrorIs(t, err, mserrors.ErrNoMessage)
	assert.Equal(t, 5, calls)
}

func TestRetrier_Canceled(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.MaxAttempts = 0
	cfg.InitialInterval = time.Hour
	cfg.MaxInterval = time.Hour

	r := New(NewExponentialBackoff(cfg), zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	err := r.Do(ctx, func(context.Context) error {
		return mserrors.New(mserrors.KindBusy)
	})

	require.ErrorIs(t, err, mserrors.ErrInterrupted)
	require.ErrorIs(t, err, context.Canceled)

	err = r.Do(ctx, func(context.Context) error {
		t.Fatal("operation must not run on a canceled context")

		return nil
	})
	require.ErrorIs(t, err, mserrors.ErrInterrupted)
}

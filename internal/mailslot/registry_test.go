package mailslot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	mserrors "github.com/actual-software/mailslot/internal/errors"
)

type recordingObserver struct {
	mu         sync.Mutex
	operations map[Op]int
	failures   map[mserrors.Kind]int
	bytes      map[Op]int
	waiting    map[Side]int
	waits      int
	lastDepth  int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		operations: make(map[Op]int),
		failures:   make(map[mserrors.Kind]int),
		bytes:      make(map[Op]int),
		waiting:    make(map[Side]int),
	}
}

func (o *recordingObserver) OperationCompleted(_ int, op Op, bytes int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.operations[op]++
	o.bytes[op] += bytes

	if err != nil {
		o.failures[mserrors.KindOf(err)]++
	}
}

func (o *recordingObserver) WaitChanged(_ int, side Side, delta int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.waiting[side] += delta
}

func (o *recordingObserver) WaitFinished(int, Side, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.waits++
}

func (o *recordingObserver) QueueChanged(_ int, messages, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.lastDepth = messages
}

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()

	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)

	r, err := NewRegistry(DefaultSettings(), opts...)
	require.NoError(t, err)

	return r
}

func TestSettings_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(*Settings)
	}{
		{"too few channels", func(s *Settings) { s.Count = 16 }},
		{"zero ceiling", func(s *Settings) { s.AbsoluteMaxMessageSize = 0 }},
		{"default above ceiling", func(s *Settings) { s.DefaultMaxMessageSize = 1024 }},
		{"zero default", func(s *Settings) { s.DefaultMaxMessageSize = 0 }},
		{"zero slots", func(s *Settings) { s.DefaultSlotCount = 0 }},
		{"capacity below ceiling", func(s *Settings) { s.DefaultSlotCount = 1 }},
		{"bad mode", func(s *Settings) { s.DefaultMode = Mode(4) }},
	}

	require.NoError(t, DefaultSettings().Validate())
	assert.Equal(t, 4096, DefaultSettings().Capacity())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := DefaultSettings()
			tt.modify(&s)

			require.ErrorIs(t, s.Validate(), mserrors.ErrInvalidConfig)

			_, err := NewRegistry(s)
			require.ErrorIs(t, err, mserrors.ErrInvalidConfig)
		})
	}
}

func TestRegistry_Lookup(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	assert.Equal(t, DefaultChannels, r.Len())

	for _, id := range []int{-1, DefaultChannels, 1000} {
		_, err := r.Lookup(id)
		require.ErrorIs(t, err, mserrors.ErrNoSuchChannel, "id %d", id)
	}

	for _, id := range []int{0, 128, DefaultChannels - 1} {
		c, err := r.Lookup(id)
		require.NoError(t, err)
		assert.Equal(t, id, c.ID())

		s := c.Stats()
		assert.Equal(t, 4096, s.Capacity)
		assert.Equal(t, 4096, s.Free)
		assert.Equal(t, DefaultMaxMessageSize, s.MaxMessageSize)
		assert.Equal(t, Blocking, s.Mode)
	}

	again, err := r.Lookup(128)
	require.NoError(t, err)

	first, err := r.Lookup(128)
	require.NoError(t, err)
	assert.Same(t, first, again)
}

func TestRegistry_OperationsByID(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	ctx := context.Background()

	require.ErrorIs(t, r.Push(ctx, 300, []byte("x")), mserrors.ErrNoSuchChannel)
	_, err := r.Pop(ctx, -2, 10)
	require.ErrorIs(t, err, mserrors.ErrNoSuchChannel)
	require.ErrorIs(t, r.SetMaxMessageSize(256, 10), mserrors.ErrNoSuchChannel)
	require.ErrorIs(t, r.SetBlockingMode(256, Blocking), mserrors.ErrNoSuchChannel)
	_, err = r.MaxMessageSize(256)
	require.ErrorIs(t, err, mserrors.ErrNoSuchChannel)

	require.NoError(t, r.SetMaxMessageSize(1, 512))
	require.ErrorIs(t, r.SetMaxMessageSize(1, 513), mserrors.ErrInvalidConfig)

	n, err := r.MaxMessageSize(1)
	require.NoError(t, err)
	assert.Equal(t, 512, n)

	// Channels are independent.
	n, err = r.MaxMessageSize(2)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxMessageSize, n)

	require.NoError(t, r.Push(ctx, 1, make([]byte, 400)))
	require.NoError(t, r.SetBlockingMode(2, NonBlocking))

	_, err = r.Pop(ctx, 2, 512)
	require.ErrorIs(t, err, mserrors.ErrNoMessage)

	data, err := r.Pop(ctx, 1, 512)
	require.NoError(t, err)
	assert.Len(t, data, 400)

	stats := r.Stats()
	require.Len(t, stats, DefaultChannels)
	assert.Equal(t, NonBlocking, stats[2].Mode)
	assert.Equal(t, 512, stats[1].MaxMessageSize)
}

func TestRegistry_FillsToCapacity(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	require.NoError(t, r.SetBlockingMode(0, NonBlocking))

	ctx := context.Background()
	payload := make([]byte, DefaultMaxMessageSize)

	for i := 0; i < DefaultSlotCount; i++ {
		require.NoError(t, r.Push(ctx, 0, payload))
	}

	require.ErrorIs(t, r.Push(ctx, 0, []byte("x")), mserrors.ErrInsufficientSpace)

	for i := 0; i < DefaultSlotCount; i++ {
		_, err := r.Pop(ctx, 0, DefaultMaxMessageSize)
		require.NoError(t, err)
	}

	assert.Equal(t, 4096, r.Stats()[0].Free)
}

func TestRegistry_Shutdown(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Push(ctx, 5, []byte("left behind")))
	require.NoError(t, r.Push(ctx, 6, []byte("also")))
	require.NoError(t, r.Push(ctx, 6, []byte("dropped")))

	blocked, err := r.Lookup(9)
	require.NoError(t, err)

	done := popAsync(ctx, blocked, 64)
	waitForReaders(t, blocked, 1)

	assert.Equal(t, 3, r.Shutdown())
	assert.True(t, r.Closed())
	assert.Zero(t, r.Shutdown(), "second shutdown is a no-op")

	res := receive(t, done)
	require.ErrorIs(t, res.err, mserrors.ErrClosed)

	require.ErrorIs(t, r.Push(ctx, 5, []byte("late")), mserrors.ErrClosed)
	_, err = r.Pop(ctx, 6, 64)
	require.ErrorIs(t, err, mserrors.ErrClosed)
	require.ErrorIs(t, r.SetMaxMessageSize(5, 10), mserrors.ErrClosed)
	require.ErrorIs(t, r.SetBlockingMode(5, NonBlocking), mserrors.ErrClosed)

	for _, s := range r.Stats() {
		assert.True(t, s.Closed)
		assert.Equal(t, s.Capacity, s.Free)
		assert.Zero(t, s.Messages)
		assert.Zero(t, s.Readers)
	}
}

func TestRegistry_AllocatorFactory(t *testing.T) {
	t.Parallel()

	t.Run("factory error", func(t *testing.T) {
		t.Parallel()

		_, err := NewRegistry(DefaultSettings(), WithAllocatorFactory(func(id, _ int) (Allocator, error) {
			if id == 17 {
				return nil, errors.New("no slab")
			}

			return heapAllocator{}, nil
		}))
		require.ErrorIs(t, err, mserrors.ErrAllocationFailure)
	})

	t.Run("failing allocator", func(t *testing.T) {
		t.Parallel()

		r := newTestRegistry(t, WithAllocatorFactory(func(id, ceiling int) (Allocator, error) {
			assert.Equal(t, DefaultAbsoluteMaxMessageSize, ceiling)

			if id == 3 {
				return failingAllocator{}, nil
			}

			return heapAllocator{}, nil
		}))

		require.ErrorIs(t, r.Push(context.Background(), 3, []byte("nope")), mserrors.ErrAllocationFailure)
		require.NoError(t, r.Push(context.Background(), 4, []byte("fine")))
	})
}

func TestRegistry_Observer(t *testing.T) {
	t.Parallel()

	obs := newRecordingObserver()
	r := newTestRegistry(t, WithObserver(obs))
	ctx := context.Background()

	c, err := r.Lookup(0)
	require.NoError(t, err)

	done := popAsync(ctx, c, 64)
	waitForReaders(t, c, 1)

	require.NoError(t, c.Push(ctx, []byte("observed")))
	require.NoError(t, receive(t, done).err)

	require.NoError(t, c.SetBlockingMode(NonBlocking))

	_, err = c.Pop(ctx, 64)
	require.ErrorIs(t, err, mserrors.ErrNoMessage)

	obs.mu.Lock()
	defer obs.mu.Unlock()

	assert.Equal(t, 1, obs.operations[OpPush])
	assert.Equal(t, 2, obs.operations[OpPop])
	assert.Equal(t, 1, obs.operations[OpConfigure])
	assert.Equal(t, 8, obs.bytes[OpPush])
	assert.Equal(t, 8, obs.bytes[OpPop])
	assert.Equal(t, 1, obs.failures[mserrors.KindNoMessage])
	assert.Zero(t, obs.waiting[SideReader])
	assert.Equal(t, 1, obs.waits)
	assert.Zero(t, obs.lastDepth)
}

func TestRegistry_DefaultSlabAllocator(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	ctx := context.Background()

	for round := 0; round < 3; round++ {
		for _, size := range []int{1, 15, 16, 17, 200, 256} {
			payload := make([]byte, size)
			for i := range payload {
				payload[i] = byte(round + i)
			}

			require.NoError(t, r.Push(ctx, 42, payload))

			got, err := r.Pop(ctx, 42, 256)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		}
	}
}

package mailslot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	mserrors "github.com/actual-software/mailslot/internal/errors"
	"github.com/actual-software/mailslot/pkg/common/logging"
	"github.com/actual-software/mailslot/pkg/common/optimization"
)

// Defaults matching the original device configuration.
const (
	MinChannels                   = 256
	DefaultChannels               = 256
	DefaultAbsoluteMaxMessageSize = 512
	DefaultMaxMessageSize         = 256
	DefaultSlotCount              = 16
	DefaultMode                   = Blocking
)

// Settings are the startup constants of a Registry.
type Settings struct {
	// Count is the number of channel instances.
	Count int
	// AbsoluteMaxMessageSize is the ceiling SetMaxMessageSize may not exceed.
	AbsoluteMaxMessageSize int
	// DefaultMaxMessageSize is every channel's initial max message size.
	DefaultMaxMessageSize int
	// DefaultSlotCount times DefaultMaxMessageSize gives each channel's capacity.
	DefaultSlotCount int
	DefaultMode      Mode
}

// DefaultSettings returns the stock configuration: 256 channels of 4 KiB.
func DefaultSettings() Settings {
	return Settings{
		Count:                  DefaultChannels,
		AbsoluteMaxMessageSize: DefaultAbsoluteMaxMessageSize,
		DefaultMaxMessageSize:  DefaultMaxMessageSize,
		DefaultSlotCount:       DefaultSlotCount,
		DefaultMode:            DefaultMode,
	}
}

// Capacity returns the per-channel byte capacity implied by s.
func (s Settings) Capacity() int {
	return s.DefaultMaxMessageSize * s.DefaultSlotCount
}

// Validate checks that s describes a usable registry.
func (s Settings) Validate() error {
	switch {
	case s.Count < MinChannels:
		return mserrors.Newf(mserrors.KindInvalidConfig, "channel count %d below minimum %d", s.Count, MinChannels)
	case s.AbsoluteMaxMessageSize <= 0:
		return mserrors.Newf(mserrors.KindInvalidConfig, "absolute max message size must be positive, got %d",
			s.AbsoluteMaxMessageSize)
	case s.DefaultMaxMessageSize <= 0 || s.DefaultMaxMessageSize > s.AbsoluteMaxMessageSize:
		return mserrors.Newf(mserrors.KindInvalidConfig, "default max message size %d outside (0, %d]",
			s.DefaultMaxMessageSize, s.AbsoluteMaxMessageSize)
	case s.DefaultSlotCount <= 0:
		return mserrors.Newf(mserrors.KindInvalidConfig, "slot count must be positive, got %d", s.DefaultSlotCount)
	case s.Capacity() < s.AbsoluteMaxMessageSize:
		// Otherwise a maximal message could never fit and its writer would block forever.
		return mserrors.Newf(mserrors.KindInvalidConfig, "channel capacity %d below absolute max message size %d",
			s.Capacity(), s.AbsoluteMaxMessageSize)
	case !s.DefaultMode.Valid():
		return mserrors.Newf(mserrors.KindInvalidConfig, "invalid default blocking mode %d", int32(s.DefaultMode))
	}

	return nil
}

// AllocatorFactory returns the allocator for one channel. ceiling is the
// largest payload the channel can ever store.
type AllocatorFactory func(channelID, ceiling int) (Allocator, error)

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithObserver installs an event observer on every channel.
func WithObserver(observer Observer) Option {
	return func(r *Registry) {
		if observer != nil {
			r.observer = observer
		}
	}
}

// WithAllocatorFactory replaces the default slab allocator.
func WithAllocatorFactory(factory AllocatorFactory) Option {
	return func(r *Registry) {
		if factory != nil {
			r.allocators = factory
		}
	}
}

// Registry is the fixed table of channels. The table is built once by
// NewRegistry and never resized, so Lookup needs no lock.
type Registry struct {
	settings Settings
	channels []Channel

	logger     *zap.Logger
	observer   Observer
	allocators AllocatorFactory

	shutdownOnce sync.Once
	closed       atomic.Bool
}

// NewRegistry validates settings and builds every channel.
func NewRegistry(settings Settings, opts ...Option) (*Registry, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	r := &Registry{
		settings: settings,
		logger:   zap.NewNop(),
		observer: nopObserver{},
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.allocators == nil {
		pool, err := optimization.NewSlabPool(settings.AbsoluteMaxMessageSize)
		if err != nil {
			return nil, mserrors.Wrap(err, mserrors.KindInvalidConfig, "create slab pool")
		}

		r.allocators = func(int, int) (Allocator, error) {
			return pool, nil
		}
	}

	r.channels = make([]Channel, settings.Count)

	for id := range r.channels {
		alloc, err := r.allocators(id, settings.AbsoluteMaxMessageSize)
		if err != nil {
			return nil, mserrors.Wrap(err, mserrors.KindAllocationFailure,
				fmt.Sprintf("create allocator for channel %d", id))
		}

		r.channels[id].init(id, channelConfig{
			capacity: settings.Capacity(),
			maxSize:  settings.DefaultMaxMessageSize,
			ceiling:  settings.AbsoluteMaxMessageSize,
			mode:     settings.DefaultMode,
			alloc:    alloc,
			observer: r.observer,
			logger:   r.logger,
		})
	}

	r.logger.Info("Channel registry initialized",
		zap.Int("channels", settings.Count),
		zap.Int(logging.FieldCapacity, settings.Capacity()),
		zap.Int(logging.FieldMaxMessageSize, settings.DefaultMaxMessageSize),
		zap.Stringer(logging.FieldMode, settings.DefaultMode),
	)

	return r, nil
}

// Settings returns the startup settings.
func (r *Registry) Settings() Settings {
	return r.settings
}

// Len returns the number of channels.
func (r *Registry) Len() int {
	return len(r.channels)
}

// Lookup returns the channel with the given id.
func (r *Registry) Lookup(id int) (*Channel, error) {
	if id < 0 || id >= len(r.channels) {
		return nil, mserrors.New(mserrors.KindNoSuchChannel).
			WithComponent(component).
			WithOperation("lookup").
			WithChannel(id)
	}

	return &r.channels[id], nil
}

// Push appends payload to channel id.
func (r *Registry) Push(ctx context.Context, id int, payload []byte) error {
	c, err := r.Lookup(id)
	if err != nil {
		return err
	}

	return c.Push(ctx, payload)
}

// Pop removes the head message of channel id.
func (r *Registry) Pop(ctx context.Context, id, capacity int) ([]byte, error) {
	c, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}

	return c.Pop(ctx, capacity)
}

// SetMaxMessageSize configures channel id.
func (r *Registry) SetMaxMessageSize(id, n int) error {
	c, err := r.Lookup(id)
	if err != nil {
		return err
	}

	return c.SetMaxMessageSize(n)
}

// SetBlockingMode configures channel id.
func (r *Registry) SetBlockingMode(id int, mode Mode) error {
	c, err := r.Lookup(id)
	if err != nil {
		return err
	}

	return c.SetBlockingMode(mode)
}

// MaxMessageSize queries channel id.
func (r *Registry) MaxMessageSize(id int) (int, error) {
	c, err := r.Lookup(id)
	if err != nil {
		return 0, err
	}

	return c.MaxMessageSize()
}

// Stats returns a snapshot of every channel, in id order.
func (r *Registry) Stats() []Stats {
	out := make([]Stats, len(r.channels))
	for i := range r.channels {
		out[i] = r.channels[i].Stats()
	}

	return out
}

// Closed reports whether Shutdown has run.
func (r *Registry) Closed() bool {
	return r.closed.Load()
}

// Shutdown releases the storage of every queued message and wakes all blocked
// callers, which then fail with a Closed error. Only the first call has any
// effect; it returns the number of messages discarded.
func (r *Registry) Shutdown() int {
	discarded := 0

	r.shutdownOnce.Do(func() {
		r.closed.Store(true)

		for i := range r.channels {
			discarded += r.channels[i].close()
		}

		r.logger.Info("Channel registry shut down", zap.Int("discarded_messages", discarded))
	})

	return discarded
}

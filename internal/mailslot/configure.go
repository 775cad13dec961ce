package mailslot

import (
	"go.uber.org/zap"

	mserrors "github.com/actual-software/mailslot/internal/errors"
	"github.com/actual-software/mailslot/pkg/common/logging"
)

// Stats is a point-in-time snapshot of a channel.
type Stats struct {
	ID             int  `json:"id"`
	Capacity       int  `json:"capacity_bytes"`
	Free           int  `json:"free_bytes"`
	Messages       int  `json:"queued_messages"`
	QueuedBytes    int  `json:"queued_bytes"`
	Readers        int  `json:"blocked_readers"`
	Writers        int  `json:"blocked_writers"`
	MaxMessageSize int  `json:"max_message_size"`
	Mode           Mode `json:"blocking_mode"`
	Closed         bool `json:"closed"`
}

// SetMaxMessageSize changes the largest payload accepted by subsequent pushes.
// A push that already passed validation is not affected.
func (c *Channel) SetMaxMessageSize(n int) error {
	err := c.setMaxMessageSize(n)
	c.observer.OperationCompleted(c.id, OpConfigure, 0, err)

	return err
}

func (c *Channel) setMaxMessageSize(n int) error {
	if n <= 0 || n > c.ceiling {
		return c.newError(mserrors.KindInvalidConfig, OpConfigure).
			WithContext(logging.FieldMaxMessageSize, n).
			WithContext("ceiling", c.ceiling)
	}

	if err := c.lockConfig(); err != nil {
		return err
	}
	defer c.mu.Unlock()

	if c.closed {
		return c.newError(mserrors.KindClosed, OpConfigure)
	}

	if c.maxSize != n {
		c.logger.Info("Max message size changed",
			zap.Int("previous", c.maxSize),
			zap.Int(logging.FieldMaxMessageSize, n),
		)
	}

	c.maxSize = n

	return nil
}

// SetBlockingMode switches the channel between blocking and non-blocking
// operation. Switching to NonBlocking wakes every blocked caller so it re-tests
// its condition under the new mode.
func (c *Channel) SetBlockingMode(mode Mode) error {
	err := c.setBlockingMode(mode)
	c.observer.OperationCompleted(c.id, OpConfigure, 0, err)

	return err
}

func (c *Channel) setBlockingMode(mode Mode) error {
	if !mode.Valid() {
		return c.newError(mserrors.KindInvalidConfig, OpConfigure).
			WithContext(logging.FieldMode, int32(mode))
	}

	if err := c.lockConfig(); err != nil {
		return err
	}
	defer c.mu.Unlock()

	if c.closed {
		return c.newError(mserrors.KindClosed, OpConfigure)
	}

	previous := c.blockingMode()
	if previous == mode {
		return nil
	}

	c.mode.Store(int32(mode))

	released := 0
	if mode == NonBlocking {
		released = c.readers.broadcast() + c.writers.broadcast()
	}

	c.logger.Info("Blocking mode changed",
		zap.Stringer("previous", previous),
		zap.Stringer(logging.FieldMode, mode),
		zap.Int(logging.FieldWaiters, released),
	)

	return nil
}

// MaxMessageSize returns the current largest accepted payload size.
func (c *Channel) MaxMessageSize() (int, error) {
	if err := c.lockConfig(); err != nil {
		return 0, err
	}
	defer c.mu.Unlock()

	return c.maxSize, nil
}

// BlockingMode returns the current mode. It never takes the channel lock.
func (c *Channel) BlockingMode() Mode {
	return c.blockingMode()
}

// Stats returns a snapshot of the channel. It always waits for the lock since
// it is used by health and metrics rather than by channel clients.
func (c *Channel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		ID:             c.id,
		Capacity:       c.capacity,
		Free:           c.free,
		Messages:       c.queue.len(),
		QueuedBytes:    c.queue.bytes,
		Readers:        c.readers.len(),
		Writers:        c.writers.len(),
		MaxMessageSize: c.maxSize,
		Mode:           c.blockingMode(),
		Closed:         c.closed,
	}
}

// lockConfig acquires c.mu for a configuration call. A non-blocking channel
// never makes the caller wait for the lock. A caller that waited while the
// channel was switched to non-blocking fails as if it had found the lock
// contended.
func (c *Channel) lockConfig() error {
	if c.blockingMode() == Blocking {
		c.mu.Lock()

		if c.blockingMode() == Blocking {
			return nil
		}

		c.mu.Unlock()
	} else if c.mu.TryLock() {
		return nil
	}

	c.logger.Warn("Configuration rejected, channel lock contended")

	return c.newError(mserrors.KindBusy, OpConfigure)
}

// close drains the queue and releases every blocked caller. Later calls fail
// with a Closed error.
func (c *Channel) close() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0
	}

	c.closed = true

	released := c.queue.drain(c.alloc.Release)
	c.free = c.capacity
	c.checkAccounting()

	c.readers.broadcast()
	c.writers.broadcast()
	c.observer.QueueChanged(c.id, 0, 0)

	return released
}

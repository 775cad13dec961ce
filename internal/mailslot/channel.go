package mailslot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	mserrors "github.com/actual-software/mailslot/internal/errors"
	"github.com/actual-software/mailslot/pkg/common/logging"
)

const component = "mailslot"

// Allocator provides storage for queued payloads.
type Allocator interface {
	Alloc(n int) ([]byte, error)
	Release(buf []byte)
}

// Channel is one independent message queue instance.
//
// All mutable state is guarded by mu. mode is additionally mirrored in an
// atomic so a configuration call can decide between TryLock and Lock before
// holding mu; it is only written with mu held.
type Channel struct {
	id int

	mu       sync.Mutex
	queue    messageQueue
	readers  waitSet
	writers  waitSet
	capacity int
	free     int
	maxSize  int
	ceiling  int
	closed   bool
	mode     atomic.Int32

	// released counts pops. Writers waiting since an older value have not
	// yet tested against the capacity those pops freed.
	released uint64

	alloc    Allocator
	observer Observer
	logger   *zap.Logger
}

// channelConfig carries the values a Channel is built with.
type channelConfig struct {
	capacity int
	maxSize  int
	ceiling  int
	mode     Mode
	alloc    Allocator
	observer Observer
	logger   *zap.Logger
}

// init prepares c in place. Channels live in the registry table and are never copied.
func (c *Channel) init(id int, cfg channelConfig) {
	c.id = id
	c.capacity = cfg.capacity
	c.free = cfg.capacity
	c.maxSize = cfg.maxSize
	c.ceiling = cfg.ceiling
	c.mode.Store(int32(cfg.mode))
	c.alloc = cfg.alloc
	c.observer = cfg.observer
	c.logger = cfg.logger.With(zap.Int(logging.FieldChannelID, id))
}

// ID returns the channel id.
func (c *Channel) ID() int {
	return c.id
}

// Capacity returns the total payload bytes the channel may hold.
func (c *Channel) Capacity() int {
	return c.capacity
}

// Push appends payload as one message. The payload is copied; the caller may
// reuse it once Push returns.
//
// In blocking mode Push waits until enough capacity is free or ctx is done.
// In non-blocking mode it fails with an InsufficientSpace error instead.
func (c *Channel) Push(ctx context.Context, payload []byte) error {
	err := c.push(ctx, payload)

	size := 0
	if err == nil {
		size = len(payload)
	}

	c.observer.OperationCompleted(c.id, OpPush, size, err)

	return err
}

// Pop removes the head message and returns a copy of it. capacity is the
// largest message the caller accepts; a larger head message fails with a
// BufferTooSmall error and stays queued.
func (c *Channel) Pop(ctx context.Context, capacity int) ([]byte, error) {
	out, err := c.pop(ctx, capacity, nil)
	c.observer.OperationCompleted(c.id, OpPop, len(out), err)

	return out, err
}

// Read pops the head message into p and returns its size. len(p) is the
// buffer capacity, with the same all-or-nothing rule as Pop.
func (c *Channel) Read(ctx context.Context, p []byte) (int, error) {
	out, err := c.pop(ctx, len(p), p)
	c.observer.OperationCompleted(c.id, OpPop, len(out), err)

	return len(out), err
}

func (c *Channel) push(ctx context.Context, payload []byte) error {
	length := len(payload)

	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()

		return c.newError(mserrors.KindClosed, OpPush)
	}

	if length == 0 || length > c.maxSize {
		maxSize := c.maxSize
		c.mu.Unlock()

		return c.newError(mserrors.KindInvalidLength, OpPush).
			WithContext(logging.FieldLength, length).
			WithContext(logging.FieldMaxMessageSize, maxSize)
	}

	waited := false

	for c.free < length {
		if c.blockingMode() == NonBlocking {
			free := c.free
			c.mu.Unlock()

			return c.newError(mserrors.KindInsufficientSpace, OpPush).
				WithContext(logging.FieldLength, length).
				WithContext(logging.FieldFree, free)
		}

		// Capacity this writer cannot use may fit a writer queued behind it.
		if waited && c.free > 0 {
			c.writers.signalStale(c.released)
		}

		if err := c.wait(ctx, &c.writers, SideWriter, OpPush, waited); err != nil {
			c.mu.Unlock()

			return err
		}

		waited = true
	}

	buf, err := c.alloc.Alloc(length)
	if err != nil {
		if waited {
			c.writers.signalOne()
		}

		c.mu.Unlock()

		return mserrors.Wrap(err, mserrors.KindAllocationFailure, "allocate message storage").
			WithComponent(component).
			WithOperation(string(OpPush)).
			WithChannel(c.id).
			WithContext(logging.FieldLength, length)
	}

	copy(buf, payload)
	c.queue.push(message{payload: buf, size: length})
	c.free -= length
	c.checkAccounting()

	c.readers.signalOne()

	// A writer that was woken and succeeded hands leftover room to the next writer.
	if waited && c.free > 0 {
		c.writers.signalOne()
	}

	c.observer.QueueChanged(c.id, c.queue.len(), c.queue.bytes)
	c.mu.Unlock()

	return nil
}

// pop implements Pop and Read. When dst is non-nil the payload is copied into
// it and the returned slice aliases dst.
func (c *Channel) pop(ctx context.Context, capacity int, dst []byte) ([]byte, error) {
	if capacity <= 0 {
		return nil, c.newError(mserrors.KindInvalidLength, OpPop).
			WithContext(logging.FieldBufferSize, capacity)
	}

	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()

		return nil, c.newError(mserrors.KindClosed, OpPop)
	}

	waited := false

	for c.queue.empty() {
		if c.blockingMode() == NonBlocking {
			c.mu.Unlock()

			return nil, c.newError(mserrors.KindNoMessage, OpPop)
		}

		if err := c.wait(ctx, &c.readers, SideReader, OpPop, waited); err != nil {
			c.mu.Unlock()

			return nil, err
		}

		waited = true
	}

	head := c.queue.peek()
	if capacity < head.size {
		size := head.size

		// The wake that brought us here was for this message; pass it on.
		if waited {
			c.readers.signalOne()
		}

		c.mu.Unlock()

		return nil, c.newError(mserrors.KindBufferTooSmall, OpPop).
			WithContext(logging.FieldBufferSize, capacity).
			WithContext(logging.FieldLength, size)
	}

	msg := c.queue.pop()

	out := dst
	if out == nil {
		out = make([]byte, msg.size)
	}

	out = out[:copy(out, msg.payload[:msg.size])]
	c.alloc.Release(msg.payload)
	c.free += msg.size
	c.checkAccounting()
	c.released++

	c.writers.signalOne()

	if waited && !c.queue.empty() {
		c.readers.signalOne()
	}

	c.observer.QueueChanged(c.id, c.queue.len(), c.queue.bytes)
	c.mu.Unlock()

	return out, nil
}

// wait suspends the caller in ws until it is signalled or ctx is done.
// c.mu must be held on entry and is held again on return, including on error.
// retry is true when the caller already waited once and was woken without its
// condition holding; it then keeps its turn at the front of the set.
func (c *Channel) wait(ctx context.Context, ws *waitSet, side Side, op Op, retry bool) error {
	var w *waiter
	if retry {
		w = ws.requeue()
	} else {
		w = ws.enqueue()
	}

	w.gen = c.released

	c.observer.WaitChanged(c.id, side, 1)

	if ce := c.logger.Check(zap.DebugLevel, "Blocking caller"); ce != nil {
		ce.Write(
			zap.String(logging.FieldSide, string(side)),
			zap.String(logging.FieldOperation, string(op)),
			zap.Int(logging.FieldWaiters, ws.len()),
		)
	}

	start := time.Now()

	c.mu.Unlock()

	cancelled := false

	select {
	case <-w.ready:
	case <-ctx.Done():
		cancelled = true
	}

	c.mu.Lock()

	if !cancelled {
		w.woken = true
	}

	ws.remove(w)
	c.observer.WaitChanged(c.id, side, -1)
	c.observer.WaitFinished(c.id, side, time.Since(start))

	if cancelled {
		// A wake posted concurrently with the cancellation would otherwise be lost.
		if w.claimed {
			ws.signalOne()
		}

		c.logger.Debug("Blocked caller interrupted",
			zap.String(logging.FieldSide, string(side)),
			zap.String(logging.FieldOperation, string(op)),
			zap.Error(ctx.Err()),
		)

		return mserrors.Wrap(ctx.Err(), mserrors.KindInterrupted, "blocked operation interrupted").
			WithComponent(component).
			WithOperation(string(op)).
			WithChannel(c.id)
	}

	if c.closed {
		return c.newError(mserrors.KindClosed, op)
	}

	return nil
}

// checkAccounting panics if the capacity invariant is broken. That is a bug,
// never a caller error.
func (c *Channel) checkAccounting() {
	if c.free < 0 || c.free+c.queue.bytes != c.capacity {
		panic(fmt.Sprintf("mailslot: channel %d accounting broken: free=%d queued=%d capacity=%d",
			c.id, c.free, c.queue.bytes, c.capacity))
	}
}

func (c *Channel) blockingMode() Mode {
	return Mode(c.mode.Load())
}

func (c *Channel) newError(kind mserrors.Kind, op Op) *mserrors.Error {
	return mserrors.New(kind).
		WithComponent(component).
		WithOperation(string(op)).
		WithChannel(c.id)
}

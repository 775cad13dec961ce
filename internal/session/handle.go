package session

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	mslog "github.com/actual-software/mailslot/internal/logging"
	"github.com/actual-software/mailslot/internal/mailslot"
	"github.com/actual-software/mailslot/pkg/common/logging"
)

// Handle is one open session on a channel. Calls already in progress when
// the handle is closed run to completion; later calls fail with an
// InvalidHandle error.
type Handle struct {
	ID       string
	OpenedAt time.Time

	channel *mailslot.Channel
	manager *Manager
	closed  atomic.Bool
}

// ChannelID returns the id of the channel the handle is open on.
func (h *Handle) ChannelID() int {
	return h.channel.ID()
}

// Push appends payload to the channel.
func (h *Handle) Push(ctx context.Context, payload []byte) error {
	return h.run(ctx, string(mailslot.OpPush), func(ctx context.Context) error {
		return h.channel.Push(ctx, payload)
	}, attribute.Int("mailslot.length", len(payload)))
}

// Pop removes the head message, accepting messages of up to capacity bytes.
func (h *Handle) Pop(ctx context.Context, capacity int) ([]byte, error) {
	var out []byte

	err := h.run(ctx, string(mailslot.OpPop), func(ctx context.Context) error {
		var err error
		out, err = h.channel.Pop(ctx, capacity)

		return err
	}, attribute.Int("mailslot.buffer_size", capacity))

	return out, err
}

// Read pops the head message into p.
func (h *Handle) Read(ctx context.Context, p []byte) (int, error) {
	var n int

	err := h.run(ctx, "read", func(ctx context.Context) error {
		var err error
		n, err = h.channel.Read(ctx, p)

		return err
	}, attribute.Int("mailslot.buffer_size", len(p)))

	return n, err
}

// SetMaxMessageSize configures the channel's max message size.
func (h *Handle) SetMaxMessageSize(ctx context.Context, n int) error {
	return h.run(ctx, "set_max_message_size", func(context.Context) error {
		return h.channel.SetMaxMessageSize(n)
	}, attribute.Int("mailslot.max_message_size", n))
}

// SetBlockingMode configures the channel's blocking mode.
func (h *Handle) SetBlockingMode(ctx context.Context, mode mailslot.Mode) error {
	return h.run(ctx, "set_blocking_mode", func(context.Context) error {
		return h.channel.SetBlockingMode(mode)
	}, attribute.String("mailslot.mode", mode.String()))
}

// MaxMessageSize queries the channel's max message size.
func (h *Handle) MaxMessageSize(ctx context.Context) (int, error) {
	var n int

	err := h.run(ctx, "get_max_message_size", func(context.Context) error {
		var err error
		n, err = h.channel.MaxMessageSize()

		return err
	})

	return n, err
}

// Stats returns a snapshot of the channel.
func (h *Handle) Stats() (mailslot.Stats, error) {
	if h.closed.Load() {
		return mailslot.Stats{}, invalidHandle(h.ID, "stats")
	}

	return h.channel.Stats(), nil
}

// Close releases the handle. Closing twice fails with an InvalidHandle error.
func (h *Handle) Close() error {
	if !h.closed.CompareAndSwap(false, true) || !h.manager.release(h) {
		return invalidHandle(h.ID, "close")
	}

	return nil
}

func (h *Handle) run(ctx context.Context, op string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	if h.closed.Load() {
		return invalidHandle(h.ID, op)
	}

	ctx = logging.WithCorrelation(ctx)

	attrs = append(attrs,
		attribute.Int("mailslot.channel_id", h.channel.ID()),
		attribute.String("mailslot.handle_id", h.ID),
	)

	ctx, span := h.manager.tracer.StartSpan(ctx, "mailslot."+op, attrs...)

	start := time.Now()
	err := fn(ctx)

	if err != nil {
		mslog.LogError(ctx, h.manager.logger, "Channel operation failed", err,
			zap.String(logging.FieldOperation, op),
			zap.String(logging.FieldHandleID, h.ID),
			zap.Int(logging.FieldChannelID, h.channel.ID()),
			zap.Float64(logging.FieldDuration, float64(time.Since(start).Microseconds())/1000),
		)
	}

	h.manager.tracer.EndSpan(span, err)

	return err
}

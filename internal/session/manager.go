// Package session tracks open channel handles and routes every channel call
// through tracing and structured logging.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	mserrors "github.com/actual-software/mailslot/internal/errors"
	"github.com/actual-software/mailslot/internal/mailslot"
	"github.com/actual-software/mailslot/internal/tracing"
	"github.com/actual-software/mailslot/pkg/common/logging"
)

const component = "session"

// HandleMetrics records open handle counts.
type HandleMetrics interface {
	IncrementOpenHandles()
	DecrementOpenHandles()
}

type nopHandleMetrics struct{}

func (nopHandleMetrics) IncrementOpenHandles() {}
func (nopHandleMetrics) DecrementOpenHandles() {}

// Option configures a Manager.
type Option func(*Manager)

// WithTracer traces every handle operation.
func WithTracer(tracer *tracing.Tracer) Option {
	return func(m *Manager) {
		if tracer != nil {
			m.tracer = tracer
		}
	}
}

// WithMetrics records handle counts.
func WithMetrics(metrics HandleMetrics) Option {
	return func(m *Manager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// Manager opens and closes handles on registry channels.
type Manager struct {
	registry *mailslot.Registry
	tracer   *tracing.Tracer
	metrics  HandleMetrics
	logger   *zap.Logger

	mu         sync.RWMutex
	handles    map[string]*Handle
	perChannel map[int]int
}

// NewManager creates a handle manager over registry.
func NewManager(registry *mailslot.Registry, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		registry:   registry,
		tracer:     tracing.Noop(),
		metrics:    nopHandleMetrics{},
		logger:     logger.With(zap.String(logging.FieldComponent, component)),
		handles:    make(map[string]*Handle),
		perChannel: make(map[int]int),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Open returns a new handle on channel id.
func (m *Manager) Open(ctx context.Context, id int) (*Handle, error) {
	ch, err := m.registry.Lookup(id)
	if err != nil {
		return nil, err
	}

	if m.registry.Closed() {
		return nil, mserrors.New(mserrors.KindClosed).
			WithComponent(component).
			WithOperation("open").
			WithChannel(id)
	}

	h := &Handle{
		ID:       uuid.NewString(),
		OpenedAt: time.Now(),
		channel:  ch,
		manager:  m,
	}

	m.mu.Lock()
	m.handles[h.ID] = h
	m.perChannel[id]++
	open := m.perChannel[id]
	m.mu.Unlock()

	m.metrics.IncrementOpenHandles()

	logging.LoggerWithCorrelation(ctx, m.logger).Debug("Handle opened",
		zap.String(logging.FieldHandleID, h.ID),
		zap.Int(logging.FieldChannelID, id),
		zap.Int("open_handles", open),
	)

	return h, nil
}

// Get returns the open handle with the given id.
func (m *Manager) Get(handleID string) (*Handle, error) {
	m.mu.RLock()
	h, exists := m.handles[handleID]
	m.mu.RUnlock()

	if !exists {
		return nil, invalidHandle(handleID, "get")
	}

	return h, nil
}

// OpenHandles returns how many handles are open on channel id.
func (m *Manager) OpenHandles(id int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.perChannel[id]
}

// Len returns the number of open handles.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.handles)
}

// CloseAll closes every open handle and returns how many were closed.
func (m *Manager) CloseAll() int {
	m.mu.RLock()
	open := make([]*Handle, 0, len(m.handles))

	for _, h := range m.handles {
		open = append(open, h)
	}
	m.mu.RUnlock()

	closed := 0

	for _, h := range open {
		if h.Close() == nil {
			closed++
		}
	}

	if closed > 0 {
		m.logger.Info("Closed open handles", zap.Int("handles", closed))
	}

	return closed
}

// release removes h from the manager. Reports false if it was already gone.
func (m *Manager) release(h *Handle) bool {
	m.mu.Lock()

	if _, exists := m.handles[h.ID]; !exists {
		m.mu.Unlock()

		return false
	}

	delete(m.handles, h.ID)

	id := h.channel.ID()

	m.perChannel[id]--
	if m.perChannel[id] == 0 {
		delete(m.perChannel, id)
	}
	m.mu.Unlock()

	m.metrics.DecrementOpenHandles()
	m.logger.Debug("Handle closed",
		zap.String(logging.FieldHandleID, h.ID),
		zap.Int(logging.FieldChannelID, id),
		zap.Duration("open_for", time.Since(h.OpenedAt)),
	)

	return true
}

func invalidHandle(handleID, operation string) *mserrors.Error {
	return mserrors.New(mserrors.KindInvalidHandle).
		WithComponent(component).
		WithOperation(operation).
		WithContext(logging.FieldHandleID, handleID)
}

// Package health reports registry health and serves it over HTTP.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/actual-software/mailslot/internal/mailslot"
	"github.com/actual-software/mailslot/pkg/common/logging"
)

const defaultCheckInterval = 30 * time.Second

// Channels is the part of the registry the checker reads.
type Channels interface {
	Len() int
	Stats() []mailslot.Stats
	Closed() bool
}

// Sessions reports the number of open handles.
type Sessions interface {
	Len() int
}

// Status represents the health status.
type Status struct {
	Healthy        bool                   `json:"healthy"`
	Ready          bool                   `json:"ready"`
	Message        string                 `json:"message"`
	Channels       int                    `json:"channels"`
	QueuedMessages int                    `json:"queued_messages"`
	QueuedBytes    int                    `json:"queued_bytes"`
	BlockedReaders int                    `json:"blocked_readers"`
	BlockedWriters int                    `json:"blocked_writers"`
	NonBlocking    int                    `json:"non_blocking_channels"`
	OpenHandles    int                    `json:"open_handles"`
	Checks         map[string]CheckResult `json:"checks"`
	Timestamp      time.Time              `json:"timestamp"`
	Version        string                 `json:"version,omitempty"`
	Uptime         string                 `json:"uptime"`
}

// CheckResult represents a health check result.
type CheckResult struct {
	Healthy   bool      `json:"healthy"`
	Message   string    `json:"message"`
	LastCheck time.Time `json:"last_check"`
	Details   any       `json:"details,omitempty"`
}

// Option configures a Checker.
type Option func(*Checker)

// WithSessions includes the open handle count in the status.
func WithSessions(sessions Sessions) Option {
	return func(c *Checker) {
		c.sessions = sessions
	}
}

// WithVersion reports version in the status.
func WithVersion(version string) Option {
	return func(c *Checker) {
		c.version = version
	}
}

// Checker performs health checks against a channel registry.
type Checker struct {
	channels Channels
	sessions Sessions
	logger   *zap.Logger
	version  string
	started  time.Time

	status   Status
	statusMu sync.RWMutex
	ready    bool
}

// NewChecker creates a checker for channels.
func NewChecker(channels Channels, logger *zap.Logger, opts ...Option) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Checker{
		channels: channels,
		logger:   logger.With(zap.String(logging.FieldComponent, "health")),
		started:  time.Now(),
		status: Status{
			Healthy:   true,
			Message:   "Starting up",
			Checks:    make(map[string]CheckResult),
			Timestamp: time.Now(),
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// SetReady marks the process as ready, or not, to serve traffic.
func (c *Checker) SetReady(ready bool) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()

	c.ready = ready
}

// IsHealthy returns true if the last check passed.
func (c *Checker) IsHealthy() bool {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()

	return c.status.Healthy
}

// IsReady returns true if the process is marked ready and the registry is open.
func (c *Checker) IsReady() bool {
	c.statusMu.RLock()
	ready := c.ready
	c.statusMu.RUnlock()

	return ready && !c.channels.Closed()
}

// GetStatus returns a copy of the last computed status.
func (c *Checker) GetStatus() Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()

	status := c.status
	status.Checks = make(map[string]CheckResult, len(c.status.Checks))

	for k, v := range c.status.Checks {
		status.Checks[k] = v
	}

	return status
}

// Check runs every check now and returns the resulting status.
func (c *Checker) Check() Status {
	c.performChecks()

	return c.GetStatus()
}

// RunChecks checks every interval until ctx ends. interval <= 0 uses the default.
func (c *Checker) RunChecks(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.performChecks()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.performChecks()
		}
	}
}

func (c *Checker) performChecks() {
	now := time.Now()
	stats := c.channels.Stats()

	status := Status{
		Channels:  c.channels.Len(),
		Checks:    make(map[string]CheckResult),
		Timestamp: now,
		Version:   c.version,
		Uptime:    time.Since(c.started).Truncate(time.Second).String(),
	}

	for _, s := range stats {
		status.QueuedMessages += s.Messages
		status.QueuedBytes += s.QueuedBytes
		status.BlockedReaders += s.Readers
		status.BlockedWriters += s.Writers

		if s.Mode == mailslot.NonBlocking {
			status.NonBlocking++
		}
	}

	if c.sessions != nil {
		status.OpenHandles = c.sessions.Len()
	}

	status.Checks["registry"] = c.checkRegistry(now)
	status.Checks["accounting"] = c.checkAccounting(stats, now)

	status.Healthy = true
	status.Message = "All systems operational"

	for _, name := range []string{"registry", "accounting"} {
		if !status.Checks[name].Healthy {
			status.Healthy = false
			status.Message = name + " is unhealthy"

			break
		}
	}

	c.statusMu.Lock()
	wasHealthy := c.status.Healthy
	status.Ready = c.ready && !c.channels.Closed()
	c.status = status
	c.statusMu.Unlock()

	if wasHealthy && !status.Healthy {
		c.logger.Warn("Health check failed", zap.String("message", status.Message))
	}
}

func (c *Checker) checkRegistry(now time.Time) CheckResult {
	if c.channels.Closed() {
		return CheckResult{
			Healthy:   false,
			Message:   "Registry shut down",
			LastCheck: now,
		}
	}

	return CheckResult{
		Healthy:   true,
		Message:   fmt.Sprintf("%d channels open", c.channels.Len()),
		LastCheck: now,
	}
}

// checkAccounting verifies free plus queued bytes equals capacity on every
// channel.
func (c *Checker) checkAccounting(stats []mailslot.Stats, now time.Time) CheckResult {
	var broken []int

	for _, s := range stats {
		if s.Free+s.QueuedBytes != s.Capacity {
			broken = append(broken, s.ID)
		}
	}

	if len(broken) > 0 {
		return CheckResult{
			Healthy:   false,
			Message:   fmt.Sprintf("%d channels with inconsistent byte accounting", len(broken)),
			LastCheck: now,
			Details:   broken,
		}
	}

	return CheckResult{
		Healthy:   true,
		Message:   "Byte accounting consistent",
		LastCheck: now,
	}
}

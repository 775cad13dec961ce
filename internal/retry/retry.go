// Package retry repeats non-blocking channel calls that failed only because
// the channel was momentarily empty, full, or busy.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"math"
	"time"

	"go.uber.org/zap"

	mserrors "github.com/actual-software/mailslot/internal/errors"
)

const (
	fallbackModulo            = 1000.0
	defaultMaxAttempts        = 50
	defaultInitialInterval    = 100 * time.Microsecond
	defaultMaxIntervalSeconds = 1
	defaultMultiplier         = 2.0
	defaultRandomizeFactor    = 0.2
)

// secureRandom returns a random float64 in [0, 1).
func secureRandom() float64 {
	var b [8]byte

	if _, err := rand.Read(b[:]); err != nil {
		return float64(time.Now().UnixNano()%int64(fallbackModulo)) / fallbackModulo
	}

	return float64(binary.LittleEndian.Uint64(b[:])>>11) / (1 << 53)
}

// Config defines retry behavior. MaxAttempts <= 0 retries until the context
// ends.
type Config struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	RandomizeFactor float64
}

// DefaultConfig returns a backoff tuned for in-process channel contention.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     defaultMaxAttempts,
		InitialInterval: defaultInitialInterval,
		MaxInterval:     defaultMaxIntervalSeconds * time.Second,
		Multiplier:      defaultMultiplier,
		RandomizeFactor: defaultRandomizeFactor,
	}
}

// Transient reports whether err is a would-block outcome that may succeed
// later without any change by the caller.
func Transient(err error) bool {
	switch mserrors.KindOf(err) {
	case mserrors.KindInsufficientSpace, mserrors.KindNoMessage, mserrors.KindBusy:
		return true
	default:
		return false
	}
}

// Policy decides whether and when to try again.
type Policy interface {
	ShouldRetry(err error, attempt int) bool
	NextInterval(attempt int) time.Duration
}

// ExponentialBackoff retries transient errors with jittered exponential delays.
type ExponentialBackoff struct {
	config Config
}

// NewExponentialBackoff creates an exponential backoff policy.
func NewExponentialBackoff(config Config) *ExponentialBackoff {
	return &ExponentialBackoff{config: config}
}

// ShouldRetry reports whether attempt may be followed by another.
func (p *ExponentialBackoff) ShouldRetry(err error, attempt int) bool {
	if p.config.MaxAttempts > 0 && attempt >= p.config.MaxAttempts {
		return false
	}

	return Transient(err)
}

// NextInterval returns the delay after attempt.
func (p *ExponentialBackoff) NextInterval(attempt int) time.Duration {
	interval := float64(p.config.InitialInterval) * math.Pow(p.config.Multiplier, float64(attempt-1))

	if interval > float64(p.config.MaxInterval) {
		interval = float64(p.config.MaxInterval)
	}

	if p.config.RandomizeFactor > 0 {
		delta := interval * p.config.RandomizeFactor
		minInterval := interval - delta
		maxInterval := interval + delta

		interval = minInterval + (secureRandom() * (maxInterval - minInterval))
	}

	return time.Duration(interval)
}

// Operation is a retryable call.
type Operation func(ctx context.Context) error

// Retrier runs operations under a policy.
type Retrier struct {
	policy Policy
	logger *zap.Logger
}

// New creates a Retrier.
func New(policy Policy, logger *zap.Logger) *Retrier {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Retrier{
		policy: policy,
		logger: logger,
	}
}

// Do runs op until it succeeds, fails with an error the policy will not
// retry, or ctx ends. Cancellation is reported as an Interrupted error.
func (r *Retrier) Do(ctx context.Context, op Operation) error {
	start := time.Now()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return mserrors.Wrap(err, mserrors.KindInterrupted, "operation canceled")
		}

		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Debug("Operation succeeded after retry",
					zap.Int("attempts", attempt),
					zap.Duration("total_duration", time.Since(start)),
				)
			}

			return nil
		}

		if !r.policy.ShouldRetry(err, attempt) {
			if attempt > 1 {
				r.logger.Debug("Operation failed, no more retries",
					zap.Int("attempts", attempt),
					zap.Error(err),
				)
			}

			return err
		}

		timer := time.NewTimer(r.policy.NextInterval(attempt))

		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()

			return mserrors.Wrap(ctx.Err(), mserrors.KindInterrupted, "operation canceled during retry")
		}
	}
}

// Package stress runs concurrent writers and readers against one channel and
// verifies that every payload is received exactly once.
package stress

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/actual-software/mailslot/internal/config"
	mserrors "github.com/actual-software/mailslot/internal/errors"
	"github.com/actual-software/mailslot/internal/mailslot"
	"github.com/actual-software/mailslot/internal/retry"
	"github.com/actual-software/mailslot/internal/session"
	"github.com/actual-software/mailslot/pkg/common/logging"
)

const (
	charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJK"

	retryInitialInterval = 50 * time.Microsecond
	retryMaxInterval     = 10 * time.Millisecond
	retryMultiplier      = 2.0
	retryRandomizeFactor = 0.2
	bytesToMBDivisor     = 1024
)

// Report summarizes a run. A run passed when every sent payload was received
// exactly once.
type Report struct {
	Channel    int            `json:"channel"`
	Mode       mailslot.Mode  `json:"mode"`
	Writers    int            `json:"writers"`
	Readers    int            `json:"readers"`
	Sent       int            `json:"sent"`
	Received   int            `json:"received"`
	Bytes      int64          `json:"bytes"`
	Duplicates int            `json:"duplicates"`
	Unexpected int            `json:"unexpected"`
	Missing    int            `json:"missing"`
	Retries    int64          `json:"retries"`
	Duration   time.Duration  `json:"duration"`
	Push       LatencySummary `json:"push_latency"`
	Pop        LatencySummary `json:"pop_latency"`
}

// OK reports whether the run delivered every payload exactly once.
func (r *Report) OK() bool {
	return r.Duplicates == 0 && r.Unexpected == 0 && r.Missing == 0 && r.Sent == r.Received
}

// Format renders the report for a terminal.
func (r *Report) Format() string {
	var builder strings.Builder

	builder.WriteString(fmt.Sprintf("Channel: %d (%s)\n", r.Channel, r.Mode))
	builder.WriteString(fmt.Sprintf("Writers: %d  Readers: %d\n", r.Writers, r.Readers))
	builder.WriteString(fmt.Sprintf("Duration: %v\n", r.Duration))
	builder.WriteString(fmt.Sprintf("Sent: %d  Received: %d  Retries: %d\n", r.Sent, r.Received, r.Retries))
	builder.WriteString(fmt.Sprintf("Duplicates: %d  Unexpected: %d  Missing: %d\n", r.Duplicates, r.Unexpected, r.Missing))
	builder.WriteString("\n")

	writeLatency(&builder, "Push", r.Push)
	writeLatency(&builder, "Pop", r.Pop)

	if r.Duration > 0 {
		builder.WriteString("Throughput:\n")
		builder.WriteString(fmt.Sprintf("  Messages/sec: %.2f\n", float64(r.Received)/r.Duration.Seconds()))
		builder.WriteString(fmt.Sprintf("  Bytes/sec: %.2f MB\n",
			float64(r.Bytes)/r.Duration.Seconds()/bytesToMBDivisor/bytesToMBDivisor))
	}

	if r.OK() {
		builder.WriteString("\nResult: PASS\n")
	} else {
		builder.WriteString("\nResult: FAIL\n")
	}

	return builder.String()
}

func writeLatency(builder *strings.Builder, name string, s LatencySummary) {
	builder.WriteString(fmt.Sprintf("%s latency (%d calls):\n", name, s.Count))
	builder.WriteString(fmt.Sprintf("  Min: %v  Avg: %v  Max: %v\n", s.Min, s.Avg, s.Max))
	builder.WriteString(fmt.Sprintf("  P50: %v  P95: %v  P99: %v\n", s.P50, s.P95, s.P99))
	builder.WriteString("\n")
}

// Runner drives a stress run through session handles.
type Runner struct {
	manager *session.Manager
	config  config.StressConfig
	logger  *zap.Logger
}

// NewRunner creates a runner over manager.
func NewRunner(manager *session.Manager, cfg config.StressConfig, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Runner{
		manager: manager,
		config:  cfg,
		logger:  logger.With(zap.String(logging.FieldComponent, "stress")),
	}
}

// Run executes the exchange. It returns an error when the run could not
// complete; a completed run with lost or duplicated payloads is reported
// through Report.OK.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	cfg := r.config

	if cfg.Writers <= 0 || cfg.Readers <= 0 || cfg.MessagesPerWriter <= 0 || cfg.MaxMessageLength <= 0 {
		return nil, mserrors.Newf(mserrors.KindInvalidConfig,
			"stress run needs writers, readers, messages and a message length").WithComponent("stress")
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	probe, err := r.manager.Open(ctx, cfg.Channel)
	if err != nil {
		return nil, err
	}

	defer func() { _ = probe.Close() }()

	stats, err := probe.Stats()
	if err != nil {
		return nil, err
	}

	maxLen := min(cfg.MaxMessageLength, stats.MaxMessageSize)

	payloads, err := generate(cfg, maxLen)
	if err != nil {
		return nil, err
	}

	expected := make(map[string]int, cfg.Writers*cfg.MessagesPerWriter)
	for _, batch := range payloads {
		for _, p := range batch {
			expected[string(p)]++
		}
	}

	report := &Report{
		Channel: cfg.Channel,
		Mode:    stats.Mode,
		Writers: cfg.Writers,
		Readers: cfg.Readers,
	}

	r.logger.Info("Starting stress run",
		zap.Int(logging.FieldChannelID, cfg.Channel),
		zap.String(logging.FieldMode, stats.Mode.String()),
		zap.Int("writers", cfg.Writers),
		zap.Int("readers", cfg.Readers),
		zap.Int("messages_per_writer", cfg.MessagesPerWriter),
	)

	ex := &exchange{
		total:    len(expected),
		mode:     stats.Mode,
		capacity: maxLen,
		retrier: retry.New(retry.NewExponentialBackoff(retry.Config{
			InitialInterval: retryInitialInterval,
			MaxInterval:     retryMaxInterval,
			Multiplier:      retryMultiplier,
			RandomizeFactor: retryRandomizeFactor,
		}), r.logger),
		pushLatency: newLatencyRecorder(len(expected)),
		popLatency:  newLatencyRecorder(len(expected)),
		seen:        make(map[string]int, len(expected)),
	}

	start := time.Now()

	if err := r.runExchange(ctx, ex, payloads); err != nil {
		r.logger.Warn("Stress run aborted", zap.Error(err))

		return nil, err
	}

	report.Duration = time.Since(start)
	report.Sent = int(ex.sent.Load())
	report.Received = int(ex.received.Load())
	report.Bytes = ex.bytes.Load()
	report.Retries = ex.retries.Load()
	report.Push = ex.pushLatency.summary()
	report.Pop = ex.popLatency.summary()

	for payload, count := range ex.seen {
		want, ok := expected[payload]

		switch {
		case !ok:
			report.Unexpected += count
		case count > want:
			report.Duplicates += count - want
		}
	}

	for payload, want := range expected {
		if got := ex.seen[payload]; got < want {
			report.Missing += want - got
		}
	}

	r.logger.Info("Stress run finished",
		zap.Int("sent", report.Sent),
		zap.Int("received", report.Received),
		zap.Int("missing", report.Missing),
		zap.Int("duplicates", report.Duplicates),
		zap.Duration("duration", report.Duration),
	)

	return report, nil
}

// exchange holds the shared state of one run.
type exchange struct {
	total    int
	mode     mailslot.Mode
	capacity int
	retrier  *retry.Retrier

	sent     atomic.Int64
	received atomic.Int64
	bytes    atomic.Int64
	retries  atomic.Int64

	pushLatency *latencyRecorder
	popLatency  *latencyRecorder

	mu   sync.Mutex
	seen map[string]int
}

func (r *Runner) runExchange(ctx context.Context, ex *exchange, payloads [][][]byte) error {
	g, gctx := errgroup.WithContext(ctx)

	// Readers stop on their own context once the last payload arrives, so a
	// reader still blocked in Pop is released with Interrupted.
	readCtx, stopReaders := context.WithCancel(gctx)
	defer stopReaders()

	for _, batch := range payloads {
		g.Go(func() error {
			return r.write(gctx, ex, batch)
		})
	}

	for range r.config.Readers {
		g.Go(func() error {
			return r.read(readCtx, gctx, ex, stopReaders)
		})
	}

	return g.Wait()
}

func (r *Runner) write(ctx context.Context, ex *exchange, batch [][]byte) error {
	h, err := r.manager.Open(ctx, r.config.Channel)
	if err != nil {
		return err
	}

	defer func() { _ = h.Close() }()

	for _, payload := range batch {
		start := time.Now()

		if err := ex.call(ctx, func(ctx context.Context) error {
			return h.Push(ctx, payload)
		}); err != nil {
			return err
		}

		ex.pushLatency.record(time.Since(start))
		ex.sent.Add(1)
	}

	return nil
}

func (r *Runner) read(readCtx, runCtx context.Context, ex *exchange, stop context.CancelFunc) error {
	h, err := r.manager.Open(runCtx, r.config.Channel)
	if err != nil {
		return err
	}

	defer func() { _ = h.Close() }()

	for int(ex.received.Load()) < ex.total {
		var msg []byte

		start := time.Now()

		err := ex.call(readCtx, func(ctx context.Context) error {
			var err error
			msg, err = h.Pop(ctx, ex.capacity)

			return err
		})
		if err != nil {
			if readCtx.Err() != nil && runCtx.Err() == nil {
				return nil
			}

			return err
		}

		ex.popLatency.record(time.Since(start))
		ex.bytes.Add(int64(len(msg)))

		ex.mu.Lock()
		ex.seen[string(msg)]++
		ex.mu.Unlock()

		if int(ex.received.Add(1)) >= ex.total {
			stop()
		}
	}

	return nil
}

// call runs op once in blocking mode and retries would-block failures in
// non-blocking mode.
func (ex *exchange) call(ctx context.Context, op retry.Operation) error {
	if ex.mode == mailslot.Blocking {
		return op(ctx)
	}

	attempts := 0

	err := ex.retrier.Do(ctx, func(ctx context.Context) error {
		attempts++

		return op(ctx)
	})

	if attempts > 1 {
		ex.retries.Add(int64(attempts - 1))
	}

	return err
}

// generate builds every writer's payloads up front. Each payload starts with
// a writer/sequence prefix so payloads are unique.
func generate(cfg config.StressConfig, maxLen int) ([][][]byte, error) {
	longest := len(prefix(cfg.Writers-1, cfg.MessagesPerWriter-1))
	if longest > maxLen {
		return nil, mserrors.Newf(mserrors.KindInvalidConfig,
			"max message length %d cannot hold a %d byte payload prefix", maxLen, longest).WithComponent("stress")
	}

	payloads := make([][][]byte, cfg.Writers)

	for w := range cfg.Writers {
		//nolint:gosec // Payload content, not security sensitive.
		rng := rand.New(rand.NewPCG(uint64(cfg.Seed), uint64(w)))
		batch := make([][]byte, cfg.MessagesPerWriter)

		for seq := range cfg.MessagesPerWriter {
			p := []byte(prefix(w, seq))
			n := len(p) + rng.IntN(maxLen-len(p)+1)

			for len(p) < n {
				p = append(p, charset[rng.IntN(len(charset))])
			}

			batch[seq] = p
		}

		payloads[w] = batch
	}

	return payloads, nil
}

func prefix(writer, seq int) string {
	return strconv.Itoa(writer) + ":" + strconv.Itoa(seq) + ":"
}

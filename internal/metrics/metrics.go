// Package metrics provides Prometheus metrics collection for mailslot channels.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mserrors "github.com/actual-software/mailslot/internal/errors"
	"github.com/actual-software/mailslot/internal/mailslot"
	common "github.com/actual-software/mailslot/pkg/common/metrics"
)

// Registry holds all Prometheus metrics. It implements mailslot.Observer.
type Registry struct {
	// Operation metrics
	OperationsTotal *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	BytesTotal      *prometheus.CounterVec

	// Wait metrics
	BlockedCallers *prometheus.GaugeVec
	WaitDuration   *prometheus.HistogramVec

	// Queue metrics
	QueuedMessages *prometheus.GaugeVec
	QueuedBytes    *prometheus.GaugeVec

	// Session metrics
	OpenHandles prometheus.Gauge

	registry *prometheus.Registry
}

var _ mailslot.Observer = (*Registry)(nil)

type operationMetricsSet struct {
	total  *prometheus.CounterVec
	errors *prometheus.CounterVec
	bytes  *prometheus.CounterVec
}

func createOperationMetrics(factory promauto.Factory) operationMetricsSet {
	return operationMetricsSet{
		total: factory.NewCounterVec(prometheus.CounterOpts{
			Name: common.ChannelMetric(common.MetricOperationsTotal),
			Help: "Total number of channel operations by operation and status",
		}, []string{common.LabelOperation, common.LabelStatus}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: common.ChannelMetric(common.MetricErrorsTotal),
			Help: "Total number of failed channel operations by operation and error kind",
		}, []string{common.LabelOperation, common.LabelKind}),
		bytes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: common.ChannelMetric(common.MetricBytesTotal),
			Help: "Total payload bytes moved through channels",
		}, []string{common.LabelDirection}),
	}
}

type queueMetricsSet struct {
	blocked  *prometheus.GaugeVec
	wait     *prometheus.HistogramVec
	messages *prometheus.GaugeVec
	bytes    *prometheus.GaugeVec
}

func createQueueMetrics(factory promauto.Factory) queueMetricsSet {
	return queueMetricsSet{
		blocked: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: common.ChannelMetric(common.MetricBlockedCallers),
			Help: "Number of callers currently suspended on a channel",
		}, []string{common.LabelChannel, common.LabelSide}),
		wait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    common.ChannelMetric(common.MetricWaitDurationSeconds),
			Help:    "Time callers spent suspended before resuming",
			Buckets: prometheus.DefBuckets,
		}, []string{common.LabelSide}),
		messages: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: common.ChannelMetric(common.MetricQueuedMessages),
			Help: "Number of messages queued per channel",
		}, []string{common.LabelChannel}),
		bytes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: common.ChannelMetric(common.MetricQueuedBytes),
			Help: "Payload bytes queued per channel",
		}, []string{common.LabelChannel}),
	}
}

// NewRegistry creates a metrics registry backed by its own Prometheus registry.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	ops := createOperationMetrics(factory)
	queue := createQueueMetrics(factory)

	return &Registry{
		OperationsTotal: ops.total,
		ErrorsTotal:     ops.errors,
		BytesTotal:      ops.bytes,
		BlockedCallers:  queue.blocked,
		WaitDuration:    queue.wait,
		QueuedMessages:  queue.messages,
		QueuedBytes:     queue.bytes,
		OpenHandles: factory.NewGauge(prometheus.GaugeOpts{
			Name: common.SessionMetric(common.MetricOpenHandles),
			Help: "Number of currently open channel handles",
		}),
		registry: reg,
	}
}

// Gatherer exposes the underlying registry, mainly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// OperationCompleted implements mailslot.Observer.
func (r *Registry) OperationCompleted(_ int, op mailslot.Op, bytes int, err error) {
	r.OperationsTotal.WithLabelValues(string(op), common.Status(err)).Inc()

	if err != nil {
		r.ErrorsTotal.WithLabelValues(string(op), string(mserrors.KindOf(err))).Inc()

		return
	}

	switch op {
	case mailslot.OpPush:
		r.BytesTotal.WithLabelValues(common.DirectionIn).Add(float64(bytes))
	case mailslot.OpPop:
		r.BytesTotal.WithLabelValues(common.DirectionOut).Add(float64(bytes))
	case mailslot.OpConfigure:
	}
}

// WaitChanged implements mailslot.Observer.
func (r *Registry) WaitChanged(channelID int, side mailslot.Side, delta int) {
	r.BlockedCallers.WithLabelValues(strconv.Itoa(channelID), string(side)).Add(float64(delta))
}

// WaitFinished implements mailslot.Observer.
func (r *Registry) WaitFinished(_ int, side mailslot.Side, waited time.Duration) {
	r.WaitDuration.WithLabelValues(string(side)).Observe(waited.Seconds())
}

// QueueChanged implements mailslot.Observer.
func (r *Registry) QueueChanged(channelID int, messages, bytes int) {
	id := strconv.Itoa(channelID)
	r.QueuedMessages.WithLabelValues(id).Set(float64(messages))
	r.QueuedBytes.WithLabelValues(id).Set(float64(bytes))
}

// IncrementOpenHandles records a handle being opened.
func (r *Registry) IncrementOpenHandles() {
	r.OpenHandles.Inc()
}

// DecrementOpenHandles records a handle being closed.
func (r *Registry) DecrementOpenHandles() {
	r.OpenHandles.Dec()
}

// Package metrics defines standardized metric names, labels, and helper functions for mailslot components.
package metrics

const (
	// Namespace for all mailslot metrics.
	Namespace = "mailslot"

	// Subsystems.
	SubsystemChannel = "channel"
	SubsystemSession = "session"
	SubsystemStress  = "stress"

	// Common metric names.
	MetricOperationsTotal     = "operations_total"
	MetricErrorsTotal         = "errors_total"
	MetricBytesTotal          = "bytes_total"
	MetricBlockedCallers      = "blocked_callers"
	MetricWaitDurationSeconds = "wait_duration_seconds"
	MetricQueuedMessages      = "queued_messages"
	MetricQueuedBytes         = "queued_bytes"
	MetricOpenHandles         = "open_handles"
	MetricMessagesVerified    = "messages_verified_total"
	MetricRunDurationSeconds  = "run_duration_seconds"

	// Common labels.
	LabelChannel   = "channel"
	LabelOperation = "operation"
	LabelStatus    = "status"
	LabelKind      = "kind"
	LabelSide      = "side"
	LabelDirection = "direction"

	// Status values.
	StatusSuccess = "success"
	StatusError   = "error"

	// Direction values.
	DirectionIn  = "in"
	DirectionOut = "out"
)

// MetricName generates a fully qualified metric name.
func MetricName(subsystem, metric string) string {
	return Namespace + "_" + subsystem + "_" + metric
}

// ChannelMetric generates a channel-specific metric name.
func ChannelMetric(metric string) string {
	return MetricName(SubsystemChannel, metric)
}

// SessionMetric generates a session-specific metric name.
func SessionMetric(metric string) string {
	return MetricName(SubsystemSession, metric)
}

// Status maps an operation outcome to the status label value.
func Status(err error) string {
	if err != nil {
		return StatusError
	}

	return StatusSuccess
}
